package syslog

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrSocketCreate means no datagram socket could be opened for the destination
	ErrSocketCreate = errors.New("unable to create socket")
	// ErrPartialWrite means the datagram was not written in full
	ErrPartialWrite = errors.New("partial write")
)

// Transmitter sends one formatted message to a destination
type Transmitter interface {
	Send(host string, port int, payload []byte) error
}

// UDPTransmitter sends each payload as a single UDP datagram on a fresh socket
type UDPTransmitter struct {
	dial func(network, address string) (net.Conn, error)
}

// NewUDPTransmitter creates a transmitter using OS default socket settings
func NewUDPTransmitter() *UDPTransmitter {
	return &UDPTransmitter{dial: net.Dial}
}

// Send opens a socket, writes the payload once and closes the socket
func (t *UDPTransmitter) Send(host string, port int, payload []byte) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	conn, err := t.dial("udp", addr)
	if err != nil {
		return fmt.Errorf("%w (%s): %v", ErrSocketCreate, addr, err)
	}
	defer conn.Close()

	n, err := conn.Write(payload)
	if err != nil {
		return fmt.Errorf("failed to send datagram to %s: %w", addr, err)
	}
	if n != len(payload) {
		return fmt.Errorf("%w to %s: %d of %d bytes", ErrPartialWrite, addr, n, len(payload))
	}

	return nil
}
