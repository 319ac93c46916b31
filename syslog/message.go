package syslog

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// Version is the RFC 5424 protocol version
	Version = "1"

	nilValue = "-"

	// ISO-8601, second precision, numeric offset (+00:00 rather than Z)
	timestampLayout = "2006-01-02T15:04:05-07:00"
)

// Message is one RFC 5424 message. It is built per record and never stored.
type Message struct {
	Facility  Facility
	Severity  Severity
	Timestamp time.Time
	Hostname  string
	Program   string
	MsgID     string
	Text      string
}

// Priority returns facility + severity
func (m Message) Priority() int {
	return Priority(m.Facility, m.Severity)
}

// String renders the wire line:
//
//	<PRI>1 TIMESTAMP HOST PROGRAM - MSGID - TEXT
//
// The text is not escaped. PROCID and STRUCTURED-DATA are always nil values.
func (m Message) String() string {
	var b strings.Builder
	b.Grow(64 + len(m.Hostname) + len(m.Program) + len(m.MsgID) + len(m.Text))

	b.WriteByte('<')
	b.WriteString(strconv.Itoa(m.Priority()))
	b.WriteByte('>')
	b.WriteString(Version)
	b.WriteByte(' ')
	if m.Timestamp.IsZero() {
		b.WriteString(nilValue)
	} else {
		b.WriteString(m.Timestamp.Format(timestampLayout))
	}
	b.WriteByte(' ')
	b.WriteString(orNil(m.Hostname))
	b.WriteByte(' ')
	b.WriteString(orNil(m.Program))
	b.WriteByte(' ')
	b.WriteString(nilValue) // PROCID
	b.WriteByte(' ')
	b.WriteString(orNil(m.MsgID))
	b.WriteByte(' ')
	b.WriteString(nilValue) // STRUCTURED-DATA
	b.WriteByte(' ')
	b.WriteString(m.Text)

	return b.String()
}

// Bytes returns the wire line as a datagram payload
func (m Message) Bytes() []byte {
	return []byte(m.String())
}

// Hostname returns the local host name, or "localhost" if it cannot be resolved
func Hostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "localhost"
	}
	return hostname
}

func orNil(s string) string {
	if s == "" {
		return nilValue
	}
	return s
}
