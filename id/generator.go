package id

import (
	"strconv"
	"sync"
	"time"
)

// Generator provides MSGID tokens for outgoing syslog messages.
type Generator interface {
	Next() string
}

// MsgIDGenerator derives tokens from the wall clock: epoch seconds followed by
// the six-digit microsecond fraction, e.g. "1700000000123456".
// Tokens from one generator strictly increase, so a burst of messages sent
// within the same microsecond still gets distinct ids. Thread-safe.
type MsgIDGenerator struct {
	mu       sync.Mutex
	lastUsec int64
	now      func() time.Time
}

// NewMsgIDGenerator creates a generator backed by time.Now
func NewMsgIDGenerator() *MsgIDGenerator {
	return &MsgIDGenerator{now: time.Now}
}

// Next returns the next token
func (g *MsgIDGenerator) Next() string {
	g.mu.Lock()
	usec := g.now().UnixMicro()
	// Clock did not move (or moved backwards): borrow the next microsecond
	if usec <= g.lastUsec {
		usec = g.lastUsec + 1
	}
	g.lastUsec = usec
	g.mu.Unlock()

	return Format(usec)
}

// Format renders a microsecond epoch value as seconds || zero-padded micros
func Format(usec int64) string {
	sec := usec / 1_000_000
	frac := usec % 1_000_000

	buf := make([]byte, 0, 20)
	buf = strconv.AppendInt(buf, sec, 10)
	fs := strconv.AppendInt(make([]byte, 0, 6), frac, 10)
	for i := len(fs); i < 6; i++ {
		buf = append(buf, '0')
	}
	return string(append(buf, fs...))
}
