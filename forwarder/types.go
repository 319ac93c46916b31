package forwarder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/sysfwd/syslog"
)

// Cursor is an opaque, comparable position in the event stream
type Cursor uint64

// Category is the kind of an event log record. Values follow the KL_* message
// codes of the event source.
type Category int

const (
	CategoryUnknown Category = 0
	CategoryMessage Category = 10201
	CategorySuccess Category = 10202
	CategoryNotify  Category = 10203
	CategoryWarning Category = 10204
	CategoryError   Category = 10205
	CategoryDebug   Category = 10206
	CategoryCustom  Category = 10207
)

// Categories lists every recognized category
var Categories = []Category{
	CategoryMessage,
	CategorySuccess,
	CategoryNotify,
	CategoryWarning,
	CategoryError,
	CategoryDebug,
	CategoryCustom,
}

// ParseCategory resolves a configured category name such as "ERROR"
func ParseCategory(name string) (Category, error) {
	switch strings.ToUpper(name) {
	case "MESSAGE":
		return CategoryMessage, nil
	case "SUCCESS":
		return CategorySuccess, nil
	case "NOTIFY":
		return CategoryNotify, nil
	case "WARNING":
		return CategoryWarning, nil
	case "ERROR":
		return CategoryError, nil
	case "DEBUG":
		return CategoryDebug, nil
	case "CUSTOM":
		return CategoryCustom, nil
	}
	return CategoryUnknown, fmt.Errorf("unknown message category %q", name)
}

// Known reports whether c is one of the recognized log categories
func (c Category) Known() bool {
	_, ok := c.Severity()
	return ok
}

// Severity maps a category to its fixed syslog severity
func (c Category) Severity() (syslog.Severity, bool) {
	switch c {
	case CategoryError:
		return syslog.SeverityError, true
	case CategoryWarning:
		return syslog.SeverityWarning, true
	case CategoryMessage, CategoryCustom:
		return syslog.SeverityInfo, true
	case CategorySuccess, CategoryNotify:
		return syslog.SeverityNotice, true
	case CategoryDebug:
		return syslog.SeverityDebug, true
	}
	return 0, false
}

func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategorySuccess:
		return "SUCCESS"
	case CategoryNotify:
		return "NOTIFY"
	case CategoryWarning:
		return "WARNING"
	case CategoryError:
		return "ERROR"
	case CategoryDebug:
		return "DEBUG"
	case CategoryCustom:
		return "CUSTOM"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// FilterField is the record field an exclude filter applies to
type FilterField int

const (
	FieldSender FilterField = iota + 1
	FieldText
)

// ParseFilterField resolves "Sender" or "Text", ignoring case
func ParseFilterField(name string) (FilterField, error) {
	switch strings.ToLower(name) {
	case "sender":
		return FieldSender, nil
	case "text":
		return FieldText, nil
	}
	return 0, fmt.Errorf("unknown filter field %q", name)
}

func (f FilterField) String() string {
	switch f {
	case FieldSender:
		return "Sender"
	case FieldText:
		return "Text"
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// Record is one decoded event from a snapshot. Sender, Text and Timestamp are
// only populated for known categories.
type Record struct {
	OriginID  uint64   // Instance that produced the event
	Position  Cursor   // Stream position of the event
	Category  Category // Kind of event
	Sender    string
	Text      string
	Timestamp int64 // Event time, unix seconds
}

// Snapshot is a batch of raw records fetched since a cursor
type Snapshot struct {
	End     Cursor // End-of-range cursor reported by the source
	Payload []byte // JSON array of raw records
}

// Fetcher is the event source the cycle pulls from
type Fetcher interface {
	// Baseline returns a fresh reference cursor at the current end of the stream
	Baseline(ctx context.Context) (Cursor, error)
	// FetchSince returns the records after cursor. ErrNoSnapshot (or any
	// error) means no usable snapshot was produced.
	FetchSince(ctx context.Context, cursor Cursor) (*Snapshot, error)
}

// StatusReporter receives every status transition
type StatusReporter interface {
	SetStatus(Status)
}

// VariableStore receives the optional timestamp variables
type VariableStore interface {
	SetLastMessage(ts int64)
	SetLastCycle(t time.Time)
}
