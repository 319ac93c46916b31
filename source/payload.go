package source

import (
	"bytes"
	"encoding/json"

	"github.com/maxpert/sysfwd/forwarder"
)

// WireRecord is the record form every source emits
type WireRecord struct {
	SenderID  uint64 `json:"SenderID"`
	TimeStamp uint64 `json:"TimeStamp"`
	Message   int    `json:"Message"`
	Data      []any  `json:"Data"`
}

// NewWireRecord builds a log record at position
func NewWireRecord(position, senderID uint64, category forwarder.Category, sender, text string, tstamp int64) WireRecord {
	return WireRecord{
		SenderID:  senderID,
		TimeStamp: position,
		Message:   int(category),
		Data:      []any{sender, text, tstamp},
	}
}

// joinRecords concatenates per-message JSON records into one array.
// Empty values (tombstones) are dropped; anything else is passed through
// untouched so malformed records surface as a decode failure.
func joinRecords(values [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	first := true
	for _, v := range values {
		v = bytes.TrimSpace(v)
		if len(v) == 0 {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		buf.Write(v)
		first = false
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func marshalRecords(records []WireRecord) ([]byte, error) {
	if records == nil {
		records = []WireRecord{}
	}
	return json.Marshal(records)
}
