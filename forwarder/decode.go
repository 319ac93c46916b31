package forwarder

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// MaxPreviewBytes caps the payload excerpt logged for undecodable snapshots
const MaxPreviewBytes = 7000

var errNullPayload = errors.New("payload is null")

// rawRecord is the wire form shared by every source:
//
//	{"SenderID":12345,"TimeStamp":1700000123,"Message":10205,"Data":["Sender","Text",1700000100]}
type rawRecord struct {
	SenderID  uint64            `json:"SenderID"`
	TimeStamp uint64            `json:"TimeStamp"`
	Message   int               `json:"Message"`
	Data      []json.RawMessage `json:"Data"`
}

// DecodeRecords parses a snapshot payload into records, in payload order.
// Payloads that are not valid UTF-8 are read as Latin-1.
func DecodeRecords(payload []byte) ([]Record, error) {
	normalized, err := NormalizeUTF8(payload)
	if err != nil {
		return nil, &DecodeError{Length: len(payload), Err: err}
	}

	if bytes.Equal(bytes.TrimSpace(normalized), []byte("null")) {
		return nil, &DecodeError{Length: len(payload), Err: errNullPayload}
	}

	var raw []rawRecord
	if err := json.Unmarshal(normalized, &raw); err != nil {
		return nil, &DecodeError{Length: len(payload), Err: err}
	}

	records := make([]Record, 0, len(raw))
	for _, r := range raw {
		rec := Record{
			OriginID: r.SenderID,
			Position: Cursor(r.TimeStamp),
			Category: Category(r.Message),
		}
		if !rec.Category.Known() {
			rec.Category = CategoryUnknown
		} else {
			rec.Sender = dataString(r.Data, 0)
			rec.Text = dataString(r.Data, 1)
			rec.Timestamp = dataInt(r.Data, 2)
		}
		records = append(records, rec)
	}
	return records, nil
}

// NormalizeUTF8 returns b unchanged when it is valid UTF-8, otherwise the
// Latin-1 reading of b
func NormalizeUTF8(b []byte) ([]byte, error) {
	if utf8.Valid(b) {
		return b, nil
	}
	return charmap.ISO8859_1.NewDecoder().Bytes(b)
}

// dataString reads element i as text. Numbers keep their literal form, any
// other kind reads as empty.
func dataString(data []json.RawMessage, i int) string {
	if i >= len(data) {
		return ""
	}
	var s string
	if err := json.Unmarshal(data[i], &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(data[i], &n); err == nil {
		return n.String()
	}
	return ""
}

func dataInt(data []json.RawMessage, i int) int64 {
	if i >= len(data) {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(data[i], &n); err != nil {
		// Some sources quote the timestamp
		var s string
		if err := json.Unmarshal(data[i], &s); err != nil {
			return 0
		}
		n = json.Number(s)
	}
	if v, err := n.Int64(); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
		return int64(f)
	}
	return 0
}

// preview returns at most MaxPreviewBytes of payload without splitting a rune
func preview(payload []byte) string {
	if len(payload) <= MaxPreviewBytes {
		return string(payload)
	}
	cut := MaxPreviewBytes
	for cut > 0 && !utf8.RuneStart(payload[cut]) {
		cut--
	}
	return string(payload[:cut])
}
