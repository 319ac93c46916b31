// Package encoding is the single place journal values are serialized.
// Keeping every msgpack call here means the on-disk format only changes in
// one spot.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
//
// Event text is stored as msgpack str. When decoding into interface{},
// str and bin both come back as Go strings, so ad-hoc inspection of a
// journal value sees text rather than byte slices.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Marshal encodes a value to msgpack format. Struct fields without a msgpack
// tag keep their Go name.
func Marshal(v any) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	enc := msgpack.NewEncoder(buf)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data into v using loose interface decoding
func Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
