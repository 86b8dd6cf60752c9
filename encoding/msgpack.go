// Package encoding turns diagnostic values into bytes.
//
// The hot-path encoders (EncodeTimestamp, EncodeText, EncodeValue) write into
// a caller-owned buffer at an offset and return the new offset. They never
// allocate for strings, byte slices or scalars and never fail: oversized
// values are truncated with "..." and values that cannot fit even their
// closing marker are dropped.
//
// Marshal and Unmarshal are the msgpack helpers used for small on-disk
// metadata records. They are safe for concurrent use.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data. Unknown fields are skipped so older
// readers keep working when records gain fields.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
