// Package vecbytes encodes and decodes float32 embedding vectors to the
// little-endian byte layout used for BLOB columns and HNSW snapshot storage.
package vecbytes

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidVector is returned when vector bytes are malformed or a vector is nil.
var ErrInvalidVector = errors.New("vecbytes: invalid vector")

// Encode converts a float32 vector into its little-endian byte representation,
// prefixed with a 4-byte element count.
func Encode(vec []float32) ([]byte, error) {
	if vec == nil {
		return nil, ErrInvalidVector
	}
	if len(vec) > 1<<31-1 {
		return nil, fmt.Errorf("vecbytes: vector too large: %d elements", len(vec))
	}

	buf := new(bytes.Buffer)
	buf.Grow(4 + len(vec)*4)
	if err := binary.Write(buf, binary.LittleEndian, int32(len(vec))); err != nil {
		return nil, fmt.Errorf("vecbytes: encode length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil, fmt.Errorf("vecbytes: encode values: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	r := bytes.NewReader(data)
	var length int32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("vecbytes: decode length: %w", err)
	}
	if length < 0 || int(length)*4 != r.Len() {
		return nil, ErrInvalidVector
	}

	vec := make([]float32, length)
	if err := binary.Read(r, binary.LittleEndian, &vec); err != nil {
		return nil, fmt.Errorf("vecbytes: decode values: %w", err)
	}
	return vec, nil
}

// Dimension reports the vector length encoded in data without fully decoding it.
func Dimension(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, ErrInvalidVector
	}
	var length int32
	if err := binary.Read(bytes.NewReader(data[:4]), binary.LittleEndian, &length); err != nil {
		return 0, err
	}
	return int(length), nil
}
