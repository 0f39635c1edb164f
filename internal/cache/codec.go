package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// encode and decode are shared by the remote backends. decode keeps numbers as
// json.Number so that flattened upstream values round-trip unchanged.
func encode[T any](v T) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache encode: %w", err)
	}
	return raw, nil
}

func decode[T any](raw []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("cache decode: %w", err)
	}
	return v, nil
}
