package core

import (
	"bytes"
	"encoding/json"
)

// DecodeJSON decodes data into v and rejects unknown fields, so a typo in a
// submitted operation fails instead of silently defaulting.
func DecodeJSON(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
