package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
)

// Mapper is implemented by every record that feeds a cache key, a content
// hash, or a prompt payload.
type Mapper interface {
	AsMap() map[string]any
}

// StableHasher is implemented by records that carry their own content hash.
type StableHasher interface {
	StableHash() string
}

// StableJSON encodes v with sorted object keys, no insignificant whitespace
// and no HTML escaping. Identical logical values always produce identical bytes.
func StableJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "model: marshal stable json")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, eris.Wrap(err, "model: normalize stable json")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, eris.Wrap(err, "model: encode stable json")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// StableHash returns the first 16 hex characters of the SHA-256 digest of
// v's stable JSON form. Values that cannot be encoded (NaN floats, funcs)
// are hashed from their fmt representation instead, so this never fails.
func StableHash(v any) string {
	data, err := StableJSON(v)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// toMap converts a JSON-tagged record into its plain mapping.
func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
