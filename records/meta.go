package records

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MetaEntry is one multi-valued meta attribute of a record.
type MetaEntry struct {
	Key    string
	Values []string
}

// Meta is an ordered sequence of multi-valued attributes. It round-trips
// through JSON as an object of string arrays with the key order preserved.
// Both the key order and the order of the values within a key are
// significant: collectors rely on "first match wins" when resolving sites
// from meta lists, so a plain map does not cut it here.
type Meta []MetaEntry

// Get returns the values for a key, or nil if the key is absent.
func (m Meta) Get(key string) []string {
	for _, e := range m {
		if e.Key == key {
			return e.Values
		}
	}
	return nil
}

// Has reports whether the key is present, even with an empty value list.
func (m Meta) Has(key string) bool {
	for _, e := range m {
		if e.Key == key {
			return true
		}
	}
	return false
}

// Set replaces the values for a key, or appends a new entry at the end.
func (m *Meta) Set(key string, values []string) {
	for i, e := range *m {
		if e.Key == key {
			(*m)[i].Values = values
			return
		}
	}
	*m = append(*m, MetaEntry{Key: key, Values: values})
}

// MarshalJSON encodes the meta as a JSON object, keeping the entry order.
func (m Meta) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		vals := e.Values
		if vals == nil {
			vals = []string{}
		}
		v, err := json.Marshal(vals)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of string arrays. It walks the tokens
// instead of using a map, because encoding/json maps lose the key order.
func (m *Meta) UnmarshalJSON(data []byte) error {
	*m = nil
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil // JSON null, leave meta empty
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("meta: expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("meta: expected string key, got %v", keyTok)
		}
		var values []string
		if err := dec.Decode(&values); err != nil {
			return fmt.Errorf("meta %q: %v", key, err)
		}
		*m = append(*m, MetaEntry{Key: key, Values: values})
	}

	// Closing '}'
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
