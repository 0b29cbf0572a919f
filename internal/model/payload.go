package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the data object of an event. It is kept as raw JSON so that the
// producer's field order and number formatting survive redaction untouched.
type Payload []byte

// NewPayload marshals v, which must encode as a JSON object.
func NewPayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, fmt.Errorf("payload must be a JSON object, got %s", data)
	}
	return Payload(data), nil
}

// MarshalJSON implements json.Marshaler. A nil payload encodes as {}.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("{}"), nil
	}
	return p, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if p == nil {
		return fmt.Errorf("model.Payload: UnmarshalJSON on nil pointer")
	}
	*p = append((*p)[0:0], data...)
	return nil
}

type payloadField struct {
	key   string
	value json.RawMessage
}

// fields decodes the top-level members of the object in document order.
func (p Payload) fields() ([]payloadField, error) {
	if len(bytes.TrimSpace(p)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(p))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("decode payload: not a JSON object")
	}

	var out []payloadField
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode payload key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("decode payload: unexpected token %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode payload field %q: %w", key, err)
		}
		out = append(out, payloadField{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func encodeFields(fields []payloadField) (Payload, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(f.value)
	}
	buf.WriteByte('}')
	return Payload(buf.Bytes()), nil
}

// Get returns the raw value of a top-level field.
func (p Payload) Get(key string) (json.RawMessage, bool) {
	fields, err := p.fields()
	if err != nil {
		return nil, false
	}
	for _, f := range fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// Without returns a copy of p with the given top-level fields removed. The
// receiver is never modified.
func (p Payload) Without(keys ...string) (Payload, error) {
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[k] = struct{}{}
	}
	return p.filter(func(k string) bool {
		_, ok := drop[k]
		return !ok
	})
}

// Only returns a copy of p restricted to the fields in keep.
func (p Payload) Only(keep map[string]struct{}) (Payload, error) {
	return p.filter(func(k string) bool {
		_, ok := keep[k]
		return ok
	})
}

func (p Payload) filter(keep func(string) bool) (Payload, error) {
	fields, err := p.fields()
	if err != nil {
		return nil, err
	}
	kept := fields[:0:0]
	for _, f := range fields {
		if keep(f.key) {
			kept = append(kept, f)
		}
	}
	return encodeFields(kept)
}
