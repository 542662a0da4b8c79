package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Document is an arbitrary JSON value kept in its encoded form.
// Numbers are never routed through float64, so values round-trip exactly.
type Document json.RawMessage

// ErrInvalidDocument is returned when bytes are not a valid JSON value.
var ErrInvalidDocument = errors.New("invalid JSON document")

// NewDocument encodes v as a Document.
func NewDocument(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return Document(b), nil
}

// ParseDocument validates raw JSON and returns it as a Document.
func ParseDocument(raw []byte) (Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return nil, ErrInvalidDocument
	}
	return Document(bytes.Clone(trimmed)), nil
}

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(b []byte) error {
	if d == nil {
		return errors.New("model.Document: UnmarshalJSON on nil pointer")
	}
	*d = append((*d)[:0], b...)
	return nil
}

// Decode unmarshals the document into v, keeping numbers as json.Number
// when v holds interface values.
func (d Document) Decode(v any) error {
	dec := json.NewDecoder(bytes.NewReader(d))
	dec.UseNumber()
	return dec.Decode(v)
}

// Compact returns the document without insignificant whitespace.
func (d Document) Compact() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, d); err != nil {
		return string(d)
	}
	return buf.String()
}

// Field returns the string form of a top-level field.
// Strings are returned as-is, every other value as compact JSON.
// The second result is false when the document is not an object
// or the field is absent.
func (d Document) Field(name string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(d, &obj); err != nil {
		return "", false
	}
	raw, ok := obj[name]
	if !ok {
		return "", false
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "null", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return Document(raw).Compact(), true
}

// Contains reports whether the compact form of the document contains
// query, ignoring case.
func (d Document) Contains(query string) bool {
	return strings.Contains(strings.ToLower(d.Compact()), strings.ToLower(query))
}
