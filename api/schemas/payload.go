// File: api/schemas/payload.go
package schemas

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// FieldKey is a semantic identifier from the payload. It is not guaranteed
// to match any identifier on the target page.
type FieldKey string

// ValueKind discriminates the primitive held by a FieldValue.
type ValueKind int

const (
	KindInvalid ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return "invalid"
	}
}

// ErrMalformedPayload is returned when a payload is not a flat object of primitives.
var ErrMalformedPayload = errors.New("malformed payload")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FieldValue holds exactly one of string, number or boolean.
type FieldValue struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
}

func StringValue(s string) FieldValue  { return FieldValue{kind: KindString, str: s} }
func NumberValue(f float64) FieldValue { return FieldValue{kind: KindNumber, num: f} }
func BoolValue(b bool) FieldValue      { return FieldValue{kind: KindBool, b: b} }

// Kind reports which primitive the value carries.
func (v FieldValue) Kind() ValueKind { return v.kind }

// IsZero reports whether the value was never set.
func (v FieldValue) IsZero() bool { return v.kind == KindInvalid }

// String renders the value the way it would be typed into a text input.
// Integral numbers drop their fractional part.
func (v FieldValue) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// truthy string forms accepted for checkboxes; Dutch forms use ja/j.
var truthy = map[string]bool{
	"true": true, "1": true, "yes": true, "y": true, "on": true,
	"ja": true, "j": true, "checked": true,
}

// Bool interprets the value as the desired checked state of a checkbox.
func (v FieldValue) Bool() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.num != 0
	case KindString:
		return truthy[strings.ToLower(strings.TrimSpace(v.str))]
	default:
		return false
	}
}

// MarshalJSON encodes the underlying primitive.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a string, number or boolean. Anything else is rejected.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)
	val, err := readValue(iter)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

// MarshalYAML renders the primitive for report output.
func (v FieldValue) MarshalYAML() (interface{}, error) {
	switch v.kind {
	case KindString:
		return v.str, nil
	case KindNumber:
		return v.num, nil
	case KindBool:
		return v.b, nil
	default:
		return nil, nil
	}
}

func readValue(iter *jsoniter.Iterator) (FieldValue, error) {
	switch next := iter.WhatIsNext(); next {
	case jsoniter.StringValue:
		return StringValue(iter.ReadString()), iterErr(iter)
	case jsoniter.NumberValue:
		return NumberValue(iter.ReadFloat64()), iterErr(iter)
	case jsoniter.BoolValue:
		return BoolValue(iter.ReadBool()), iterErr(iter)
	case jsoniter.NilValue:
		return FieldValue{}, fmt.Errorf("%w: null values are not accepted", ErrMalformedPayload)
	case jsoniter.ArrayValue:
		return FieldValue{}, fmt.Errorf("%w: arrays are not accepted", ErrMalformedPayload)
	case jsoniter.ObjectValue:
		return FieldValue{}, fmt.Errorf("%w: nested objects are not accepted", ErrMalformedPayload)
	default:
		return FieldValue{}, fmt.Errorf("%w: unexpected token", ErrMalformedPayload)
	}
}

func iterErr(iter *jsoniter.Iterator) error {
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, iter.Error)
	}
	return nil
}

// Entry is one key/value pair of a Payload.
type Entry struct {
	Key   FieldKey   `json:"key" yaml:"key"`
	Value FieldValue `json:"value" yaml:"value"`
}

// Payload is a flat key/value mapping that remembers insertion order.
// Fields are filled in this order.
type Payload struct {
	entries []Entry
	index   map[FieldKey]int
}

// NewPayload builds a payload from entries. Later duplicates overwrite the
// value but keep the first position.
func NewPayload(entries ...Entry) *Payload {
	p := &Payload{index: make(map[FieldKey]int, len(entries))}
	for _, e := range entries {
		p.Set(e.Key, e.Value)
	}
	return p
}

// Set inserts or replaces the value for key.
func (p *Payload) Set(key FieldKey, value FieldValue) {
	if p.index == nil {
		p.index = make(map[FieldKey]int)
	}
	if i, ok := p.index[key]; ok {
		p.entries[i].Value = value
		return
	}
	p.index[key] = len(p.entries)
	p.entries = append(p.entries, Entry{Key: key, Value: value})
}

// Get returns the value stored for key.
func (p *Payload) Get(key FieldKey) (FieldValue, bool) {
	if p == nil {
		return FieldValue{}, false
	}
	i, ok := p.index[key]
	if !ok {
		return FieldValue{}, false
	}
	return p.entries[i].Value, true
}

// Len returns the number of keys.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Keys returns the keys in payload order.
func (p *Payload) Keys() []FieldKey {
	if p == nil {
		return nil
	}
	keys := make([]FieldKey, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.Key
	}
	return keys
}

// Entries returns a copy of the entries in payload order.
func (p *Payload) Entries() []Entry {
	if p == nil {
		return nil
	}
	return append([]Entry(nil), p.entries...)
}

// MarshalJSON writes the payload back as an object, preserving order.
func (p *Payload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range p.Entries() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(string(e.Key))
		if err != nil {
			return nil, err
		}
		v, err := e.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a flat JSON object, keeping document order.
func (p *Payload) UnmarshalJSON(data []byte) error {
	parsed, err := ParsePayload(data)
	if err != nil {
		return err
	}
	*p = *parsed
	return nil
}

// ParsePayload decodes a flat JSON object of primitives. Arrays, nested
// objects, null values and empty keys make the whole payload malformed.
func ParsePayload(data []byte) (*Payload, error) {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)

	if iter.WhatIsNext() != jsoniter.ObjectValue {
		return nil, fmt.Errorf("%w: top level must be an object", ErrMalformedPayload)
	}

	p := NewPayload()
	var decodeErr error
	iter.ReadObjectCB(func(it *jsoniter.Iterator, field string) bool {
		if strings.TrimSpace(field) == "" {
			decodeErr = fmt.Errorf("%w: empty key", ErrMalformedPayload)
			return false
		}
		val, err := readValue(it)
		if err != nil {
			decodeErr = fmt.Errorf("key %q: %w", field, err)
			return false
		}
		p.Set(FieldKey(field), val)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	// A complete object never reads past its closing brace, so even io.EOF
	// means the document was cut short.
	if iter.Error != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, iter.Error)
	}
	return p, nil
}
