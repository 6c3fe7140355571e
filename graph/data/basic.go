package data

import (
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"
)

// previewChars is the length of a textual preview before truncation.
const previewChars = 50

// textPreview renders v and truncates it to previewChars runes.
func textPreview(v any) string {
	s := fmt.Sprintf("%v", v)
	if utf8.RuneCountInString(s) > previewChars {
		s = string([]rune(s)[:previewChars])
	}
	return s + "..."
}

// Int is an integer payload.
type Int struct {
	Base
	Value int64
}

// NewInt returns an Int payload.
func NewInt(v int64) *Int {
	return &Int{Value: v}
}

func (p *Int) ClassName() string { return ClassInt }
func (p *Int) Kind() Kind        { return KindInt }
func (p *Int) Native() any       { return p.Value }
func (p *Int) SizeBytes() int    { return 8 }

func (p *Int) SetNative(v any) error {
	n, ok := toInt64(v)
	if !ok {
		return fmt.Errorf("%w: %T is not an integer", ErrWrongType, v)
	}
	p.Value = n
	return nil
}

func (p *Int) EncodePayload() (any, error) { return p.Value, nil }

func (p *Int) DecodePayload(raw json.RawMessage) error {
	var f json.Number
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if n, err := f.Int64(); err == nil {
		p.Value = n
		return nil
	}
	v, err := f.Float64()
	if err != nil || !isInt64(v) {
		return fmt.Errorf("%w: %s is not an int64", ErrWrongType, f)
	}
	p.Value = int64(v)
	return nil
}

func (p *Int) Preview(float64) (string, error) { return textPreview(p.Value), nil }

// Float is a floating point payload.
type Float struct {
	Base
	Value float64
}

// NewFloat returns a Float payload.
func NewFloat(v float64) *Float {
	return &Float{Value: v}
}

func (p *Float) ClassName() string { return ClassFloat }
func (p *Float) Kind() Kind        { return KindFloat }
func (p *Float) Native() any       { return p.Value }
func (p *Float) SizeBytes() int    { return 8 }

func (p *Float) SetNative(v any) error {
	f, ok := toFloat64(v)
	if !ok {
		return fmt.Errorf("%w: %T is not a number", ErrWrongType, v)
	}
	p.Value = f
	return nil
}

func (p *Float) EncodePayload() (any, error) {
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return nil, fmt.Errorf("%w: %v cannot be encoded as JSON", ErrWrongType, p.Value)
	}
	return p.Value, nil
}

func (p *Float) DecodePayload(raw json.RawMessage) error {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.Value = f
	return nil
}

func (p *Float) Preview(float64) (string, error) { return textPreview(p.Value), nil }

// String is a text payload.
type String struct {
	Base
	Value string
}

// NewString returns a String payload.
func NewString(v string) *String {
	return &String{Value: v}
}

func (p *String) ClassName() string { return ClassString }
func (p *String) Kind() Kind        { return KindString }
func (p *String) Native() any       { return p.Value }
func (p *String) SizeBytes() int    { return len(p.Value) }

func (p *String) SetNative(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("%w: %T is not a string", ErrWrongType, v)
	}
	p.Value = s
	return nil
}

func (p *String) EncodePayload() (any, error) { return p.Value, nil }

func (p *String) DecodePayload(raw json.RawMessage) error {
	if err := json.Unmarshal(raw, &p.Value); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func (p *String) Preview(float64) (string, error) { return textPreview(p.Value), nil }

// JSON is a payload holding an arbitrary JSON document.
type JSON struct {
	Base
	Value any
}

// NewJSON returns a JSON payload.
func NewJSON(v any) *JSON {
	return &JSON{Value: v}
}

func (p *JSON) ClassName() string { return ClassJSON }
func (p *JSON) Kind() Kind        { return KindJSON }
func (p *JSON) Native() any       { return p.Value }

func (p *JSON) SizeBytes() int {
	b, err := json.Marshal(p.Value)
	if err != nil {
		return 0
	}
	return len(b)
}

func (p *JSON) SetNative(v any) error {
	p.Value = v
	return nil
}

func (p *JSON) EncodePayload() (any, error) { return p.Value, nil }

func (p *JSON) DecodePayload(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.Value = v
	return nil
}

func (p *JSON) Preview(float64) (string, error) {
	b, err := json.Marshal(p.Value)
	if err != nil {
		return "", err
	}
	return textPreview(string(b)), nil
}

// Number returns the numeric value of an Int or Float payload.
func Number(p Payload) (float64, bool) {
	switch v := p.(type) {
	case *Int:
		return float64(v.Value), true
	case *Float:
		return v.Value, true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if isInt64(n) {
			return int64(n), true
		}
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// isInt64 reports whether f is integral and converts to int64 without
// overflow. 1<<63 itself is out of range.
func isInt64(f float64) bool {
	return f == math.Trunc(f) && f >= -(1<<63) && f < 1<<63
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
