package data

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NDArray is a dense, row-major n-dimensional array of float64.
type NDArray struct {
	Shape  []int
	Values []float64
}

// Len returns the number of elements implied by the shape.
func (a NDArray) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Array is a numeric array payload. On the wire it is a nested sequence.
type Array struct {
	Base
	NDArray
}

// NewArray returns an Array payload. It fails when len(values) does not
// match the shape.
func NewArray(shape []int, values []float64) (*Array, error) {
	a := NDArray{Shape: append([]int(nil), shape...), Values: values}
	if a.Len() != len(values) {
		return nil, fmt.Errorf("%w: shape %v holds %d values, got %d", ErrWrongType, shape, a.Len(), len(values))
	}
	return &Array{NDArray: a}, nil
}

// NewVector returns a one-dimensional Array payload.
func NewVector(values ...float64) *Array {
	return &Array{NDArray: NDArray{Shape: []int{len(values)}, Values: values}}
}

func (p *Array) ClassName() string { return ClassArray }
func (p *Array) Kind() Kind        { return KindArray }
func (p *Array) Native() any       { return p.NDArray }
func (p *Array) SizeBytes() int    { return 8 * len(p.Values) }

func (p *Array) SetNative(v any) error {
	switch a := v.(type) {
	case NDArray:
		p.NDArray = a
	case *NDArray:
		p.NDArray = *a
	default:
		return fmt.Errorf("%w: %T is not an array", ErrWrongType, v)
	}
	return nil
}

func (p *Array) EncodePayload() (any, error) {
	if len(p.Shape) == 0 {
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("%w: empty scalar array", ErrWrongType)
		}
		return p.Values[0], nil
	}
	nested, _ := nest(p.Shape, p.Values)
	return nested, nil
}

// nest builds the nested sequence for shape from values and returns the
// number of values consumed.
func nest(shape []int, values []float64) (any, int) {
	if len(shape) == 1 {
		out := make([]any, shape[0])
		for i := range out {
			out[i] = values[i]
		}
		return out, shape[0]
	}
	out := make([]any, shape[0])
	used := 0
	for i := range out {
		var n int
		out[i], n = nest(shape[1:], values[used:])
		used += n
	}
	return out, used
}

func (p *Array) DecodePayload(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	a, err := flatten(v)
	if err != nil {
		return err
	}
	p.NDArray = a
	return nil
}

// flatten converts a nested sequence of numbers into an NDArray. The
// sequence must be rectangular.
func flatten(v any) (NDArray, error) {
	var shape []int
	for cur := v; ; {
		list, ok := cur.([]any)
		if !ok {
			break
		}
		shape = append(shape, len(list))
		if len(list) == 0 {
			break
		}
		cur = list[0]
	}
	out := NDArray{Shape: shape}
	if err := collect(v, shape, &out.Values); err != nil {
		return NDArray{}, err
	}
	return out, nil
}

func collect(v any, shape []int, dst *[]float64) error {
	if len(shape) == 0 {
		f, ok := toFloat64(v)
		if !ok {
			return fmt.Errorf("%w: array element %v is not a number", ErrWrongType, v)
		}
		*dst = append(*dst, f)
		return nil
	}
	list, ok := v.([]any)
	if !ok || len(list) != shape[0] {
		return fmt.Errorf("%w: array is not rectangular", ErrMalformed)
	}
	for _, item := range list {
		if err := collect(item, shape[1:], dst); err != nil {
			return err
		}
	}
	return nil
}

func (p *Array) Preview(float64) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "array(shape=%v, [", p.Shape)
	for i, v := range p.Values {
		if i == 6 {
			sb.WriteString(" ...")
			break
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("])")
	return sb.String(), nil
}
