package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Cache is the subset of the large-object cache used by a Serializer.
// Values are stored in their native form together with their discriminator.
type Cache interface {
	Get(ctx context.Context, id string) (class string, value any, ok bool)
	Set(ctx context.Context, id, class string, value any)
}

// Wire is the JSON form of a payload.
//
// For leaf payloads Payload holds the directly representable value, or nil
// when the value was moved to the cache, in which case Preview is set. For a
// List, Payload is a []*Wire; for a Record it is a map of field name to *Wire.
type Wire struct {
	ClassName string         `json:"class_name"`
	DType     Kind           `json:"dtype"`
	ID        string         `json:"id,omitempty"`
	Payload   any            `json:"payload"`
	Preview   *string        `json:"preview,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Cached    *bool          `json:"cached,omitempty"`
	SizeMB    *float64       `json:"size_mb,omitempty"`
}

// inbound mirrors Wire with the payload left undecoded.
type inbound struct {
	ClassName string          `json:"class_name"`
	DType     Kind            `json:"dtype"`
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata"`
}

// Serializer converts payloads to and from their wire form, moving large
// leaf values into a Cache.
type Serializer struct {
	registry   *Registry
	cache      Cache
	defaultMB  float64
	thresholds map[string]float64
}

// SerializerOption configures a Serializer.
type SerializerOption func(*Serializer)

// WithThreshold sets the default caching threshold in megabytes.
func WithThreshold(mb float64) SerializerOption {
	return func(s *Serializer) {
		if mb > 0 {
			s.defaultMB = mb
		}
	}
}

// WithClassThreshold overrides the caching threshold for one class.
func WithClassThreshold(class string, mb float64) SerializerOption {
	return func(s *Serializer) {
		s.thresholds[class] = mb
	}
}

// NewSerializer returns a Serializer. A nil cache disables caching: every
// payload is then emitted in full.
func NewSerializer(reg *Registry, cache Cache, opts ...SerializerOption) *Serializer {
	if reg == nil {
		reg = NewRegistry()
	}
	s := &Serializer{
		registry:   reg,
		cache:      cache,
		defaultMB:  DefaultMaxSizeMB,
		thresholds: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the type registry used for decoding.
func (s *Serializer) Registry() *Registry {
	return s.registry
}

// Threshold returns the caching threshold in megabytes that applies to p.
func (s *Serializer) Threshold(p Payload) float64 {
	if mb := p.Common().MaxSizeMB; mb > 0 {
		return mb
	}
	if mb, ok := s.thresholds[p.ClassName()]; ok && mb > 0 {
		return mb
	}
	return s.defaultMB
}

// Encode returns the wire form of p. A nil payload encodes to nil.
//
// The cached flag is recomputed on every call: a leaf whose estimated size
// is at or above its threshold is stored in the cache and replaced by a
// preview, otherwise it is emitted in full without a preview.
func (s *Serializer) Encode(ctx context.Context, p Payload) (*Wire, error) {
	if p == nil {
		return nil, nil
	}
	b := p.Common()
	w := &Wire{
		ClassName: p.ClassName(),
		DType:     p.Kind(),
		ID:        b.EnsureID(),
		Metadata:  copyMeta(b.Metadata),
	}

	switch v := p.(type) {
	case *List:
		items := make([]*Wire, len(v.Items))
		for i, item := range v.Items {
			iw, err := s.Encode(ctx, item)
			if err != nil {
				return nil, fmt.Errorf("list item %d: %w", i, err)
			}
			items[i] = iw
		}
		w.Payload = items
		return w, nil
	case *Record:
		fields := make(map[string]*Wire, len(v.typ.Fields))
		for _, f := range v.typ.Fields {
			fw, err := s.Encode(ctx, v.fields[f.Name])
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			fields[f.Name] = fw
		}
		w.Payload = fields
		return w, nil
	case Leaf:
		return s.encodeLeaf(ctx, v, w)
	}
	return nil, fmt.Errorf("%w: %T cannot be serialized", ErrWrongType, p)
}

func (s *Serializer) encodeLeaf(ctx context.Context, p Leaf, w *Wire) (*Wire, error) {
	if mp, ok := p.(MetadataProvider); ok {
		for k, v := range mp.DerivedMetadata() {
			if w.Metadata == nil {
				w.Metadata = make(map[string]any)
			}
			w.Metadata[k] = v
		}
	}

	size := SizeMB(p.SizeBytes())
	threshold := s.Threshold(p)
	cached := s.cache != nil && size >= threshold
	rounded := math.Round(size*100) / 100
	w.Cached = &cached
	w.SizeMB = &rounded

	if !cached {
		v, err := p.EncodePayload()
		if err != nil {
			return nil, err
		}
		w.Payload = v
		return w, nil
	}

	s.cache.Set(ctx, w.ID, p.ClassName(), p.Native())
	preview, err := p.Preview(threshold)
	if err != nil {
		return nil, fmt.Errorf("preview %s: %w", p.ClassName(), err)
	}
	w.Preview = &preview
	return w, nil
}

// Marshal encodes p to JSON.
func (s *Serializer) Marshal(ctx context.Context, p Payload) (json.RawMessage, error) {
	w, err := s.Encode(ctx, p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Decode rebuilds a payload from its wire form. JSON null decodes to a nil
// payload.
//
// The concrete type is chosen from the class_name discriminator, or from
// dtype when the discriminator is absent. For leaf values whose id is held
// by the cache, the cached value is reattached and any payload supplied on
// the wire is ignored.
func (s *Serializer) Decode(ctx context.Context, raw json.RawMessage) (Payload, error) {
	if isNull(raw) {
		return nil, nil
	}
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, &DecodeError{Cause: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	class := in.ClassName
	if class == "" {
		c, ok := s.registry.DefaultClass(in.DType)
		if !ok {
			return nil, &DecodeError{Cause: fmt.Errorf("%w: no class_name and unknown dtype %q", ErrUnknownDiscriminator, in.DType)}
		}
		class = c
	}
	p, err := s.registry.New(class)
	if err != nil {
		return nil, &DecodeError{Discriminator: class, Cause: err}
	}
	if in.DType != "" && in.DType != p.Kind() {
		return nil, &DecodeError{Discriminator: class, Cause: fmt.Errorf("%w: dtype %q does not match %s", ErrWrongType, in.DType, p.Kind())}
	}
	b := p.Common()
	b.ID = in.ID
	b.Metadata = in.Metadata

	if err := s.decodeInto(ctx, p, in); err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DecodeError{Discriminator: class, Cause: err}
	}
	return p, nil
}

func (s *Serializer) decodeInto(ctx context.Context, p Payload, in inbound) error {
	switch v := p.(type) {
	case *List:
		if isNull(in.Payload) {
			return nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(in.Payload, &items); err != nil {
			return fmt.Errorf("%w: list payload: %v", ErrMalformed, err)
		}
		v.Items = make([]Payload, len(items))
		for i, raw := range items {
			item, err := s.Decode(ctx, raw)
			if err != nil {
				return &DecodeError{Field: fmt.Sprintf("[%d]", i), Discriminator: ClassList, Cause: err}
			}
			v.Items[i] = item
		}
		return nil
	case *Record:
		if isNull(in.Payload) {
			return nil
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(in.Payload, &fields); err != nil {
			return fmt.Errorf("%w: record payload: %v", ErrMalformed, err)
		}
		for name, raw := range fields {
			fp, err := s.Decode(ctx, raw)
			if err != nil {
				return &DecodeError{Field: name, Discriminator: v.ClassName(), Cause: err}
			}
			if err := v.Set(name, fp); err != nil {
				return &DecodeError{Field: name, Discriminator: v.ClassName(), Cause: err}
			}
		}
		return nil
	case Leaf:
		if in.ID != "" && s.cache != nil {
			if class, value, ok := s.cache.Get(ctx, in.ID); ok && class == v.ClassName() {
				return v.SetNative(value)
			}
		}
		if isNull(in.Payload) {
			return fmt.Errorf("%w: %s", ErrMissingPayload, in.ID)
		}
		return v.DecodePayload(in.Payload)
	}
	return fmt.Errorf("%w: %T cannot be deserialized", ErrWrongType, p)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// CacheCodec converts cached native values to bytes and back so the cache
// can spill them to disk. It uses each class's own wire encoding.
type CacheCodec struct {
	Registry *Registry
}

// Encode returns the wire encoding of value as a payload of class.
func (c CacheCodec) Encode(class string, value any) ([]byte, error) {
	leaf, err := c.leaf(class)
	if err != nil {
		return nil, err
	}
	if err := leaf.SetNative(value); err != nil {
		return nil, err
	}
	v, err := leaf.EncodePayload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// Decode parses bytes produced by Encode back into a native value.
func (c CacheCodec) Decode(class string, b []byte) (any, error) {
	leaf, err := c.leaf(class)
	if err != nil {
		return nil, err
	}
	if err := leaf.DecodePayload(b); err != nil {
		return nil, err
	}
	return leaf.Native(), nil
}

func (c CacheCodec) leaf(class string) (Leaf, error) {
	p, err := c.Registry.New(class)
	if err != nil {
		return nil, err
	}
	leaf, ok := p.(Leaf)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not cacheable", ErrWrongType, class)
	}
	return leaf, nil
}
