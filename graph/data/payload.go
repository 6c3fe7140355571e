// Package data provides the typed payloads that flow through node ports.
//
// Every value carried across an edge is a Payload. Leaf payloads (integers,
// floats, strings, JSON documents, numeric arrays and images) know how to
// estimate their in-memory size, encode themselves into a JSON-friendly wire
// form and produce a bounded preview. Composite payloads (List and Record)
// hold other payloads and are serialized element by element.
//
// Serialization is performed by a Serializer, which moves large leaf values
// into the large-object cache and replaces them on the wire with a preview.
// Deserialization reconstructs the exact concrete type from the discriminator
// ("class_name") stored alongside every payload, using a Registry of
// factories populated at process start.
package data

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Kind is the type tag of a payload. It appears on the wire as "dtype".
type Kind string

// Closed set of payload kinds.
const (
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindString Kind = "string"
	KindJSON   Kind = "json"
	KindArray  Kind = "array"
	KindImage  Kind = "image"
	KindRecord Kind = "object"
	KindList   Kind = "list"
)

// Discriminators of the built-in payload types.
const (
	ClassInt    = "IntData"
	ClassFloat  = "FloatData"
	ClassString = "StringData"
	ClassJSON   = "JSONData"
	ClassArray  = "ArrayData"
	ClassImage  = "ImageData"
	ClassList   = "ListData"
)

// DefaultMaxSizeMB is the class-level size threshold at or above which a leaf
// payload is moved into the large-object cache when serialized.
const DefaultMaxSizeMB = 0.1

// Payload is the common interface of every value carried by a port.
type Payload interface {
	// ClassName returns the discriminator used to rebuild the concrete type.
	ClassName() string

	// Kind returns the type tag.
	Kind() Kind

	// Common returns the shared attributes (id, metadata, threshold override).
	Common() *Base
}

// Leaf is a payload holding a single native value that may be cached.
type Leaf interface {
	Payload

	// Native returns the in-memory value stored in the cache.
	Native() any

	// SetNative replaces the in-memory value, typically with a value
	// reattached from the cache.
	SetNative(v any) error

	// SizeBytes estimates the in-memory footprint of the value.
	SizeBytes() int

	// EncodePayload returns the directly representable wire form.
	EncodePayload() (any, error)

	// DecodePayload parses the wire form produced by EncodePayload (or by a
	// caller) into the native value.
	DecodePayload(raw json.RawMessage) error

	// Preview returns a bounded representation used when the value is cached.
	// maxMB is the threshold that triggered caching.
	Preview(maxMB float64) (string, error)
}

// MetadataProvider is implemented by payloads that derive metadata from their
// value (image dimensions for example). The derived keys are merged into the
// wire metadata on every serialization.
type MetadataProvider interface {
	DerivedMetadata() map[string]any
}

// Base holds the attributes shared by all payloads. It is embedded by value in
// every concrete payload type.
type Base struct {
	// ID identifies the payload in the large-object cache. It is generated
	// lazily the first time it is needed.
	ID string

	// Metadata is an open key/value map (dimensions, filenames, ...).
	Metadata map[string]any

	// MaxSizeMB overrides the class-level caching threshold when > 0.
	MaxSizeMB float64
}

// Common returns b. It satisfies Payload for every embedding type.
func (b *Base) Common() *Base {
	return b
}

// EnsureID returns the payload id, generating one if it is empty.
func (b *Base) EnsureID() string {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return b.ID
}

// SetMeta sets a metadata key, allocating the map when needed.
func (b *Base) SetMeta(key string, value any) {
	if b.Metadata == nil {
		b.Metadata = make(map[string]any)
	}
	b.Metadata[key] = value
}

// SizeMB converts a byte estimate to megabytes.
func SizeMB(bytes int) float64 {
	return float64(bytes) / 1024 / 1024
}

// KindOf returns the kind of p, or "" for a nil payload.
func KindOf(p Payload) Kind {
	if p == nil {
		return ""
	}
	return p.Kind()
}

// copyMeta returns a shallow copy of m.
func copyMeta(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
