package graph

import (
	"strconv"
	"strings"

	"github.com/dshills/nodegraph-go/graph/data"
)

// InputField is an input port.
type InputField struct {
	// Label identifies the port for edge matching.
	Label string `json:"label"`

	// UserLabel is the display name.
	UserLabel string `json:"user_label,omitempty"`

	Description string `json:"description,omitempty"`

	// AllowedTypes constrains the payload classes (or kinds) the port
	// accepts. Empty accepts anything.
	AllowedTypes []string `json:"allowed_types"`

	// DefaultGeneratorType names the class a client should create when the
	// user edits an unconnected port.
	DefaultGeneratorType string `json:"default_generator_type,omitempty"`

	DisplayType string `json:"display_type,omitempty"`

	// Data is the current value. It is nil when unset.
	Data data.Payload `json:"-"`

	IsEdgeConnected bool `json:"is_edge_connected"`

	// Metadata holds UI hints (min, max, step, slider, ...).
	Metadata map[string]any `json:"metadata"`
}

// OutputField is an output port.
type OutputField struct {
	ID              string         `json:"id,omitempty"`
	Label           string         `json:"label"`
	UserLabel       string         `json:"user_label,omitempty"`
	Description     string         `json:"description,omitempty"`
	Data            data.Payload   `json:"-"`
	IsEdgeConnected bool           `json:"is_edge_connected"`
	Metadata        map[string]any `json:"metadata"`
}

// In returns an input template.
func In(label string, allowed ...string) InputField {
	return InputField{Label: label, AllowedTypes: allowed, Metadata: map[string]any{}}
}

// Out returns an output template.
func Out(label string) OutputField {
	return OutputField{Label: label, Metadata: map[string]any{}}
}

// WithDefault returns f with a default value. The default generator type
// is set to the value's class.
func (f InputField) WithDefault(p data.Payload) InputField {
	f.Data = p
	if p != nil && f.DefaultGeneratorType == "" {
		f.DefaultGeneratorType = p.ClassName()
	}
	return f
}

// WithMeta returns f with a metadata key set.
func (f InputField) WithMeta(key string, value any) InputField {
	m := make(map[string]any, len(f.Metadata)+1)
	for k, v := range f.Metadata {
		m[k] = v
	}
	m[key] = value
	f.Metadata = m
	return f
}

// handleKey extracts the port selector from an edge handle. Handles have
// the form "node:role:selector"; shorter handles use their last segment.
func handleKey(handle string) string {
	parts := strings.Split(handle, ":")
	if len(parts) >= 3 {
		return parts[2]
	}
	return parts[len(parts)-1]
}

// portMatches reports whether the port at index i with label matches key.
func portMatches(i int, label, key string) bool {
	return strconv.Itoa(i) == key || label == key
}
