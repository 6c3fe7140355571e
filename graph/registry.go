package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/nodegraph-go/graph/data"
)

// Loader registers a set of node types. Loaders are re-run by Reload.
type Loader func(r *Registry) error

// Registration describes one registered node type.
type Registration struct {
	Namespace string
	Group     string
	Type      NodeType

	// DefinitionPath is the file:line of the Register call.
	DefinitionPath string
}

// Registry is the catalog of node types, grouped by namespace.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string][]*Registration
	loaders    []Loader
}

// NewRegistry runs loaders and returns the populated Registry.
func NewRegistry(loaders ...Loader) (*Registry, error) {
	r := &Registry{namespaces: make(map[string][]*Registration), loaders: loaders}
	if err := r.runLoaders(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) runLoaders() error {
	for _, load := range r.loaders {
		if err := load(r); err != nil {
			return fmt.Errorf("load node types: %w", err)
		}
	}
	return nil
}

// Register adds a node type under namespace and display group. The class
// name must be unique within the namespace.
func (r *Registry) Register(namespace, group string, t NodeType) error {
	_, file, line, ok := runtime.Caller(1)
	path := "unknown"
	if ok {
		path = fmt.Sprintf("%s:%d", filepath.ToSlash(file), line)
	}

	def := t.Definition()
	if namespace == "" || def.ClassName == "" {
		return fmt.Errorf("register node: namespace and class name are required")
	}
	if _, ok := t.(SyncNode); !ok && !IsStreaming(t) {
		return fmt.Errorf("register node %s: type implements neither Exec nor ExecStream", def.ClassName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.namespaces[namespace] {
		if existing.Type.Definition().ClassName == def.ClassName {
			return fmt.Errorf("register node: %s.%s already registered at %s", namespace, def.ClassName, existing.DefinitionPath)
		}
	}
	r.namespaces[namespace] = append(r.namespaces[namespace], &Registration{
		Namespace:      namespace,
		Group:          group,
		Type:           t,
		DefinitionPath: path,
	})
	return nil
}

// Reload re-runs the loaders into a fresh catalog and swaps it in. On
// failure the previous catalog stays in place.
func (r *Registry) Reload() error {
	fresh := &Registry{namespaces: make(map[string][]*Registration), loaders: r.loaders}
	if err := fresh.runLoaders(); err != nil {
		return err
	}
	r.mu.Lock()
	r.namespaces = fresh.namespaces
	r.mu.Unlock()
	return nil
}

// Lookup returns the registration of namespace/class.
func (r *Registry) Lookup(namespace, class string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.namespaces[namespace] {
		if reg.Type.Definition().ClassName == class {
			return reg, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s", ErrNodeTypeNotFound, namespace, class)
}

// Namespaces returns the registered namespaces in sorted order.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.namespaces))
	for ns := range r.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Registrations returns the registrations of a namespace in registration
// order.
func (r *Registry) Registrations(namespace string) []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Registration(nil), r.namespaces[namespace]...)
}

// NewNode instantiates namespace/class from its templates with a fresh id.
func (r *Registry) NewNode(namespace, class string) (*Node, error) {
	reg, err := r.Lookup(namespace, class)
	if err != nil {
		return nil, err
	}
	return reg.instantiate(uuid.NewString()), nil
}

func (reg *Registration) instantiate(id string) *Node {
	def := reg.Type.Definition()
	n := &Node{
		ID:             id,
		ClassName:      def.ClassName,
		DisplayName:    def.DisplayName,
		Namespace:      reg.Namespace,
		Group:          reg.Group,
		Description:    def.Description,
		DefinitionPath: reg.DefinitionPath,
		Streaming:      IsStreaming(reg.Type),
		Status:         StatusNotEvaluated,
		Inputs:         def.Inputs,
		Outputs:        def.Outputs,
		impl:           reg.Type,
	}
	if n.DisplayName == "" {
		n.DisplayName = def.ClassName
	}
	for i := range n.Outputs {
		if n.Outputs[i].ID == "" {
			n.Outputs[i].ID = uuid.NewString()
		}
	}
	return n
}

// Catalog reloads the registry and returns, per namespace, the serialized
// default instance of every node type.
func (r *Registry) Catalog(ctx context.Context, s *data.Serializer) (map[string][]json.RawMessage, error) {
	if err := r.Reload(); err != nil {
		return nil, err
	}
	out := make(map[string][]json.RawMessage)
	for _, ns := range r.Namespaces() {
		entries := []json.RawMessage{}
		for _, reg := range r.Registrations(ns) {
			raw, err := EncodeNode(ctx, s, reg.instantiate(uuid.NewString()))
			if err != nil {
				return nil, fmt.Errorf("catalog %s.%s: %w", ns, reg.Type.Definition().ClassName, err)
			}
			entries = append(entries, raw)
		}
		out[ns] = entries
	}
	return out, nil
}
