package data

import (
	"fmt"
	"sort"
	"sync"
)

// Factory returns a new, empty payload of one concrete type.
type Factory func() Payload

// Registry maps discriminators to factories. It is populated at process
// start and is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	defaults  map[Kind]string
}

// NewRegistry returns a Registry holding the built-in payload types.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		defaults:  make(map[Kind]string),
	}
	r.mustRegister(ClassInt, func() Payload { return &Int{} })
	r.mustRegister(ClassFloat, func() Payload { return &Float{} })
	r.mustRegister(ClassString, func() Payload { return &String{} })
	r.mustRegister(ClassJSON, func() Payload { return &JSON{} })
	r.mustRegister(ClassArray, func() Payload { return &Array{} })
	r.mustRegister(ClassImage, func() Payload { return &Image{} })
	r.mustRegister(ClassList, func() Payload { return &List{} })
	return r
}

func (r *Registry) mustRegister(class string, f Factory) {
	if err := r.Register(class, f); err != nil {
		panic(err)
	}
}

// Register adds a factory under class. The first class registered for a
// kind becomes the default used when a wire value omits its class_name.
func (r *Registry) Register(class string, f Factory) error {
	if class == "" || f == nil {
		return fmt.Errorf("register payload: class name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[class]; exists {
		return fmt.Errorf("register payload: %s already registered", class)
	}
	r.factories[class] = f
	k := f().Kind()
	if _, ok := r.defaults[k]; !ok {
		r.defaults[k] = class
	}
	return nil
}

// RegisterRecord registers a record type under its name.
func (r *Registry) RegisterRecord(t *RecordType) error {
	return r.Register(t.Name, func() Payload {
		rec, _ := t.New(nil)
		return rec
	})
}

// New returns an empty payload for class.
func (r *Registry) New(class string) (Payload, error) {
	r.mu.RLock()
	f, ok := r.factories[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDiscriminator, class)
	}
	return f(), nil
}

// DefaultClass returns the class used for a kind when no discriminator is
// given.
func (r *Registry) DefaultClass(k Kind) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.defaults[k]
	return c, ok
}

// Classes returns the registered discriminators in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for c := range r.factories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
