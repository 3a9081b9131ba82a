package patch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a fresh operation. Kinds holding nested operations decode them through r.
type Factory func(r *Registry) Operation

// Registry is a threadsafe mapping from operation kind to factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var (
	// ErrKindExists indicates a duplicate registration attempt.
	ErrKindExists = errors.New("operation kind already registered")
	// ErrUnknownKind is returned for a kind nothing registered.
	ErrUnknownKind = errors.New("unknown operation kind")
)

// Register adds a kind. Returns ErrKindExists when the kind is already taken.
func (r *Registry) Register(kind string, f Factory) error {
	if f == nil {
		return errors.New("operation factory is nil")
	}
	if kind == "" {
		return errors.New("operation kind is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("%w: %s", ErrKindExists, kind)
	}
	r.factories[kind] = f
	return nil
}

// New returns a fresh operation of the given kind with default field values.
func (r *Registry) New(kind string) (Operation, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(r), nil
}

// Descriptor captures a registered kind and its field layout.
type Descriptor struct {
	Kind   string
	Fields []Field
}

// List returns descriptors for registered kinds sorted by kind.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.factories))
	for kind, f := range r.factories {
		out = append(out, Descriptor{Kind: kind, Fields: f(r).Fields()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Kinds returns the registered kind names in sorted order.
func (r *Registry) Kinds() []string {
	descs := r.List()
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Kind
	}
	return out
}

// Instances returns one fresh operation per registered kind, sorted by kind.
func (r *Registry) Instances() []Operation {
	kinds := r.Kinds()
	out := make([]Operation, 0, len(kinds))
	for _, k := range kinds {
		if op, err := r.New(k); err == nil {
			out = append(out, op)
		}
	}
	return out
}

// DefaultRegistry is pre-populated with the stock operation kinds.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *Registry {
	reg := NewRegistry()
	registerDefaultKinds(reg)
	return reg
}

// registerDefaultKinds wires the stock kinds onto the provided registry.
func registerDefaultKinds(reg *Registry) {
	// ignore duplicate errors to allow idempotent init in tests
	_ = reg.Register(KindAdd, func(*Registry) Operation { return NewAdd() })
	_ = reg.Register(KindInsert, func(*Registry) Operation { return NewInsert() })
	_ = reg.Register(KindRemove, func(*Registry) Operation { return NewRemove() })
	_ = reg.Register(KindReplace, func(*Registry) Operation { return NewReplace() })
	_ = reg.Register(KindAttributeAdd, func(*Registry) Operation { return NewAttributeAdd() })
	_ = reg.Register(KindAttributeSet, func(*Registry) Operation { return NewAttributeSet() })
	_ = reg.Register(KindAttributeRemove, func(*Registry) Operation { return NewAttributeRemove() })
	_ = reg.Register(KindSetName, func(*Registry) Operation { return NewSetName() })
	_ = reg.Register(KindTest, func(*Registry) Operation { return NewTest() })
	_ = reg.Register(KindConditional, func(r *Registry) Operation { return NewConditional(r) })
	_ = reg.Register(KindSequence, func(r *Registry) Operation { return NewSequence(r) })
}

// RegisterDefaults adds the stock kinds to reg, skipping any already present.
func RegisterDefaults(reg *Registry) {
	registerDefaultKinds(reg)
}
