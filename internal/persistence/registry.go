package persistence

import (
	"sort"
	"sync"

	"github.com/zeebo/errs"
)

// Registry holds the factories a process can select from. Exactly one
// default factory is always present.
type Registry struct {
	mu        sync.RWMutex
	def       Factory
	factories map[string]Factory
}

// NewRegistry returns a registry containing def.
func NewRegistry(def Factory) *Registry {
	return &Registry{
		def:       def,
		factories: map[string]Factory{def.ID(): def},
	}
}

// Register adds f. Registering an id twice is a fatal configuration error.
func (r *Registry) Register(f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[f.ID()]; dup {
		return ErrDuplicateRegistration.New("factory %q already registered", f.ID())
	}
	r.factories[f.ID()] = f
	return nil
}

// Lookup returns the factory registered under id.
func (r *Registry) Lookup(id string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[id]
	if !ok {
		return nil, ErrUnknownFactory.New("%q", id)
	}
	return f, nil
}

// Default returns the default factory.
func (r *Registry) Default() Factory { return r.def }

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idsLocked()
}

// Close closes every registered factory.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var group errs.Group
	for _, id := range r.idsLocked() {
		group.Add(r.factories[id].Close())
	}
	return group.Err()
}

func (r *Registry) idsLocked() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
