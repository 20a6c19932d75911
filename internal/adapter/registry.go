package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// Registry selects a Normalizer by industry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Normalizer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Normalizer)}
}

// NewDefaultRegistry registers the built-in adapters for every industry in v.
// Industries without a dedicated adapter get the generic one.
func NewDefaultRegistry(v *vocab.Vocabulary) *Registry {
	r := NewRegistry()
	for _, ind := range v.Industries {
		switch ind.Name {
		case "manufacturing":
			r.Register(NewManufacturing(ind))
		case "medical":
			r.Register(NewMedical(ind))
		default:
			r.Register(NewGeneric(ind))
		}
	}
	return r
}

// Register adds an adapter to the registry.
// Panics if an adapter for the same industry is already registered.
func (r *Registry) Register(n Normalizer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[n.Industry()]; exists {
		panic(fmt.Sprintf("adapter already registered: %s", n.Industry()))
	}
	r.adapters[n.Industry()] = n
}

// Get returns the adapter for industry.
// Returns false if not found.
func (r *Registry) Get(industry string) (Normalizer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.adapters[industry]
	return n, ok
}

// For returns the adapter for industry, falling back to the generic adapter.
// Returns nil only when neither is registered.
func (r *Registry) For(industry string) Normalizer {
	if n, ok := r.Get(industry); ok {
		return n
	}
	n, _ := r.Get(vocab.Generic)
	return n
}

// Industries returns the registered industries.
// Sorted alphabetically.
func (r *Registry) Industries() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

