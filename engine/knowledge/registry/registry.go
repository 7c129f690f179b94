package registry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ragforge/ragforge/engine/core"
	"github.com/ragforge/ragforge/engine/knowledge"
	"github.com/ragforge/ragforge/engine/knowledge/source"
)

// Registry is a named collection of knowledge sources. Registration order is
// preserved so composites built from the registry merge results
// deterministically.
type Registry struct {
	mu           sync.RWMutex
	sources      map[string]knowledge.Base
	descriptions map[string]string
	order        []string
}

// New constructs an empty registry.
func New() *Registry {
	return &Registry{
		sources:      make(map[string]knowledge.Base),
		descriptions: make(map[string]string),
	}
}

// Register adds a source under a name. Registering an existing name fails.
func (r *Registry) Register(name string, src knowledge.Base, description string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: registry name is required", core.ErrInvalidArgument)
	}
	if src == nil {
		return fmt.Errorf("%w: registry source %q is nil", core.ErrInvalidArgument, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("%w: knowledge source %q is already registered", core.ErrInvalidState, name)
	}
	r.sources[name] = src
	r.descriptions[name] = description
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a source by name and reports whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; !exists {
		return false
	}
	delete(r.sources, name)
	delete(r.descriptions, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the source registered under name.
func (r *Registry) Lookup(name string) (knowledge.Base, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// Describe returns the description registered under name.
func (r *Registry) Describe(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.sources[name]; !ok {
		return "", false
	}
	return r.descriptions[name], true
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Clear removes every registered source.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = make(map[string]knowledge.Base)
	r.descriptions = make(map[string]string)
	r.order = nil
}

// Composite wraps all currently registered sources, in registration order,
// into a composite knowledge source. Fails when the registry is empty.
func (r *Registry) Composite() (*source.Composite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, fmt.Errorf("%w: no knowledge sources registered", core.ErrInvalidState)
	}
	members := make([]knowledge.Base, 0, len(r.order))
	for _, name := range r.order {
		members = append(members, r.sources[name])
	}
	return source.NewComposite(members...)
}
