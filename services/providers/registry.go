package providers

import (
	"errors"
	"sort"
	"sync"

	"github.com/opswatch/llm-orchestrator/models"
)

var (
	// ErrProviderNotFound is returned when a provider is not registered
	ErrProviderNotFound = errors.New("provider not found")

	// ErrEmptyRegistry is returned when a load would leave no providers
	ErrEmptyRegistry = errors.New("registry must hold at least one provider")
)

// Registered pairs a provider instance with the spec it was built from
type Registered struct {
	Spec     models.ProviderSpec
	Provider Provider
}

// Registry holds the active provider set in priority order. A reload swaps
// the whole set atomically; readers never observe a partial update and old
// specs are discarded rather than mutated.
type Registry struct {
	mu      sync.RWMutex
	ordered []Registered
	byName  map[string]Registered
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Registered),
	}
}

// Load validates entries and swaps them in as the active set, replacing
// whatever was registered before. Entries are ordered by ascending priority.
func (r *Registry) Load(entries []Registered) error {
	if len(entries) == 0 {
		return ErrEmptyRegistry
	}

	specs := make([]models.ProviderSpec, len(entries))
	for i, e := range entries {
		if e.Provider == nil {
			return errors.New("registry entry has nil provider")
		}
		specs[i] = e.Spec
	}
	if err := models.ValidateSpecSet(specs); err != nil {
		return err
	}

	ordered := make([]Registered, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Spec.Priority < ordered[j].Spec.Priority
	})

	byName := make(map[string]Registered, len(ordered))
	for _, e := range ordered {
		byName[e.Spec.Name] = e
	}

	r.mu.Lock()
	r.ordered = ordered
	r.byName = byName
	r.mu.Unlock()

	return nil
}

// Get retrieves a registered provider by name
func (r *Registry) Get(name string) (Registered, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byName[name]
	if !ok {
		return Registered{}, ErrProviderNotFound
	}
	return entry, nil
}

// All returns the active set in priority order. The slice is a copy; the
// caller may iterate it while a reload swaps the registry underneath.
func (r *Registry) All() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registered, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Names returns provider names in priority order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.ordered))
	for i, e := range r.ordered {
		names[i] = e.Spec.Name
	}
	return names
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.ordered)
}
