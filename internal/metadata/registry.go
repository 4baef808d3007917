package metadata

import (
	"sort"
	"sync"

	"business-objects/internal/rules"
)

type Registry struct {
	mu       sync.RWMutex
	models   map[string]*Model
	noAccess rules.NoAccessBehavior
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// GetModel returns the model with the given name, or nil.
func (r *Registry) GetModel(name string) *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// AllModels returns all registered models sorted by name.
func (r *Registry) AllModels() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name() < models[j].Name() })
	return models
}

// Load replaces all models in the registry.
// Called during startup and after admin mutations.
func (r *Registry) Load(models []*Model) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models = make(map[string]*Model, len(models))
	for _, m := range models {
		r.models[m.Name()] = m
	}
}

// Put adds or replaces a single model.
func (r *Registry) Put(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[m.Name()] = m
}

// SetNoAccessBehavior sets the behavior given to models loaded afterwards
// that do not declare their own.
func (r *Registry) SetNoAccessBehavior(b rules.NoAccessBehavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noAccess = b
}

func (r *Registry) NoAccessBehavior() rules.NoAccessBehavior {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.noAccess
}
