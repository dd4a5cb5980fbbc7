package modubot

import (
	"slices"
	"sync"
)

// ModuleRegistry holds published module records keyed by name, in publish
// order. Records are never mutated after they are added.
type ModuleRegistry struct {
	mu      sync.RWMutex
	records map[string]*ModuleRecord
	order   []string
}

func newModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{records: make(map[string]*ModuleRecord)}
}

func (r *ModuleRegistry) add(record *ModuleRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.Name]; !exists {
		r.order = append(r.order, record.Name)
	}
	r.records[record.Name] = record
}

func (r *ModuleRegistry) remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; !exists {
		return false
	}
	delete(r.records, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	return true
}

// Has reports whether name is published.
func (r *ModuleRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[name]
	return ok
}

// Get returns a copy of the record published under name.
func (r *ModuleRegistry) Get(name string) (ModuleRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[name]
	if !ok {
		return ModuleRecord{}, false
	}
	return *record, true
}

// List returns published module names in publish order.
func (r *ModuleRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of published modules.
func (r *ModuleRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
