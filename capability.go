package modubot

import (
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/golobby/cast"
)

// MetricsNamespace holds the Prometheus collectors modules publish for the
// admin metrics endpoint.
const MetricsNamespace = "metrics"

// CapabilityKey identifies a capability entry.
type CapabilityKey struct {
	Namespace string
	Key       string
}

type capabilityEntry struct {
	value     any
	owner     string
	updatedAt time.Time
}

// CapabilityReader is the read side of the capability registry.
type CapabilityReader interface {
	Lookup(namespace, key string) (any, bool)
}

// CapabilityRegistry is a process-wide namespace/key store used by modules to
// exchange settings, flags and shared objects without importing each other.
//
// Writes are last-write-wins. There are no multi-key transactions and no
// change notifications; readers rely on the phase ordering of the host.
type CapabilityRegistry struct {
	mu        sync.RWMutex
	entries   map[string]map[string]capabilityEntry
	onPublish func(owner string, key CapabilityKey)
}

// NewCapabilityRegistry creates an empty registry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{
		entries: make(map[string]map[string]capabilityEntry),
	}
}

// Publish stores value under (namespace, key), replacing any previous value.
// Entries published here have no owner and survive module unloads.
func (r *CapabilityRegistry) Publish(namespace, key string, value any) {
	r.publish("", namespace, key, value)
}

func (r *CapabilityRegistry) publish(owner, namespace, key string, value any) {
	r.mu.Lock()
	ns, ok := r.entries[namespace]
	if !ok {
		ns = make(map[string]capabilityEntry)
		r.entries[namespace] = ns
	}
	ns[key] = capabilityEntry{value: value, owner: owner, updatedAt: time.Now()}
	notify := r.onPublish
	r.mu.Unlock()

	if notify != nil {
		notify(owner, CapabilityKey{Namespace: namespace, Key: key})
	}
}

// Lookup returns the current value for (namespace, key).
func (r *CapabilityRegistry) Lookup(namespace, key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[namespace][key]
	if !ok {
		return nil, false
	}
	return entry.value, true
}

// LookupString returns the value when it is a string.
func (r *CapabilityRegistry) LookupString(namespace, key string) (string, bool) {
	value, ok := r.Lookup(namespace, key)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// LookupBool interprets the value as a boolean flag. String values such as
// "True" or "false" are converted; anything else reports false, false.
func (r *CapabilityRegistry) LookupBool(namespace, key string) (bool, bool) {
	value, ok := r.Lookup(namespace, key)
	if !ok {
		return false, false
	}
	return toBool(value)
}

func toBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		converted, err := cast.FromType(v, reflect.TypeOf(false))
		if err != nil {
			return false, false
		}
		b, ok := converted.(bool)
		return b, ok
	default:
		return false, false
	}
}

// Namespace returns a snapshot of every entry in namespace.
func (r *CapabilityRegistry) Namespace(namespace string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]any, len(r.entries[namespace]))
	for key, entry := range r.entries[namespace] {
		out[key] = entry.value
	}
	return out
}

// Namespaces returns the sorted list of non-empty namespaces.
func (r *CapabilityRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for ns, entries := range r.entries {
		if len(entries) > 0 {
			out = append(out, ns)
		}
	}
	slices.Sort(out)
	return out
}

// OwnedBy lists the entries whose last writer was owner.
func (r *CapabilityRegistry) OwnedBy(owner string) []CapabilityKey {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []CapabilityKey
	for ns, entries := range r.entries {
		for key, entry := range entries {
			if entry.owner == owner {
				out = append(out, CapabilityKey{Namespace: ns, Key: key})
			}
		}
	}
	slices.SortFunc(out, compareCapabilityKeys)
	return out
}

// RemoveOwnedBy deletes every entry whose last writer was owner and returns
// the removed keys. Entries overwritten by another module are kept.
func (r *CapabilityRegistry) RemoveOwnedBy(owner string) []CapabilityKey {
	if owner == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []CapabilityKey
	for ns, entries := range r.entries {
		for key, entry := range entries {
			if entry.owner == owner {
				delete(entries, key)
				removed = append(removed, CapabilityKey{Namespace: ns, Key: key})
			}
		}
		if len(entries) == 0 {
			delete(r.entries, ns)
		}
	}
	slices.SortFunc(removed, compareCapabilityKeys)
	return removed
}

// Clear drops every entry. It is meant for process teardown and tests.
func (r *CapabilityRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]map[string]capabilityEntry)
}

// Scoped returns a handle whose writes are attributed to owner.
func (r *CapabilityRegistry) Scoped(owner string, modules *ModuleRegistry) *ScopedCapabilities {
	return &ScopedCapabilities{owner: owner, registry: r, modules: modules}
}

func compareCapabilityKeys(a, b CapabilityKey) int {
	if a.Namespace != b.Namespace {
		if a.Namespace < b.Namespace {
			return -1
		}
		return 1
	}
	switch {
	case a.Key < b.Key:
		return -1
	case a.Key > b.Key:
		return 1
	}
	return 0
}

// ScopedCapabilities is the view of the capability registry handed to a
// module. Publishes are recorded against the module so teardown can remove
// them.
type ScopedCapabilities struct {
	owner    string
	registry *CapabilityRegistry
	modules  *ModuleRegistry
}

// Owner returns the module the handle writes for.
func (s *ScopedCapabilities) Owner() string {
	return s.owner
}

// Publish stores value under (namespace, key) on behalf of the owning module.
func (s *ScopedCapabilities) Publish(namespace, key string, value any) {
	s.registry.publish(s.owner, namespace, key, value)
}

// Lookup returns the current value for (namespace, key).
func (s *ScopedCapabilities) Lookup(namespace, key string) (any, bool) {
	return s.registry.Lookup(namespace, key)
}

// LookupString returns the value when it is a string.
func (s *ScopedCapabilities) LookupString(namespace, key string) (string, bool) {
	return s.registry.LookupString(namespace, key)
}

// LookupBool interprets the value as a boolean flag.
func (s *ScopedCapabilities) LookupBool(namespace, key string) (bool, bool) {
	return s.registry.LookupBool(namespace, key)
}

// Namespace returns a snapshot of namespace.
func (s *ScopedCapabilities) Namespace(namespace string) map[string]any {
	return s.registry.Namespace(namespace)
}

// ListModules returns the names of the currently published modules.
func (s *ScopedCapabilities) ListModules() []string {
	return s.modules.List()
}
