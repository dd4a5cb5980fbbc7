package modubot

import (
	"fmt"
	"slices"
	"sync"
)

// Catalog maps module names to the factories that construct them.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (c *Catalog) Register(name string, factory Factory) error {
	if factory == nil {
		return fmt.Errorf("%w: %s", ErrNilFactory, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFactory, name)
	}
	c.factories[name] = factory
	c.order = append(c.order, name)
	return nil
}

// MustRegister is like Register but panics on error. It is intended for
// program start-up where the catalog is static.
func (c *Catalog) MustRegister(name string, factory Factory) {
	if err := c.Register(name, factory); err != nil {
		panic(err)
	}
}

// Names returns the registered module names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

func (c *Catalog) factory(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.factories[name]
	return f, ok
}

// Loader turns module names into fresh module instances.
type Loader struct {
	catalog *Catalog
}

// NewLoader creates a loader over catalog.
func NewLoader(catalog *Catalog) *Loader {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &Loader{catalog: catalog}
}

// Resolve constructs a new instance of the module registered under name.
// A factory that panics is reported as a resolution failure.
func (l *Loader) Resolve(name string) (module Module, err error) {
	factory, ok := l.catalog.factory(name)
	if !ok {
		return nil, &ResolveError{Module: name, Err: ErrModuleNotFound}
	}

	defer func() {
		if r := recover(); r != nil {
			module = nil
			err = &ResolveError{Module: name, Err: fmt.Errorf("factory panicked: %v", r)}
		}
	}()

	module = factory()
	if module == nil {
		return nil, &ResolveError{Module: name, Err: ErrNilModule}
	}
	if module.Name() != name {
		return nil, &ResolveError{
			Module: name,
			Err:    fmt.Errorf("%w: got %q", ErrNameMismatch, module.Name()),
		}
	}
	return module, nil
}
