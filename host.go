package modubot

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"golang.org/x/sync/errgroup"
)

// Host owns the module registry, the capability registry and the command
// table, and drives modules through their lifecycle.
//
// LoadModules, ReloadModule, UnloadModule and UnloadAll are serialized.
// Hooks must not call them on the same host, or they deadlock.
type Host struct {
	lifecycleMu sync.Mutex

	logger       Logger
	loader       *Loader
	capabilities *CapabilityRegistry
	modules      *ModuleRegistry
	commands     *CommandTable
	events       *eventHub

	depsMu sync.RWMutex
	deps   map[string][]string

	concurrentPhases bool
	observers        []observerRegistration
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger. *slog.Logger satisfies Logger.
func WithLogger(logger Logger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithConcurrentPhases runs the hooks of one phase concurrently across the
// batch. Phase boundaries stay strict barriers.
func WithConcurrentPhases() Option {
	return func(h *Host) {
		h.concurrentPhases = true
	}
}

// WithObserver registers observer for eventTypes (all events when empty).
func WithObserver(observer Observer, eventTypes ...string) Option {
	return func(h *Host) {
		h.observers = append(h.observers, observerRegistration{observer: observer, eventTypes: eventTypes})
	}
}

// NewHost creates a host that resolves module names through catalog.
func NewHost(catalog *Catalog, opts ...Option) *Host {
	h := &Host{
		logger:       nopLogger{},
		loader:       NewLoader(catalog),
		capabilities: NewCapabilityRegistry(),
		modules:      newModuleRegistry(),
		commands:     newCommandTable(),
		events:       &eventHub{},
		deps:         make(map[string][]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	for _, reg := range h.observers {
		if err := h.events.RegisterObserver(reg.observer, reg.eventTypes...); err != nil {
			h.logger.Warn("Failed to register observer", "error", err)
		}
	}
	h.observers = nil
	h.capabilities.onPublish = h.capabilityPublished
	return h
}

// Publish stores an unowned capability entry.
func (h *Host) Publish(namespace, key string, value any) {
	h.capabilities.Publish(namespace, key, value)
}

// Lookup returns the current value of a capability entry.
func (h *Host) Lookup(namespace, key string) (any, bool) {
	return h.capabilities.Lookup(namespace, key)
}

// ListModules returns the names of the published modules in publish order.
func (h *Host) ListModules() []string {
	return h.modules.List()
}

// Module returns the published record for name.
func (h *Host) Module(name string) (ModuleRecord, bool) {
	return h.modules.Get(name)
}

// Capabilities returns the host's capability registry.
func (h *Host) Capabilities() *CapabilityRegistry {
	return h.capabilities
}

// Commands returns the host's command table.
func (h *Host) Commands() *CommandTable {
	return h.commands
}

// Logger returns the host logger.
func (h *Host) Logger() Logger {
	return h.logger
}

// RegisterDependency records that module depends on deps. Dependencies are
// checked before the module's post_init and drive teardown order.
func (h *Host) RegisterDependency(module string, deps ...string) {
	h.depsMu.Lock()
	defer h.depsMu.Unlock()

	for _, dep := range deps {
		if dep == module || slices.Contains(h.deps[module], dep) {
			continue
		}
		h.deps[module] = append(h.deps[module], dep)
	}
}

func (h *Host) clearDependencies(module string) {
	h.depsMu.Lock()
	defer h.depsMu.Unlock()
	delete(h.deps, module)
}

// dependenciesOf merges declared and runtime-registered dependencies.
func (h *Host) dependenciesOf(name string, module Module) []string {
	var out []string
	if aware, ok := module.(DependencyAware); ok {
		out = append(out, aware.Dependencies()...)
	}

	h.depsMu.RLock()
	out = append(out, h.deps[name]...)
	h.depsMu.RUnlock()

	slices.Sort(out)
	return slices.Compact(out)
}

// dependentsOf returns the published modules that depend on name, most
// recently published first.
func (h *Host) dependentsOf(name string) []string {
	names := h.modules.List()
	slices.Reverse(names)

	var out []string
	for _, candidate := range names {
		if candidate == name {
			continue
		}
		record, ok := h.modules.Get(candidate)
		if !ok {
			continue
		}
		if slices.Contains(h.dependenciesOf(candidate, record.Module), name) {
			out = append(out, candidate)
		}
	}
	return out
}

// pendingModule tracks one module of a batch through the phases.
type pendingModule struct {
	record      *ModuleRecord
	mc          *ModuleContext
	preInitDone bool
	published   bool
}

// LoadModules loads a batch of modules. Every module runs pre_init, then
// every module registers its commands and runs init, then every module runs
// post_init and is published. A failure in any phase aborts the batch: no
// later phase starts, modules of the batch that were already published are
// withdrawn and torn down, and a *PhaseError naming the module and phase is
// returned. Resolution failures are returned as *ResolveError before any
// hook runs.
//
// Names that are already loaded are hot-reloaded: the old instance (and its
// dependents) are torn down and fresh instances are built from the catalog.
// Dependents that are not part of specs are reloaded with their previous
// configuration.
//
// A failing hook does not cancel hooks that are still running in concurrent
// mode; they finish against ctx and their modules are torn down afterwards.
func (h *Host) LoadModules(ctx context.Context, specs []ModuleSpec) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	return h.loadLocked(ctx, specs)
}

// ReloadModule hot-reloads a loaded module with its current configuration.
func (h *Host) ReloadModule(ctx context.Context, name string) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	record, ok := h.modules.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotLoaded, name)
	}
	return h.loadLocked(ctx, []ModuleSpec{{Name: name, Config: record.Config}})
}

func (h *Host) loadLocked(ctx context.Context, specs []ModuleSpec) error {
	started := time.Now()

	batch, err := h.prepareBatch(ctx, specs)
	if err != nil {
		h.logger.Error("Module batch aborted before initialization", "error", err)
		h.emit(ctx, EventTypeBatchFailed, "host", batchEventData(specs, err))
		return err
	}

	if err = h.runBatch(ctx, batch); err != nil {
		h.logger.Error("Module batch failed", "error", err)
		h.rollback(ctx, batch, err)
		h.emit(ctx, EventTypeBatchFailed, "host", batchEventData(specs, err))
		return err
	}

	h.logger.Info("Loaded module batch", "modules", batchNames(batch), "duration", time.Since(started))
	h.emit(ctx, EventTypeBatchCompleted, "host", map[string]any{"modules": batchNames(batch)})
	return nil
}

// prepareBatch resolves fresh instances for every spec and tears down the
// instances they replace. Nothing is torn down unless every name resolves.
func (h *Host) prepareBatch(ctx context.Context, specs []ModuleSpec) ([]*pendingModule, error) {
	seen := make(map[string]bool, len(specs))
	batch := make([]*pendingModule, 0, len(specs))

	for _, spec := range specs {
		if seen[spec.Name] {
			return nil, &ResolveError{Module: spec.Name, Err: ErrDuplicateModule}
		}
		seen[spec.Name] = true

		module, err := h.loader.Resolve(spec.Name)
		if err != nil {
			return nil, err
		}
		batch = append(batch, h.newPending(spec.Name, module, spec.Config))
	}

	// Dependents of reloaded modules come along with their current config.
	for i := 0; i < len(batch); i++ {
		name := batch[i].record.Name
		if !h.modules.Has(name) {
			continue
		}
		for _, dependent := range h.dependentsOf(name) {
			if seen[dependent] {
				continue
			}
			seen[dependent] = true

			record, _ := h.modules.Get(dependent)
			module, err := h.loader.Resolve(dependent)
			if err != nil {
				return nil, err
			}
			batch = append(batch, h.newPending(dependent, module, record.Config))
		}
	}

	for _, p := range batch {
		name := p.record.Name
		if !h.modules.Has(name) {
			continue
		}
		h.logger.Info("Reloading module", "module", name)
		h.emit(ctx, EventTypeModuleReloading, name, nil)
		if err := h.unloadLocked(ctx, name, make(map[string]bool)); err != nil {
			h.logger.Warn("Teardown of replaced module reported errors", "module", name, "error", err)
		}
	}

	return batch, nil
}

func (h *Host) newPending(name string, module Module, config ModuleConfig) *pendingModule {
	if config == nil {
		config = ModuleConfig{}
	}
	return &pendingModule{
		record: &ModuleRecord{Name: name, Module: module, Config: config},
		mc:     newModuleContext(h, name, config),
	}
}

func (h *Host) runBatch(ctx context.Context, batch []*pendingModule) error {
	if err := h.runPhase(ctx, batch, PhasePreInit, h.preInit); err != nil {
		return err
	}
	if err := h.runPhase(ctx, batch, PhaseInit, h.init); err != nil {
		return err
	}

	inBatch := make(map[string]bool, len(batch))
	for _, p := range batch {
		inBatch[p.record.Name] = true
	}
	return h.runPhase(ctx, batch, PhasePostInit, func(ctx context.Context, p *pendingModule) error {
		return h.postInit(ctx, p, inBatch)
	})
}

// runPhase runs step for every module of the batch and returns once the
// whole batch has crossed the phase, or at the first failure.
func (h *Host) runPhase(ctx context.Context, batch []*pendingModule, phase Phase, step func(context.Context, *pendingModule) error) error {
	h.logger.Debug("Entering lifecycle phase", "phase", phase, "modules", len(batch))

	if !h.concurrentPhases {
		for _, p := range batch {
			if err := step(ctx, p); err != nil {
				return &PhaseError{Module: p.record.Name, Phase: phase, Err: err}
			}
		}
		return nil
	}

	var g errgroup.Group
	for _, p := range batch {
		g.Go(func() error {
			if err := step(ctx, p); err != nil {
				return &PhaseError{Module: p.record.Name, Phase: phase, Err: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func (h *Host) preInit(ctx context.Context, p *pendingModule) error {
	hook, ok := p.record.Module.(PreInitializer)
	if !ok {
		h.logger.Debug("Module does not implement PreInitializer, skipping", "module", p.record.Name)
		p.preInitDone = true
		return nil
	}
	if err := hook.PreInit(ctx, p.mc); err != nil {
		return err
	}
	p.preInitDone = true
	return nil
}

func (h *Host) init(ctx context.Context, p *pendingModule) error {
	name := p.record.Name

	// Commands are registered before init runs, and a rejected command does
	// not keep the rest of the module's commands or its init from running.
	var registerErr error
	if provider, ok := p.record.Module.(CommandProvider); ok {
		registerErr = h.commands.register(name, provider.Commands())
		h.logger.Debug("Registered module commands", "module", name, "commands", h.commands.OwnedBy(name))
	}

	if hook, ok := p.record.Module.(Initializer); ok {
		if err := hook.Init(ctx, p.mc); err != nil {
			if registerErr != nil {
				return fmt.Errorf("%w (command registration: %w)", err, registerErr)
			}
			return err
		}
	} else {
		h.logger.Debug("Module does not implement Initializer, skipping", "module", name)
	}

	return registerErr
}

func (h *Host) postInit(ctx context.Context, p *pendingModule, inBatch map[string]bool) error {
	name := p.record.Name

	for _, dep := range h.dependenciesOf(name, p.record.Module) {
		if !inBatch[dep] && !h.modules.Has(dep) {
			return fmt.Errorf("%w: %s requires %s", ErrDependencyMissing, name, dep)
		}
	}

	if hook, ok := p.record.Module.(PostInitializer); ok {
		if err := hook.PostInit(ctx, p.mc); err != nil {
			return err
		}
	} else {
		h.logger.Debug("Module does not implement PostInitializer, skipping", "module", name)
	}

	p.record.LoadedAt = time.Now()
	h.modules.add(p.record)
	p.published = true

	h.logger.Info("Loaded module", "module", name, "type", fmt.Sprintf("%T", p.record.Module))
	h.emit(ctx, EventTypeModuleLoaded, name, map[string]any{"module": name})
	return nil
}

// rollback withdraws every module of a failed batch, newest first.
func (h *Host) rollback(ctx context.Context, batch []*pendingModule, cause error) {
	for i := len(batch) - 1; i >= 0; i-- {
		p := batch[i]
		name := p.record.Name

		h.commands.removeOwnedBy(name)
		h.capabilities.RemoveOwnedBy(name)
		if p.published {
			h.modules.remove(name)
		}
		h.clearDependencies(name)

		if p.preInitDone {
			if hook, ok := p.record.Module.(Uninitializer); ok {
				if err := hook.Uninit(ctx); err != nil {
					h.logger.Error("Uninit failed during rollback", "module", name, "error", err)
				}
			}
		}
		h.emit(ctx, EventTypeModuleFailed, name, map[string]any{"module": name, "error": cause.Error()})
	}
}

func (h *Host) emit(ctx context.Context, eventType, source string, data any) {
	if err := h.events.NotifyObservers(ctx, NewCloudEvent(eventType, source, data, nil)); err != nil {
		h.logger.Debug("Observer failed to handle event", "eventType", eventType, "error", err)
	}
}

func (h *Host) capabilityPublished(owner string, key CapabilityKey) {
	source := owner
	if source == "" {
		source = "host"
	}
	h.emit(context.Background(), EventTypeCapabilityPublished, source, map[string]any{
		"namespace": key.Namespace,
		"key":       key.Key,
	})
}

// RegisterObserver adds an observer for eventTypes (all events when empty).
func (h *Host) RegisterObserver(observer Observer, eventTypes ...string) error {
	return h.events.RegisterObserver(observer, eventTypes...)
}

// UnregisterObserver removes observer.
func (h *Host) UnregisterObserver(observer Observer) error {
	return h.events.UnregisterObserver(observer)
}

// NotifyObservers delivers event to the registered observers.
func (h *Host) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	return h.events.NotifyObservers(ctx, event)
}

// GetObservers describes the registered observers.
func (h *Host) GetObservers() []ObserverInfo {
	return h.events.GetObservers()
}

func batchNames(batch []*pendingModule) []string {
	out := make([]string, 0, len(batch))
	for _, p := range batch {
		out = append(out, p.record.Name)
	}
	return out
}

func batchEventData(specs []ModuleSpec, err error) map[string]any {
	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	return map[string]any{"modules": names, "error": err.Error()}
}
