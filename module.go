// Package modubot provides a plugin host for long-running chat clients.
// It loads independent feature modules into one process, runs them through a
// three-phase initialization protocol, and lets modules exchange settings and
// objects through a shared capability registry.
//
// A module implements the Module interface and opts into lifecycle hooks by
// implementing PreInitializer, Initializer, PostInitializer and Uninitializer.
// Command handlers are exposed through CommandProvider.
//
// Basic usage:
//
//	catalog := modubot.NewCatalog()
//	catalog.MustRegister("permission", permission.New)
//	catalog.MustRegister("music", music.Factory)
//
//	host := modubot.NewHost(catalog, modubot.WithLogger(logger))
//	err := host.LoadModules(ctx, []modubot.ModuleSpec{
//		{Name: "permission"},
//		{Name: "music", Config: modubot.ModuleConfig{"cache_dir": "audio_cache"}},
//	})
package modubot

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Module represents a loadable feature unit.
// Name must match the name the module is registered under in the Catalog.
type Module interface {
	Name() string
}

// PreInitializer is implemented by modules that need to read their
// configuration and open external resources before any module is initialized.
// An error aborts the whole batch.
type PreInitializer interface {
	PreInit(ctx context.Context, mc *ModuleContext) error
}

// Initializer is implemented by modules that publish capabilities for other
// modules. Init runs after the module's commands have been registered and
// after every module of the batch has completed PreInit.
type Initializer interface {
	Init(ctx context.Context, mc *ModuleContext) error
}

// PostInitializer is implemented by modules that verify capabilities
// published by other modules. Every module of the batch has completed Init
// when PostInit runs.
type PostInitializer interface {
	PostInit(ctx context.Context, mc *ModuleContext) error
}

// Uninitializer is implemented by modules holding resources that must be
// released on unload. Uninit runs last during teardown, after the module's
// commands and capabilities were removed.
type Uninitializer interface {
	Uninit(ctx context.Context) error
}

// CommandProvider exposes the command handlers of a module.
type CommandProvider interface {
	Commands() []Command
}

// DependencyAware is implemented by modules that require other modules.
// Dependents are always unloaded before the modules they depend on.
//
// Example:
//
//	func (m *Music) Dependencies() []string {
//		return []string{"permission"}
//	}
type DependencyAware interface {
	Dependencies() []string
}

// Factory constructs a fresh module instance. Hot reload always calls the
// factory again instead of patching an existing instance.
type Factory func() Module

// ModuleConfig is the opaque, module-specific configuration supplied by the
// caller of LoadModules.
type ModuleConfig map[string]any

// Decode copies the configuration into target, which should be a pointer to
// a struct with yaml tags. An empty config leaves target untouched.
func (c ModuleConfig) Decode(target any) error {
	if len(c) == 0 {
		return nil
	}

	raw, err := yaml.Marshal(map[string]any(c))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigDecode, err)
	}
	if err = yaml.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %w", ErrConfigDecode, err)
	}
	return nil
}

// ModuleSpec names a module to load together with its configuration.
type ModuleSpec struct {
	Name   string
	Config ModuleConfig
}

// ModuleRecord is the published state of a loaded module.
type ModuleRecord struct {
	Name     string
	Module   Module
	Config   ModuleConfig
	LoadedAt time.Time
}

// ModuleContext is handed to every lifecycle hook. It scopes capability
// writes to the module so they can be removed when the module is unloaded.
type ModuleContext struct {
	name         string
	config       ModuleConfig
	logger       Logger
	capabilities *ScopedCapabilities
	host         *Host
}

func newModuleContext(h *Host, name string, config ModuleConfig) *ModuleContext {
	return &ModuleContext{
		name:         name,
		config:       config,
		logger:       moduleLogger{base: h.logger, name: name},
		capabilities: h.capabilities.Scoped(name, h.modules),
		host:         h,
	}
}

// Name returns the module name.
func (mc *ModuleContext) Name() string {
	return mc.name
}

// Config returns the module configuration.
func (mc *ModuleContext) Config() ModuleConfig {
	return mc.config
}

// Logger returns a logger that tags entries with the module name.
func (mc *ModuleContext) Logger() Logger {
	return mc.logger
}

// Capabilities returns the capability registry scoped to this module.
func (mc *ModuleContext) Capabilities() *ScopedCapabilities {
	return mc.capabilities
}

// RegisterDependency declares that this module depends on deps in addition
// to whatever Dependencies() returns.
func (mc *ModuleContext) RegisterDependency(deps ...string) {
	mc.host.RegisterDependency(mc.name, deps...)
}

// EmitEvent publishes a module-sourced event to the host observers.
func (mc *ModuleContext) EmitEvent(ctx context.Context, eventType string, data any) error {
	return mc.host.NotifyObservers(ctx, NewCloudEvent(eventType, mc.name, data, nil))
}
