// Package config loads the host configuration from YAML or TOML files with
// environment overrides.
package config

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/GoCodeAlone/modubot"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODUBOT"

// HostConfig is the top-level host configuration.
type HostConfig struct {
	CommandPrefix string        `yaml:"command_prefix" toml:"command_prefix" env:"COMMAND_PREFIX" default:"!"`
	DebugLevel    string        `yaml:"debug_level" toml:"debug_level" env:"DEBUG_LEVEL" default:"info"`
	Modules       []ModuleEntry `yaml:"modules" toml:"modules"`
	Cache         CacheConfig   `yaml:"cache" toml:"cache"`
	Admin         AdminConfig   `yaml:"admin" toml:"admin"`
}

// ModuleEntry names a module to load and its opaque configuration.
type ModuleEntry struct {
	Name     string         `yaml:"name" toml:"name" required:"true"`
	Disabled bool           `yaml:"disabled" toml:"disabled"`
	Config   map[string]any `yaml:"config" toml:"config"`
}

// CacheConfig holds defaults for resource caches built by modules.
type CacheConfig struct {
	ProductionTimeout time.Duration `yaml:"production_timeout" toml:"production_timeout" env:"CACHE_PRODUCTION_TIMEOUT" default:"5m"`
	MaxEntries        int           `yaml:"max_entries" toml:"max_entries" env:"CACHE_MAX_ENTRIES" default:"256"`
}

// AdminConfig configures the admin HTTP server.
type AdminConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ADMIN_ENABLED"`
	Addr    string `yaml:"addr" toml:"addr" env:"ADMIN_ADDR" default:"127.0.0.1:8089"`
}

// Load reads path, applies MODUBOT_* environment overrides and defaults, and
// validates the result.
func Load(path string) (*HostConfig, error) {
	feeder, err := FeederFor(path)
	if err != nil {
		return nil, err
	}
	return LoadWith(feeder, NewEnvFeeder(EnvPrefix))
}

// LoadWith builds a HostConfig from feeders applied in order.
func LoadWith(feeders ...Feeder) (*HostConfig, error) {
	cfg := &HostConfig{}
	for _, feeder := range feeders {
		if err := feeder.Feed(cfg); err != nil {
			return nil, err
		}
	}
	if err := ProcessDefaults(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FeederFor picks a file feeder by extension.
func FeederFor(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYAMLFeeder(path), nil
	case ".toml":
		return NewTOMLFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Validate checks required fields and module entry uniqueness.
func (c *HostConfig) Validate() error {
	if err := ValidateRequired(c); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Modules))
	for _, entry := range c.Modules {
		if seen[entry.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateModuleEntry, entry.Name)
		}
		seen[entry.Name] = true
	}
	return nil
}

// Specs returns the enabled module entries as a load batch, in file order.
// The cache section fills in production_timeout and max_entries for entries
// that do not set them; modules without a cache ignore both keys.
func (c *HostConfig) Specs() []modubot.ModuleSpec {
	specs := make([]modubot.ModuleSpec, 0, len(c.Modules))
	for _, entry := range c.Modules {
		if entry.Disabled {
			continue
		}
		cfg := make(modubot.ModuleConfig, len(entry.Config)+2)
		maps.Copy(cfg, entry.Config)
		if _, ok := cfg["production_timeout"]; !ok && c.Cache.ProductionTimeout > 0 {
			cfg["production_timeout"] = c.Cache.ProductionTimeout.String()
		}
		if _, ok := cfg["max_entries"]; !ok && c.Cache.MaxEntries > 0 {
			cfg["max_entries"] = c.Cache.MaxEntries
		}
		specs = append(specs, modubot.ModuleSpec{Name: entry.Name, Config: cfg})
	}
	return specs
}

// ModuleNames returns the names of the enabled modules.
func (c *HostConfig) ModuleNames() []string {
	var out []string
	for _, entry := range c.Modules {
		if !entry.Disabled {
			out = append(out, entry.Name)
		}
	}
	return out
}

// Entry returns the enabled entry for name.
func (c *HostConfig) Entry(name string) (ModuleEntry, bool) {
	i := slices.IndexFunc(c.Modules, func(e ModuleEntry) bool { return e.Name == name && !e.Disabled })
	if i < 0 {
		return ModuleEntry{}, false
	}
	return c.Modules[i], true
}
