// Package configwatch applies host configuration changes to a running host.
package configwatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/GoCodeAlone/modubot"
	"github.com/GoCodeAlone/modubot/config"
)

// ModuleHost is the part of the host the watcher drives.
type ModuleHost interface {
	LoadModules(ctx context.Context, specs []modubot.ModuleSpec) error
	UnloadModule(ctx context.Context, name string) error
}

// Diff lists the module entries that differ between two configurations.
// Disabled entries count as absent.
type Diff struct {
	Added   []string
	Changed []string
	Removed []string
}

// HasChanges reports whether any module entry differs.
func (d Diff) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Changed) > 0 || len(d.Removed) > 0
}

// Compare diffs the enabled module entries of two configurations, including
// the cache defaults each entry inherits. Added and Changed follow the order
// of next; Removed follows the order of prev.
func Compare(prev, next *config.HostConfig) Diff {
	before := make(map[string]modubot.ModuleConfig)
	for _, spec := range prev.Specs() {
		before[spec.Name] = spec.Config
	}
	after := make(map[string]bool)

	var d Diff
	for _, spec := range next.Specs() {
		after[spec.Name] = true
		old, ok := before[spec.Name]
		switch {
		case !ok:
			d.Added = append(d.Added, spec.Name)
		case !reflect.DeepEqual(old, spec.Config):
			d.Changed = append(d.Changed, spec.Name)
		}
	}
	for _, spec := range prev.Specs() {
		if !after[spec.Name] {
			d.Removed = append(d.Removed, spec.Name)
		}
	}
	return d
}

// Apply brings host from prev to next. Removed modules are unloaded first,
// then added and changed modules are loaded as one batch; changed modules
// are hot-reloaded by the host.
func Apply(ctx context.Context, host ModuleHost, prev, next *config.HostConfig) (Diff, error) {
	d := Compare(prev, next)

	var errs []error
	for _, name := range d.Removed {
		// A module may already be gone as the dependent of an earlier one.
		if err := host.UnloadModule(ctx, name); err != nil && !errors.Is(err, modubot.ErrModuleNotLoaded) {
			errs = append(errs, fmt.Errorf("unload %s: %w", name, err))
		}
	}

	var specs []modubot.ModuleSpec
	for _, spec := range next.Specs() {
		if slices.Contains(d.Added, spec.Name) || slices.Contains(d.Changed, spec.Name) {
			specs = append(specs, spec)
		}
	}
	if len(specs) > 0 {
		if err := host.LoadModules(ctx, specs); err != nil {
			errs = append(errs, err)
		}
	}
	return d, errors.Join(errs...)
}
