package modubot

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// UnloadModule tears down a loaded module. Modules depending on it are
// unloaded first. For each module the host removes its command handlers,
// removes the capabilities it published, withdraws it from the module
// registry and finally calls Uninit. Uninit errors are returned, but never
// stop the remaining teardown.
func (h *Host) UnloadModule(ctx context.Context, name string) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if !h.modules.Has(name) {
		return fmt.Errorf("%w: %s", ErrModuleNotLoaded, name)
	}
	return h.unloadLocked(ctx, name, make(map[string]bool))
}

// UnloadAll unloads every module in reverse publish order.
func (h *Host) UnloadAll(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	names := h.modules.List()
	slices.Reverse(names)

	var errs []error
	for _, name := range names {
		if !h.modules.Has(name) {
			continue
		}
		errs = append(errs, h.unloadLocked(ctx, name, make(map[string]bool)))
	}
	return errors.Join(errs...)
}

func (h *Host) unloadLocked(ctx context.Context, name string, visiting map[string]bool) error {
	if visiting[name] || !h.modules.Has(name) {
		return nil
	}
	visiting[name] = true

	var errs []error
	for _, dependent := range h.dependentsOf(name) {
		h.logger.Debug("Unloading dependent module first", "module", name, "dependent", dependent)
		errs = append(errs, h.unloadLocked(ctx, dependent, visiting))
	}
	errs = append(errs, h.teardown(ctx, name))
	return errors.Join(errs...)
}

func (h *Host) teardown(ctx context.Context, name string) error {
	record, ok := h.modules.Get(name)
	if !ok {
		return nil
	}

	commands := h.commands.removeOwnedBy(name)
	capabilities := h.capabilities.RemoveOwnedBy(name)
	h.modules.remove(name)
	h.clearDependencies(name)

	var err error
	if hook, ok := record.Module.(Uninitializer); ok {
		if uninitErr := hook.Uninit(ctx); uninitErr != nil {
			err = &PhaseError{Module: name, Phase: PhaseUninit, Err: uninitErr}
			h.logger.Error("Module uninit failed", "module", name, "error", uninitErr)
		}
	}

	h.logger.Info("Unloaded module", "module", name, "commands", len(commands), "capabilities", len(capabilities))
	h.emit(ctx, EventTypeModuleUnloaded, name, map[string]any{"module": name})
	return err
}
