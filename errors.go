package modubot

import (
	"errors"
	"fmt"
)

// Host errors
var (
	// Resolution errors
	ErrModuleNotFound   = errors.New("module not found in catalog")
	ErrDuplicateModule  = errors.New("module listed more than once in batch")
	ErrDuplicateFactory = errors.New("module factory already registered")
	ErrNilFactory       = errors.New("module factory is nil")
	ErrNilModule        = errors.New("module factory returned nil")
	ErrNameMismatch     = errors.New("module name does not match catalog name")

	// Lifecycle errors
	ErrModuleNotLoaded   = errors.New("module not loaded")
	ErrDependencyMissing = errors.New("module depends on module that is not loaded")

	// Command errors
	ErrInvalidCommand   = errors.New("command must have a name and a handler")
	ErrCommandConflict  = errors.New("command already registered by another module")
	ErrCommandNotFound  = errors.New("command not found")
	ErrNoReplier        = errors.New("invocation has no reply channel")
	ErrHandlerPanicked  = errors.New("command handler panicked")
	ErrPermissionDenied = errors.New("permission denied")

	// Config errors
	ErrConfigDecode = errors.New("failed to decode module config")

	// Event errors
	ErrObserverNil = errors.New("observer is nil")
)

// Phase names a step of the module lifecycle.
type Phase string

const (
	PhaseResolve  Phase = "resolve"
	PhasePreInit  Phase = "pre_init"
	PhaseInit     Phase = "init"
	PhasePostInit Phase = "post_init"
	PhaseUninit   Phase = "uninit"
)

// PhaseError reports the module and lifecycle phase at which a batch load
// (or a teardown) failed.
type PhaseError struct {
	Module string
	Phase  Phase
	Err    error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("module %q failed during %s: %v", e.Module, e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ResolveError is returned when a module name cannot be turned into a fresh
// module instance. It aborts the batch before any hook runs.
type ResolveError struct {
	Module string
	Err    error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("failed to resolve module %q: %v", e.Module, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// CommandError wraps a failure returned by a command handler.
type CommandError struct {
	Command string
	Module  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q (module %q): %v", e.Command, e.Module, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
