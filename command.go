package modubot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Replier sends outbound text to a channel. Send may block on network I/O
// and may fail; the host never retries on a module's behalf.
type Replier interface {
	Send(ctx context.Context, channel, text string) error
}

// ReplierFunc adapts a function to the Replier interface.
type ReplierFunc func(ctx context.Context, channel, text string) error

// Send calls f.
func (f ReplierFunc) Send(ctx context.Context, channel, text string) error {
	return f(ctx, channel, text)
}

// Invocation is a resolved inbound command as delivered by the transport.
type Invocation struct {
	Command      string
	Actor        string
	Guild        string
	Channel      string
	VoiceChannel string // voice channel the actor is connected to, if any
	Args         []string
	Reply        Replier
}

// Respond sends text to the invocation's channel.
func (inv *Invocation) Respond(ctx context.Context, text string) error {
	if inv.Reply == nil {
		return ErrNoReplier
	}
	return inv.Reply.Send(ctx, inv.Channel, text)
}

// CommandHandler runs a command.
type CommandHandler func(ctx context.Context, inv *Invocation) error

// Command is an externally exposed handler of a module.
type Command struct {
	Name    string
	Usage   string
	Handler CommandHandler
}

type commandEntry struct {
	owner   string
	command Command
}

// CommandTable maps command names to the handlers of loaded modules.
type CommandTable struct {
	mu      sync.RWMutex
	entries map[string]commandEntry
}

func newCommandTable() *CommandTable {
	return &CommandTable{entries: make(map[string]commandEntry)}
}

// register adds every valid, non-conflicting command of owner. Rejected
// commands do not stop the others from registering; they are reported
// together in the returned error.
func (t *CommandTable) register(owner string, commands []Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for _, cmd := range commands {
		if cmd.Name == "" || cmd.Handler == nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Name))
			continue
		}
		if existing, ok := t.entries[cmd.Name]; ok && existing.owner != owner {
			errs = append(errs, fmt.Errorf("%w: %q is owned by %q", ErrCommandConflict, cmd.Name, existing.owner))
			continue
		}
		t.entries[cmd.Name] = commandEntry{owner: owner, command: cmd}
	}
	return errors.Join(errs...)
}

func (t *CommandTable) removeOwnedBy(owner string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for name, entry := range t.entries {
		if entry.owner == owner {
			delete(t.entries, name)
			removed = append(removed, name)
		}
	}
	slices.Sort(removed)
	return removed
}

func (t *CommandTable) lookup(name string) (commandEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[name]
	return entry, ok
}

// Names returns every registered command name, sorted.
func (t *CommandTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.entries))
	for name := range t.entries {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// OwnedBy returns the sorted command names registered by owner.
func (t *CommandTable) OwnedBy(owner string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []string
	for name, entry := range t.entries {
		if entry.owner == owner {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Owner returns the module that registered name.
func (t *CommandTable) Owner(name string) (string, bool) {
	entry, ok := t.lookup(name)
	return entry.owner, ok
}

// Permission capability contract. The predicate itself is supplied by a
// module; the host only stores and looks it up.
const (
	PermissionNamespace  = "permission"
	PermissionCheckerKey = "checker"
)

// PermissionChecker decides whether actor holds flag with the wanted value.
type PermissionChecker interface {
	Allowed(actor, flag, want string) bool
}

// RequirePermission wraps next so that it only runs when the published
// PermissionChecker allows the invoking actor flag=want.
func RequirePermission(caps CapabilityReader, flag, want string, next CommandHandler) CommandHandler {
	return func(ctx context.Context, inv *Invocation) error {
		value, ok := caps.Lookup(PermissionNamespace, PermissionCheckerKey)
		if !ok {
			return fmt.Errorf("%w: no permission checker published", ErrPermissionDenied)
		}
		checker, ok := value.(PermissionChecker)
		if !ok {
			return fmt.Errorf("%w: capability %s.%s is %T", ErrPermissionDenied, PermissionNamespace, PermissionCheckerKey, value)
		}
		if !checker.Allowed(inv.Actor, flag, want) {
			return fmt.Errorf("%w: %s requires %s=%s", ErrPermissionDenied, inv.Command, flag, want)
		}
		return next(ctx, inv)
	}
}
