package modubot

import (
	"context"
	"fmt"
)

// Dispatch runs the handler registered for inv.Command. A handler error or
// panic is reported back to the actor through inv.Reply and returned as a
// *CommandError; it never affects the lifecycle of any module.
func (h *Host) Dispatch(ctx context.Context, inv *Invocation) error {
	entry, ok := h.commands.lookup(inv.Command)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCommandNotFound, inv.Command)
	}

	err := runHandler(ctx, entry.command.Handler, inv)
	if err == nil {
		return nil
	}

	h.logger.Warn("Command failed", "command", inv.Command, "module", entry.owner, "actor", inv.Actor, "error", err)
	if inv.Reply != nil {
		if sendErr := inv.Respond(ctx, err.Error()); sendErr != nil {
			h.logger.Error("Failed to report command error", "command", inv.Command, "error", sendErr)
		}
	}
	return &CommandError{Command: inv.Command, Module: entry.owner, Err: err}
}

func runHandler(ctx context.Context, handler CommandHandler, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanicked, r)
		}
	}()
	return handler(ctx, inv)
}
