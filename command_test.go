package modubot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flagChecker map[string]string

func (c flagChecker) Allowed(actor, flag, want string) bool {
	return c[actor+"/"+flag] == want
}

func TestRequirePermission(t *testing.T) {
	ran := 0
	next := func(context.Context, *Invocation) error {
		ran++
		return nil
	}
	inv := &Invocation{Command: "play", Actor: "42"}
	ctx := context.Background()

	caps := NewCapabilityRegistry()
	handler := RequirePermission(caps, "canAddEntry", "True", next)

	err := handler(ctx, inv)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorContains(t, err, "no permission checker")

	caps.Publish(PermissionNamespace, PermissionCheckerKey, "not a checker")
	assert.ErrorIs(t, handler(ctx, inv), ErrPermissionDenied)

	caps.Publish(PermissionNamespace, PermissionCheckerKey, flagChecker{"42/canAddEntry": "False"})
	err = handler(ctx, inv)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorContains(t, err, "play requires canAddEntry=True")
	assert.Zero(t, ran)

	caps.Publish(PermissionNamespace, PermissionCheckerKey, flagChecker{"42/canAddEntry": "True"})
	require.NoError(t, handler(ctx, inv))
	assert.Equal(t, 1, ran)
}

func TestCommandTable(t *testing.T) {
	table := newCommandTable()
	noop := func(context.Context, *Invocation) error { return nil }

	err := table.register("music", []Command{
		{Name: "play", Handler: noop},
		{Name: "", Handler: noop},
		{Name: "skip"},
		{Name: "queue", Handler: noop},
	})
	assert.ErrorIs(t, err, ErrInvalidCommand)
	assert.Equal(t, []string{"play", "queue"}, table.Names())

	require.NoError(t, table.register("music", []Command{{Name: "play", Handler: noop}}), "re-registering own command")
	assert.ErrorIs(t, table.register("radio", []Command{{Name: "play", Handler: noop}}), ErrCommandConflict)

	owner, ok := table.Owner("play")
	assert.True(t, ok)
	assert.Equal(t, "music", owner)

	assert.Equal(t, []string{"play", "queue"}, table.removeOwnedBy("music"))
	assert.Empty(t, table.Names())
	_, ok = table.Owner("play")
	assert.False(t, ok)
}

func TestInvocationRespond(t *testing.T) {
	inv := &Invocation{Channel: "text"}
	assert.ErrorIs(t, inv.Respond(context.Background(), "hi"), ErrNoReplier)

	var channel, text string
	inv.Reply = ReplierFunc(func(_ context.Context, c, t string) error {
		channel, text = c, t
		return nil
	})
	require.NoError(t, inv.Respond(context.Background(), "hi"))
	assert.Equal(t, "text", channel)
	assert.Equal(t, "hi", text)
}
