package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/GoCodeAlone/modubot"
)

// Dispatcher routes invocations to command handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv *modubot.Invocation) error
}

// Console is a line-based chat transport over a reader and a writer. Every
// line starting with the command prefix is dispatched as one invocation on
// behalf of a fixed actor.
type Console struct {
	Dispatcher   Dispatcher
	Prefix       string
	Actor        string
	Guild        string
	Channel      string
	VoiceChannel string
	Out          io.Writer

	mu sync.Mutex
}

// Send implements modubot.Replier.
func (c *Console) Send(_ context.Context, channel, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.Out, "[%s] %s\n", channel, text)
	return err
}

// Run reads commands from in until it is exhausted or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		inv, ok := c.parse(scanner.Text())
		if !ok {
			continue
		}
		c.dispatch(ctx, inv)
	}
	return scanner.Err()
}

func (c *Console) parse(line string) (*modubot.Invocation, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, c.Prefix) {
		return nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(line, c.Prefix))
	if len(fields) == 0 {
		return nil, false
	}
	return &modubot.Invocation{
		Command:      strings.ToLower(fields[0]),
		Actor:        c.Actor,
		Guild:        c.Guild,
		Channel:      c.Channel,
		VoiceChannel: c.VoiceChannel,
		Args:         fields[1:],
		Reply:        c,
	}, true
}

func (c *Console) dispatch(ctx context.Context, inv *modubot.Invocation) {
	err := c.Dispatcher.Dispatch(ctx, inv)
	switch {
	case err == nil:
	case errors.Is(err, modubot.ErrCommandNotFound):
		_ = c.Send(ctx, inv.Channel, fmt.Sprintf("Unknown command %q.", inv.Command))
	default:
		// Handler errors were already sent to the channel by the host.
		var cmdErr *modubot.CommandError
		if !errors.As(err, &cmdErr) {
			_ = c.Send(ctx, inv.Channel, err.Error())
		}
	}
}
