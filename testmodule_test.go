package modubot

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// journal records hook calls across modules in call order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

// filter returns the entries for phase, in order.
func (j *journal) filter(phase Phase) []string {
	var out []string
	suffix := ":" + string(phase)
	for _, entry := range j.list() {
		if len(entry) > len(suffix) && entry[len(entry)-len(suffix):] == suffix {
			out = append(out, entry)
		}
	}
	return out
}

type testModule struct {
	name     string
	instance int64
	journal  *journal
	deps     []string
	commands []string
	fail     map[Phase]error
	delay    time.Duration

	onInit     func(mc *ModuleContext) error
	onPostInit func(mc *ModuleContext) error
}

func (m *testModule) Name() string { return m.name }

func (m *testModule) Dependencies() []string { return m.deps }

func (m *testModule) hook(phase Phase) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.journal.add(m.name + ":" + string(phase))
	return m.fail[phase]
}

func (m *testModule) PreInit(_ context.Context, _ *ModuleContext) error {
	return m.hook(PhasePreInit)
}

func (m *testModule) Init(_ context.Context, mc *ModuleContext) error {
	if err := m.hook(PhaseInit); err != nil {
		return err
	}
	mc.Capabilities().Publish(m.name, "instance", m.instance)
	if m.onInit != nil {
		return m.onInit(mc)
	}
	return nil
}

func (m *testModule) PostInit(_ context.Context, mc *ModuleContext) error {
	if err := m.hook(PhasePostInit); err != nil {
		return err
	}
	if m.onPostInit != nil {
		return m.onPostInit(mc)
	}
	return nil
}

func (m *testModule) Uninit(_ context.Context) error {
	return m.hook(PhaseUninit)
}

func (m *testModule) Commands() []Command {
	out := make([]Command, 0, len(m.commands))
	for _, name := range m.commands {
		out = append(out, Command{
			Name: name,
			Handler: func(ctx context.Context, inv *Invocation) error {
				return inv.Respond(ctx, fmt.Sprintf("%s#%d", m.name, m.instance))
			},
		})
	}
	return out
}

// testCatalog builds catalog entries whose factories count instances.
type testCatalog struct {
	*Catalog
	journal   *journal
	instances map[string]*atomic.Int64
	configure map[string]func(*testModule)
}

func newTestCatalog() *testCatalog {
	return &testCatalog{
		Catalog:   NewCatalog(),
		journal:   &journal{},
		instances: make(map[string]*atomic.Int64),
		configure: make(map[string]func(*testModule)),
	}
}

// add registers name; configure runs on every fresh instance.
func (c *testCatalog) add(name string, configure func(*testModule)) {
	counter := &atomic.Int64{}
	c.instances[name] = counter
	c.configure[name] = configure
	c.MustRegister(name, func() Module {
		m := &testModule{name: name, instance: counter.Add(1), journal: c.journal}
		if fn := c.configure[name]; fn != nil {
			fn(m)
		}
		return m
	})
}

func (c *testCatalog) count(name string) int64 {
	return c.instances[name].Load()
}

// eventRecorder collects event types.
type eventRecorder struct {
	mu     sync.Mutex
	events []cloudevents.Event
}

func (r *eventRecorder) OnEvent(_ context.Context, event cloudevents.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) ObserverID() string { return "recorder" }

func (r *eventRecorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type())
	}
	return out
}

func (r *eventRecorder) sources(eventType string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, event := range r.events {
		if event.Type() == eventType {
			out = append(out, event.Source())
		}
	}
	return out
}

type captureReplier struct {
	mu   sync.Mutex
	sent []string
}

func (c *captureReplier) Send(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *captureReplier) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1]
}

func specs(names ...string) []ModuleSpec {
	out := make([]ModuleSpec, 0, len(names))
	for _, name := range names {
		out = append(out, ModuleSpec{Name: name})
	}
	return out
}
