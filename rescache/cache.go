// Package rescache coordinates expensive, externally latent production of
// artifacts keyed by string. For a given key exactly one caller produces
// while concurrent callers wait for the outcome.
//
// An entry moves absent -> preparing -> ready on success and
// preparing -> absent on failure or production timeout:
//
//	t, err := cache.AcquireOrWait(ctx, url)
//	if err != nil {
//		return err
//	}
//	if t.Role == rescache.RoleWaiter {
//		return use(t.Value)
//	}
//	v, err := download(ctx, url)
//	if err != nil {
//		_ = cache.Fail(t, err)
//		return err
//	}
//	return cache.Complete(t, v)
package rescache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultProductionTimeout bounds how long an entry may stay preparing.
const DefaultProductionTimeout = 5 * time.Minute

var (
	ErrProductionTimeout = errors.New("rescache: production timed out")
	ErrStaleProducer     = errors.New("rescache: producer ticket is stale")
	ErrNotProducer       = errors.New("rescache: ticket does not hold the producer role")
	ErrProductionFailed  = errors.New("rescache: production failed")
)

// Role is the part a caller plays for a key.
type Role int

const (
	// RoleProducer must resolve the entry with Complete or Fail.
	RoleProducer Role = iota + 1
	// RoleWaiter received the artifact produced by someone else.
	RoleWaiter
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleWaiter:
		return "waiter"
	default:
		return "unknown"
	}
}

// State of a key.
type State int

const (
	StateAbsent State = iota
	StatePreparing
	StateReady
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StateReady:
		return "ready"
	default:
		return "absent"
	}
}

// Ticket is the outcome of AcquireOrWait. Value is set for waiters only.
type Ticket[V any] struct {
	Key   string
	Role  Role
	Value V
	// Hit is true when the artifact was already ready.
	Hit bool

	generation uint64
}

type pending[V any] struct {
	generation uint64
	done       chan struct{}
	timer      *time.Timer
	value      V
	err        error
}

// Stats are cumulative counters.
type Stats struct {
	Producers uint64
	Waiters   uint64
	Hits      uint64
	Failures  uint64
	Timeouts  uint64
	Evictions uint64
}

type counters struct {
	producers, waiters, hits, failures, timeouts, evictions atomic.Uint64
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu         sync.Mutex
	pending    map[string]*pending[V]
	ready      *lru.Cache[string, V]
	generation uint64

	timeout    time.Duration
	maxEntries int
	onEvict    func(key string, value V)
	stats      counters
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithProductionTimeout sets how long a producer may hold a key.
func WithProductionTimeout[V any](d time.Duration) Option[V] {
	return func(c *Cache[V]) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxEntries bounds the ready set; the least recently used artifact is
// evicted beyond it.
func WithMaxEntries[V any](n int) Option[V] {
	return func(c *Cache[V]) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithOnEvict is called for every artifact that leaves the ready set,
// including Remove and Purge. It runs with the cache locked and must not call
// back into the cache.
func WithOnEvict[V any](fn func(key string, value V)) Option[V] {
	return func(c *Cache[V]) {
		c.onEvict = fn
	}
}

// New creates a cache. Without WithMaxEntries the ready set holds 1024
// artifacts.
func New[V any](opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		pending:    make(map[string]*pending[V]),
		timeout:    DefaultProductionTimeout,
		maxEntries: 1024,
	}
	for _, opt := range opts {
		opt(c)
	}

	ready, err := lru.NewWithEvict[string, V](c.maxEntries, func(key string, value V) {
		c.stats.evictions.Add(1)
		if c.onEvict != nil {
			c.onEvict(key, value)
		}
	})
	if err != nil {
		// Only reachable with a non-positive size, which the options reject.
		panic(fmt.Sprintf("rescache: %v", err))
	}
	c.ready = ready
	return c
}

// AcquireOrWait returns immediately with the artifact when key is ready, or
// with RoleProducer when key is absent. While another caller is producing it
// blocks until the entry resolves or ctx is done. A waiter whose producer
// failed gets the producer's error; one whose producer timed out gets
// ErrProductionTimeout. Cancelling ctx only removes this waiter.
func (c *Cache[V]) AcquireOrWait(ctx context.Context, key string) (Ticket[V], error) {
	c.mu.Lock()
	if value, ok := c.ready.Get(key); ok {
		c.mu.Unlock()
		c.stats.hits.Add(1)
		return Ticket[V]{Key: key, Role: RoleWaiter, Value: value, Hit: true}, nil
	}

	if p, ok := c.pending[key]; ok {
		c.mu.Unlock()
		c.stats.waiters.Add(1)
		return c.wait(ctx, key, p)
	}

	c.generation++
	p := &pending[V]{generation: c.generation, done: make(chan struct{})}
	generation := p.generation
	p.timer = time.AfterFunc(c.timeout, func() { c.expire(key, generation) })
	c.pending[key] = p
	c.mu.Unlock()

	c.stats.producers.Add(1)
	return Ticket[V]{Key: key, Role: RoleProducer, generation: generation}, nil
}

func (c *Cache[V]) wait(ctx context.Context, key string, p *pending[V]) (Ticket[V], error) {
	select {
	case <-ctx.Done():
		return Ticket[V]{}, ctx.Err()
	case <-p.done:
	}
	if p.err != nil {
		return Ticket[V]{}, p.err
	}
	return Ticket[V]{Key: key, Role: RoleWaiter, Value: p.value}, nil
}

// Complete publishes the producer's artifact and wakes the waiters.
func (c *Cache[V]) Complete(t Ticket[V], value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.claim(t)
	if err != nil {
		return err
	}
	p.value = value
	c.ready.Add(t.Key, value)
	close(p.done)
	return nil
}

// Fail returns the key to absent and wakes the waiters with err. The next
// caller becomes a producer again.
func (c *Cache[V]) Fail(t Ticket[V], err error) error {
	if err == nil {
		err = ErrProductionFailed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, claimErr := c.claim(t)
	if claimErr != nil {
		return claimErr
	}
	p.err = err
	c.stats.failures.Add(1)
	close(p.done)
	return nil
}

// claim detaches the pending entry held by t. Callers hold c.mu.
func (c *Cache[V]) claim(t Ticket[V]) (*pending[V], error) {
	if t.Role != RoleProducer {
		return nil, ErrNotProducer
	}
	p, ok := c.pending[t.Key]
	if !ok || p.generation != t.generation {
		return nil, fmt.Errorf("%w: %s", ErrStaleProducer, t.Key)
	}
	p.timer.Stop()
	delete(c.pending, t.Key)
	return p, nil
}

func (c *Cache[V]) expire(key string, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[key]
	if !ok || p.generation != generation {
		return
	}
	delete(c.pending, key)
	p.err = fmt.Errorf("%w: %s after %s", ErrProductionTimeout, key, c.timeout)
	c.stats.timeouts.Add(1)
	close(p.done)
}

// Do returns the artifact for key, running produce when this caller becomes
// the producer. A panic in produce fails the entry before it propagates.
func (c *Cache[V]) Do(ctx context.Context, key string, produce func(ctx context.Context) (V, error)) (value V, err error) {
	t, err := c.AcquireOrWait(ctx, key)
	if err != nil {
		return value, err
	}
	if t.Role == RoleWaiter {
		return t.Value, nil
	}

	resolved := false
	defer func() {
		if !resolved {
			_ = c.Fail(t, fmt.Errorf("%w: producer panicked", ErrProductionFailed))
		}
	}()

	value, err = produce(ctx)
	resolved = true
	if err != nil {
		_ = c.Fail(t, err)
		var zero V
		return zero, err
	}
	return value, c.Complete(t, value)
}

// Get returns a ready artifact without waiting.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Get(key)
}

// State reports the state of key.
func (c *Cache[V]) State(key string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[key]; ok {
		return StatePreparing
	}
	if c.ready.Contains(key) {
		return StateReady
	}
	return StateAbsent
}

// Remove drops a ready artifact.
func (c *Cache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Remove(key)
}

// Keys returns the ready keys, oldest first.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Keys()
}

// Len returns the number of ready artifacts.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready.Len()
}

// Pending returns the number of keys being produced.
func (c *Cache[V]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Purge drops every ready artifact. Entries being produced are unaffected.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready.Purge()
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Producers: c.stats.producers.Load(),
		Waiters:   c.stats.waiters.Load(),
		Hits:      c.stats.hits.Load(),
		Failures:  c.stats.failures.Load(),
		Timeouts:  c.stats.timeouts.Load(),
		Evictions: c.stats.evictions.Load(),
	}
}
