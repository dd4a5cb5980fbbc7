package rescache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type artifact struct {
	path string
}

func TestAcquireOrWait_SingleProducer(t *testing.T) {
	cache := New[*artifact]()
	ctx := context.Background()

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		roles   = map[Role]int{}
		results []*artifact
	)
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ticket, err := cache.AcquireOrWait(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}

			value := ticket.Value
			if ticket.Role == RoleProducer {
				time.Sleep(50 * time.Millisecond)
				value = &artifact{path: "k.opus"}
				assert.NoError(t, cache.Complete(ticket, value))
			}

			mu.Lock()
			roles[ticket.Role]++
			results = append(results, value)
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, roles[RoleProducer])
	assert.Equal(t, callers-1, roles[RoleWaiter])
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.Equal(t, StateReady, cache.State("k"))
}

func TestAcquireOrWait_SharedProduction(t *testing.T) {
	cache := New[*artifact]()
	ctx := context.Background()
	const key = "https://example/a"

	first, err := cache.AcquireOrWait(ctx, key)
	require.NoError(t, err)
	require.Equal(t, RoleProducer, first.Role)

	started := time.Now()
	produced := &artifact{path: "a.opus"}
	go func() {
		time.Sleep(500 * time.Millisecond)
		assert.NoError(t, cache.Complete(first, produced))
	}()

	second, err := cache.AcquireOrWait(ctx, key)
	require.NoError(t, err)
	elapsed := time.Since(started)

	assert.Equal(t, RoleWaiter, second.Role)
	assert.False(t, second.Hit)
	assert.Same(t, produced, second.Value)
	assert.GreaterOrEqual(t, elapsed, 450*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	third, err := cache.AcquireOrWait(ctx, key)
	require.NoError(t, err)
	assert.True(t, third.Hit)
	assert.Same(t, produced, third.Value)
}

func TestFail_WakesWaitersAndResets(t *testing.T) {
	cache := New[string]()
	ctx := context.Background()
	boom := errors.New("download failed")

	producer, err := cache.AcquireOrWait(ctx, "k")
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := cache.AcquireOrWait(ctx, "k")
		waiterErr <- err
	}()

	require.Eventually(t, func() bool { return cache.Stats().Waiters == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, cache.Fail(producer, boom))

	assert.ErrorIs(t, <-waiterErr, boom)
	assert.Equal(t, StateAbsent, cache.State("k"))

	again, err := cache.AcquireOrWait(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, RoleProducer, again.Role, "a failed entry is not poisoned")
	assert.Equal(t, uint64(1), cache.Stats().Failures)
}

func TestFail_NilError(t *testing.T) {
	cache := New[string]()
	producer, err := cache.AcquireOrWait(context.Background(), "k")
	require.NoError(t, err)

	waiter := make(chan error, 1)
	go func() {
		_, err := cache.AcquireOrWait(context.Background(), "k")
		waiter <- err
	}()
	require.Eventually(t, func() bool { return cache.Stats().Waiters == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, cache.Fail(producer, nil))
	assert.ErrorIs(t, <-waiter, ErrProductionFailed)
}

func TestProductionTimeout(t *testing.T) {
	cache := New(WithProductionTimeout[string](50 * time.Millisecond))
	ctx := context.Background()

	stale, err := cache.AcquireOrWait(ctx, "k")
	require.NoError(t, err)

	_, err = cache.AcquireOrWait(ctx, "k")
	assert.ErrorIs(t, err, ErrProductionTimeout)
	assert.Equal(t, StateAbsent, cache.State("k"))

	fresh, err := cache.AcquireOrWait(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, RoleProducer, fresh.Role)

	assert.ErrorIs(t, cache.Complete(stale, "late"), ErrStaleProducer)
	assert.ErrorIs(t, cache.Fail(stale, errors.New("late")), ErrStaleProducer)

	require.NoError(t, cache.Complete(fresh, "fresh"))
	value, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, "fresh", value)
	assert.Equal(t, uint64(1), cache.Stats().Timeouts)
}

func TestWaiterCancellation(t *testing.T) {
	cache := New[string]()
	producer, err := cache.AcquireOrWait(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cache.AcquireOrWait(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, StatePreparing, cache.State("k"), "a cancelled waiter leaves the producer alone")

	other := make(chan Ticket[string], 1)
	go func() {
		ticket, err := cache.AcquireOrWait(context.Background(), "k")
		assert.NoError(t, err)
		other <- ticket
	}()
	require.NoError(t, cache.Complete(producer, "done"))
	assert.Equal(t, "done", (<-other).Value)
}

func TestCompleteRequiresProducer(t *testing.T) {
	cache := New[string]()
	producer, err := cache.AcquireOrWait(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, cache.Complete(producer, "v"))

	hit, err := cache.AcquireOrWait(context.Background(), "k")
	require.NoError(t, err)
	assert.ErrorIs(t, cache.Complete(hit, "x"), ErrNotProducer)
	assert.ErrorIs(t, cache.Complete(producer, "again"), ErrStaleProducer)
}

func TestLRUEviction(t *testing.T) {
	var evicted []string
	cache := New(
		WithMaxEntries[string](2),
		WithOnEvict(func(key, value string) { evicted = append(evicted, key) }),
	)
	ctx := context.Background()
	produce := func(v string) func(context.Context) (string, error) {
		return func(context.Context) (string, error) { return v, nil }
	}

	for _, key := range []string{"a", "b"} {
		_, err := cache.Do(ctx, key, produce(key))
		require.NoError(t, err)
	}
	_, ok := cache.Get("a")
	require.True(t, ok)

	_, err := cache.Do(ctx, "c", produce("c"))
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, []string{"a", "c"}, cache.Keys())
	assert.Equal(t, 2, cache.Len())

	assert.True(t, cache.Remove("a"))
	assert.False(t, cache.Remove("a"))
	cache.Purge()
	assert.Equal(t, []string{"b", "a", "c"}, evicted)
	assert.Equal(t, uint64(3), cache.Stats().Evictions)
}

func TestDo(t *testing.T) {
	cache := New[int]()
	ctx := context.Background()
	calls := 0

	v, err := cache.Do(ctx, "k", func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = cache.Do(ctx, "k", func(context.Context) (int, error) {
		calls++
		return 8, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, calls)

	boom := errors.New("boom")
	_, err = cache.Do(ctx, "bad", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateAbsent, cache.State("bad"))
}

func TestDo_PanicFailsEntry(t *testing.T) {
	cache := New[int]()
	ctx := context.Background()

	assert.Panics(t, func() {
		_, _ = cache.Do(ctx, "k", func(context.Context) (int, error) { panic("producer bug") })
	})
	assert.Equal(t, StateAbsent, cache.State("k"))
	assert.Equal(t, 0, cache.Pending())

	v, err := cache.Do(ctx, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
