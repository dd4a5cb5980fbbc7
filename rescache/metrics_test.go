package rescache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector(t *testing.T) {
	cache := New[string]()
	ctx := context.Background()

	_, err := cache.Do(ctx, "a", func(context.Context) (string, error) { return "a", nil })
	require.NoError(t, err)
	_, err = cache.Do(ctx, "a", func(context.Context) (string, error) { return "x", nil })
	require.NoError(t, err)
	_, err = cache.Do(ctx, "b", func(context.Context) (string, error) { return "", errors.New("nope") })
	require.Error(t, err)

	collector := NewPrometheusCollector(cache, "test_cache", "music")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(collector))

	expected := `
# HELP test_cache_hits_total Callers served from a ready artifact
# TYPE test_cache_hits_total counter
test_cache_hits_total{cache="music"} 1
# HELP test_cache_producers_total Callers that became the producer for a key
# TYPE test_cache_producers_total counter
test_cache_producers_total{cache="music"} 2
# HELP test_cache_failures_total Productions resolved with an error
# TYPE test_cache_failures_total counter
test_cache_failures_total{cache="music"} 1
# HELP test_cache_ready_entries Artifacts currently ready
# TYPE test_cache_ready_entries gauge
test_cache_ready_entries{cache="music"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"test_cache_hits_total", "test_cache_producers_total", "test_cache_failures_total", "test_cache_ready_entries")
	assert.NoError(t, err)
}
