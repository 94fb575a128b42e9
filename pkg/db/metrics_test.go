package db

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectDescs(c *PoolStatsCollector) []*prometheus.Desc {
	ch := make(chan *prometheus.Desc, 10)
	go func() {
		c.Describe(ch)
		close(ch)
	}()

	var descs []*prometheus.Desc
	for desc := range ch {
		descs = append(descs, desc)
	}
	return descs
}

func TestPoolStatsCollectorDescribe(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "evidify", "ingest")

	descs := collectDescs(collector)
	require.Len(t, descs, 4)

	expected := []string{
		"evidify_db_pool_total_conns",
		"evidify_db_pool_idle_conns",
		"evidify_db_pool_acquired_conns",
		"evidify_db_pool_max_conns",
	}
	for i, desc := range descs {
		assert.Contains(t, desc.String(), expected[i])
	}
}

func TestPoolStatsCollectorServiceLabel(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "evidify", "enrich_worker")

	for _, desc := range collectDescs(collector) {
		assert.Contains(t, desc.String(), `service="enrich_worker"`)
	}
}

func TestPoolStatsCollectorCollectNilPool(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "evidify", "ingest")

	ch := make(chan prometheus.Metric, 10)
	go func() {
		collector.Collect(ch)
		close(ch)
	}()

	count := 0
	for range ch {
		count++
	}
	assert.Zero(t, count, "a nil pool emits no metrics")
}

func TestRegisterPoolStatsCollectorWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()

	collector, err := RegisterPoolStatsCollectorWithRegistry(nil, "evidify", "ingest", reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	_, err = reg.Gather()
	require.NoError(t, err)
}

func TestRegisterPoolStatsCollectorTwice(t *testing.T) {
	reg := prometheus.NewRegistry()

	_, err := RegisterPoolStatsCollectorWithRegistry(nil, "evidify", "ingest", reg)
	require.NoError(t, err)

	// Re-registering the same collector is not an error.
	_, err = RegisterPoolStatsCollectorWithRegistry(nil, "evidify", "ingest", reg)
	require.NoError(t, err)
}

func TestPoolStatsCollectorLint(t *testing.T) {
	collector := NewPoolStatsCollector(nil, "evidify", "ingest")

	problems, err := testutil.CollectAndLint(collector)
	require.NoError(t, err)
	for _, p := range problems {
		t.Errorf("lint problem: %s", p.Text)
	}
}
