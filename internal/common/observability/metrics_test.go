package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordJob(t *testing.T) {
	reader := metric.NewManualReader()
	obs, err := newWithProvider(metric.NewMeterProvider(metric.WithReader(reader)), "test")
	require.NoError(t, err)

	obs.RecordJob(context.Background(), "rank-offers", StatusCompleted, 15*time.Millisecond)
	obs.RecordJob(context.Background(), "rank-offers", StatusFailed, 3*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	counter, ok := byName["jobs.processed"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, counter.DataPoints, 2)

	hist, ok := byName["jobs.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)
}

func TestNilObservabilityIsNoop(t *testing.T) {
	var obs *Observability
	assert.NotPanics(t, func() {
		obs.RecordJob(context.Background(), "rank-offers", StatusCompleted, time.Millisecond)
		obs.Shutdown()
	})
}
