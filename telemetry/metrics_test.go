package telemetry

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitMetricsNoExporters(t *testing.T) {
	resetGlobalState(t)

	shutdown, err := InitMetrics(context.Background(), MetricsConfig{})
	require.NoError(t, err)
	require.NotNil(t, globalMetrics)

	RecordRequest(context.Background(), TierWeak)
	RecordRequest(context.Background(), TierMiss)
	RecordInflightJoin(context.Background())
	RecordUpstreamFetch(context.Background(), true)
	RecordUpstreamFetch(context.Background(), false)
	RecordWriterJob(context.Background(), true)
	RecordWriterQueueDepth(context.Background(), 3)
	RecordCleanupRun(context.Background(), 10*time.Millisecond, 2, 1, 4096)
	RecordNegativeCacheSize(context.Background(), 7)
	RecordWeakLiveEstimate(context.Background(), 5)

	require.NoError(t, shutdown(context.Background()))
	require.Nil(t, globalMetrics)
}

func TestPrometheusHandlerWithoutInit(t *testing.T) {
	resetGlobalState(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, req)
	require.Equal(t, 404, rec.Code)
}

func TestRecordFunctionsNoopBeforeInit(t *testing.T) {
	resetGlobalState(t)

	// None of these should panic when globalMetrics is nil.
	RecordRequest(context.Background(), TierFile)
	RecordInflightJoin(context.Background())
	RecordUpstreamFetch(context.Background(), true)
	RecordWriterJob(context.Background(), false)
	RecordWriterQueueDepth(context.Background(), 1)
	RecordCleanupRun(context.Background(), time.Second, 0, 0, 0)
	RecordNegativeCacheSize(context.Background(), 0)
	RecordWeakLiveEstimate(context.Background(), 0)
}

// resetGlobalState resets the package-level sync.Once and global metrics
// pointer between tests, since InitMetrics is designed for single
// process-lifetime initialization in production.
func resetGlobalState(t *testing.T) {
	t.Helper()
	initOnce = sync.Once{}
	initErr = nil
	globalMetrics = nil
}
