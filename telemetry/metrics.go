// Package telemetry wires the asset cache's counters and gauges into an
// OpenTelemetry meter provider with an optional OTLP exporter and an
// optional Prometheus scrape endpoint, the same dual-exporter shape this
// module's earlier metrics package used for its HTTP/backend/eviction
// instruments, retargeted here at tier hits, single-flight joins, cleanup
// sweeps, and writer queue depth.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const meterName = "github.com/jamenai/opensim-assetcache"

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317"). If
	// empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments for the cache.
type Metrics struct {
	requestsTotal  metric.Int64Counter
	tierHitsTotal  metric.Int64Counter
	missesTotal    metric.Int64Counter
	inflightJoins  metric.Int64Counter
	negativeHits   metric.Int64Counter
	upstreamTotal  metric.Int64Counter
	upstreamErrors metric.Int64Counter

	writerQueueDepth metric.Int64Gauge
	writerJobsTotal  metric.Int64Counter
	writerFailures   metric.Int64Counter

	cleanupDuration     metric.Float64Histogram
	cleanupRunsTotal    metric.Int64Counter
	cleanupFilesDeleted metric.Int64Counter
	cleanupBytesFreed   metric.Int64Counter
	cleanupDirsRemoved  metric.Int64Counter
	negativeCacheSize   metric.Int64Gauge
	weakLiveEstimate    metric.Int64Gauge

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system. Returns a
// shutdown function that should be called on application exit. Uses
// sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "assetcache"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	m := &Metrics{meterProvider: mp, promHandler: promHandler}

	for _, inst := range []struct {
		name string
		dst  *metric.Int64Counter
		desc string
		unit string
	}{
		{"assetcache_requests_total", &m.requestsTotal, "Total Get requests", "{request}"},
		{"assetcache_tier_hits_total", &m.tierHitsTotal, "Total hits by tier", "{hit}"},
		{"assetcache_misses_total", &m.missesTotal, "Total misses (no tier, no upstream)", "{miss}"},
		{"assetcache_inflight_joins_total", &m.inflightJoins, "Total followers that joined an in-flight upstream fetch", "{join}"},
		{"assetcache_negative_hits_total", &m.negativeHits, "Total requests short-circuited by the negative cache", "{hit}"},
		{"assetcache_upstream_fetch_total", &m.upstreamTotal, "Total upstream fetches issued by the single-flight coordinator", "{fetch}"},
		{"assetcache_upstream_fetch_errors_total", &m.upstreamErrors, "Total upstream fetches that failed after backoff", "{fetch}"},
		{"assetcache_writer_jobs_total", &m.writerJobsTotal, "Total write jobs processed by the writer pool", "{job}"},
		{"assetcache_writer_failures_total", &m.writerFailures, "Total write jobs that failed", "{job}"},
		{"assetcache_cleanup_runs_total", &m.cleanupRunsTotal, "Total cleanup sweeps run", "{run}"},
		{"assetcache_cleanup_files_deleted_total", &m.cleanupFilesDeleted, "Total files deleted by cleanup", "{file}"},
		{"assetcache_cleanup_bytes_freed_total", &m.cleanupBytesFreed, "Total bytes freed by cleanup", "By"},
		{"assetcache_cleanup_dirs_removed_total", &m.cleanupDirsRemoved, "Total empty shard directories removed by cleanup", "{dir}"},
	} {
		c, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc), metric.WithUnit(inst.unit))
		if err != nil {
			return err
		}
		*inst.dst = c
	}

	cleanupDuration, err := meter.Float64Histogram(
		"assetcache_cleanup_duration_seconds",
		metric.WithDescription("Duration of a cleanup sweep"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return err
	}
	m.cleanupDuration = cleanupDuration

	writerQueueDepth, err := meter.Int64Gauge(
		"assetcache_writer_queue_depth",
		metric.WithDescription("Current depth of the write pipeline's submission queue"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return err
	}
	m.writerQueueDepth = writerQueueDepth

	negativeCacheSize, err := meter.Int64Gauge(
		"assetcache_negative_cache_size",
		metric.WithDescription("Current number of entries in the negative cache"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}
	m.negativeCacheSize = negativeCacheSize

	weakLiveEstimate, err := meter.Int64Gauge(
		"assetcache_weak_live_estimate",
		metric.WithDescription("Sampled estimate of live weak-tier entries"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}
	m.weakLiveEstimate = weakLiveEstimate

	globalMetrics = m
	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global
// state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordRequest records one Get call and its outcome: the tier that
// answered it (weak/memory/file/upstream), a negative-cache short-circuit,
// or "miss".
func RecordRequest(ctx context.Context, tier TierOutcome) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.requestsTotal.Add(ctx, 1)
	switch tier {
	case TierMiss:
		globalMetrics.missesTotal.Add(ctx, 1)
	case TierNegative:
		globalMetrics.negativeHits.Add(ctx, 1)
	default:
		globalMetrics.tierHitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(tier))))
	}
}

// RecordInflightJoin records one follower joining an in-flight upstream
// fetch instead of issuing its own.
func RecordInflightJoin(ctx context.Context) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.inflightJoins.Add(ctx, 1)
}

// RecordUpstreamFetch records one upstream fetch attempt and its outcome.
func RecordUpstreamFetch(ctx context.Context, ok bool) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.upstreamTotal.Add(ctx, 1)
	if !ok {
		globalMetrics.upstreamErrors.Add(ctx, 1)
	}
}

// RecordWriterJob records one writer-pool job outcome.
func RecordWriterJob(ctx context.Context, ok bool) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.writerJobsTotal.Add(ctx, 1)
	if !ok {
		globalMetrics.writerFailures.Add(ctx, 1)
	}
}

// RecordWriterQueueDepth records the writer pool's current queue depth.
func RecordWriterQueueDepth(ctx context.Context, depth int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.writerQueueDepth.Record(ctx, int64(depth))
}

// RecordCleanupRun records one cleanup sweep's outcome.
func RecordCleanupRun(ctx context.Context, duration time.Duration, filesDeleted, dirsRemoved int, bytesFreed int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cleanupRunsTotal.Add(ctx, 1)
	globalMetrics.cleanupDuration.Record(ctx, duration.Seconds())
	globalMetrics.cleanupFilesDeleted.Add(ctx, int64(filesDeleted))
	globalMetrics.cleanupDirsRemoved.Add(ctx, int64(dirsRemoved))
	globalMetrics.cleanupBytesFreed.Add(ctx, bytesFreed)
}

// RecordNegativeCacheSize records the negative cache's current entry count.
func RecordNegativeCacheSize(ctx context.Context, size int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.negativeCacheSize.Record(ctx, int64(size))
}

// RecordWeakLiveEstimate records the sampled live-entry estimate for the
// weak tier, the same figure the status control-surface verb reports.
func RecordWeakLiveEstimate(ctx context.Context, estimate int) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.weakLiveEstimate.Record(ctx, int64(estimate))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler. Returns a
// handler that returns 404 if Prometheus export is not enabled, allowing
// safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// noopExporter is a no-op metrics exporter for when no exporters are
// configured, so the meter provider still has somewhere to flush to.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
