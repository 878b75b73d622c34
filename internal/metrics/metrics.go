// Package metrics holds the Prometheus collectors of the ingest pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values for DocumentsTotal.
const (
	OutcomeOK           = "ok"
	OutcomeMalformed    = "malformed"
	OutcomeInvalid      = "invalid"
	OutcomeStructural   = "structural"
	OutcomePartial      = "partial"
	OutcomeStorageError = "storage_error"
)

var (
	// Pipeline metrics
	DocumentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_documents_total",
		Help: "Input documents processed, by detected format and outcome",
	}, []string{"format", "outcome"})
	MeasurementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_measurements_total",
		Help: "Measurements produced, by format",
	}, []string{"format"})
	RejectedElementsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsnorm_rejected_elements_total",
		Help: "Array elements skipped in skip batch mode",
	})

	// Storage metrics
	StoreFlushTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsnorm_store_flush_total",
		Help: "Insert buffer flushes",
	})
	StoreFlushDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tsnorm_store_flush_duration_seconds",
		Help:    "Duration of insert buffer flushes in seconds",
		Buckets: prometheus.DefBuckets,
	})
	StoreBatchSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsnorm_store_batch_size",
		Help: "Size of the last flushed batch",
	})
	StoreFlushErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tsnorm_store_flush_errors_total",
		Help: "Insert buffer flushes that failed",
	})

	ExpiredRowsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_store_expired_rows_total",
		Help: "Rows removed by retention, by table",
	}, []string{"table"})

	// Forwarding metrics
	ForwardExportedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_forward_exported_total",
		Help: "Measurements exported downstream, by exporter",
	}, []string{"exporter"})
	ForwardErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_forward_errors_total",
		Help: "Failed export calls, by exporter",
	}, []string{"exporter"})
	ForwardDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_forward_dropped_total",
		Help: "Measurements dropped because an exporter queue was full",
	}, []string{"exporter"})

	// Source metrics
	SourceLinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_source_lines_total",
		Help: "Raw lines read, by input source",
	}, []string{"source"})

	// Backup metrics
	BackupRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_backup_runs_total",
		Help: "Backup runs, by result (ok, skipped, error)",
	}, []string{"result"})
	BackupLastSuccessSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tsnorm_backup_last_success_timestamp_seconds",
		Help: "Unix time of the last successful snapshot",
	})

	// Socket RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_rpc_requests_total",
		Help: "Socket RPC requests, by method and JSON-RPC error code (0 on success)",
	}, []string{"method", "code"})

	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tsnorm_http_requests_total",
		Help: "HTTP requests, by route and status code",
	}, []string{"method", "route", "status"})
	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tsnorm_http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	registerOnce sync.Once
)

func init() {
	InitMetrics()
}

// InitMetrics registers all collectors with the default registry.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DocumentsTotal,
			MeasurementsTotal,
			RejectedElementsTotal,
			StoreFlushTotal,
			StoreFlushDurationSeconds,
			StoreBatchSize,
			StoreFlushErrorsTotal,
			ExpiredRowsTotal,
			ForwardExportedTotal,
			ForwardErrorsTotal,
			ForwardDroppedTotal,
			SourceLinesTotal,
			BackupRunsTotal,
			BackupLastSuccessSeconds,
			RPCRequestsTotal,
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
		)
	})
}

// Handler exposes the registered metrics.
func Handler() http.Handler {
	InitMetrics()
	return promhttp.Handler()
}

// GinMiddleware counts requests and observes their latency per route.
func GinMiddleware() gin.HandlerFunc {
	InitMetrics()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// RecordDocument counts one processed document. An empty format is reported
// as "unknown".
func RecordDocument(format, outcome string) {
	if format == "" {
		format = "unknown"
	}
	DocumentsTotal.WithLabelValues(format, outcome).Inc()
}

// RecordMeasurements adds n produced measurements for format.
func RecordMeasurements(format string, n int) {
	if n <= 0 {
		return
	}
	MeasurementsTotal.WithLabelValues(format).Add(float64(n))
}

// RecordStoreFlush tracks a completed insert buffer flush.
func RecordStoreFlush(duration time.Duration, size int, err error) {
	if duration < 0 {
		duration = 0
	}
	StoreFlushTotal.Inc()
	StoreFlushDurationSeconds.Observe(duration.Seconds())
	StoreBatchSize.Set(float64(size))
	if err != nil {
		StoreFlushErrorsTotal.Inc()
	}
}

// RecordExport tracks one export call of n measurements.
func RecordExport(exporter string, n int, err error) {
	if err != nil {
		ForwardErrorsTotal.WithLabelValues(exporter).Inc()
		return
	}
	ForwardExportedTotal.WithLabelValues(exporter).Add(float64(n))
}

// RecordDropped tracks measurements an exporter queue could not accept.
func RecordDropped(exporter string, n int) {
	ForwardDroppedTotal.WithLabelValues(exporter).Add(float64(n))
}

// RecordBackup tracks one backup run. kind "skipped" means nothing changed.
func RecordBackup(kind string, err error) {
	switch {
	case err != nil:
		BackupRunsTotal.WithLabelValues("error").Inc()
	case kind == "skipped":
		BackupRunsTotal.WithLabelValues("skipped").Inc()
	default:
		BackupRunsTotal.WithLabelValues("ok").Inc()
		BackupLastSuccessSeconds.SetToCurrentTime()
	}
}

// RecordSourceLine counts one line handed to the ingest loop.
func RecordSourceLine(source string) {
	SourceLinesTotal.WithLabelValues(source).Inc()
}

// RecordExpired adds rows removed by one retention pass.
func RecordExpired(measurements, rejections int64) {
	ExpiredRowsTotal.WithLabelValues("measurements").Add(float64(measurements))
	ExpiredRowsTotal.WithLabelValues("rejections").Add(float64(rejections))
}

// RecordRPC counts one socket RPC request. Unknown methods are folded into
// one label value so clients cannot grow the series set.
func RecordRPC(method string, known bool, code int) {
	if !known {
		method = "unknown"
	}
	RPCRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
