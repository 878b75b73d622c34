package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRecordDocument(t *testing.T) {
	before := counterValue(t, DocumentsTotal.WithLabelValues("collectd", OutcomeOK))
	RecordDocument("collectd", OutcomeOK)
	RecordDocument("collectd", OutcomeOK)
	if got := counterValue(t, DocumentsTotal.WithLabelValues("collectd", OutcomeOK)) - before; got != 2 {
		t.Fatalf("documents delta = %v, want 2", got)
	}

	unknownBefore := counterValue(t, DocumentsTotal.WithLabelValues("unknown", OutcomeMalformed))
	RecordDocument("", OutcomeMalformed)
	if got := counterValue(t, DocumentsTotal.WithLabelValues("unknown", OutcomeMalformed)) - unknownBefore; got != 1 {
		t.Fatalf("unknown delta = %v, want 1", got)
	}
}

func TestRecordExport(t *testing.T) {
	okBefore := counterValue(t, ForwardExportedTotal.WithLabelValues("test"))
	errBefore := counterValue(t, ForwardErrorsTotal.WithLabelValues("test"))

	RecordExport("test", 5, nil)
	RecordExport("test", 5, errors.New("boom"))

	if got := counterValue(t, ForwardExportedTotal.WithLabelValues("test")) - okBefore; got != 5 {
		t.Fatalf("exported delta = %v, want 5", got)
	}
	if got := counterValue(t, ForwardErrorsTotal.WithLabelValues("test")) - errBefore; got != 1 {
		t.Fatalf("errors delta = %v, want 1", got)
	}
}

func TestRecordStoreFlush(t *testing.T) {
	before := counterValue(t, StoreFlushTotal)
	RecordStoreFlush(-time.Second, 42, nil)
	if got := counterValue(t, StoreFlushTotal) - before; got != 1 {
		t.Fatalf("flush delta = %v, want 1", got)
	}
	var m dto.Metric
	if err := StoreBatchSize.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 42 {
		t.Fatalf("batch size = %v, want 42", got)
	}
}

func TestGinMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(Handler()))

	before := counterValue(t, HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/ping", "200"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}
	if got := counterValue(t, HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/ping", "200")) - before; got != 1 {
		t.Fatalf("request delta = %v, want 1", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tsnorm_http_requests_total") {
		t.Fatal("metrics output missing tsnorm_http_requests_total")
	}
}

func TestRecordBackup(t *testing.T) {
	ok := counterValue(t, BackupRunsTotal.WithLabelValues("ok"))
	skipped := counterValue(t, BackupRunsTotal.WithLabelValues("skipped"))
	failed := counterValue(t, BackupRunsTotal.WithLabelValues("error"))

	RecordBackup("snapshot", nil)
	RecordBackup("skipped", nil)
	RecordBackup("snapshot", errors.New("disk full"))

	if counterValue(t, BackupRunsTotal.WithLabelValues("ok"))-ok != 1 ||
		counterValue(t, BackupRunsTotal.WithLabelValues("skipped"))-skipped != 1 ||
		counterValue(t, BackupRunsTotal.WithLabelValues("error"))-failed != 1 {
		t.Fatal("backup run counters did not move by one each")
	}

	var m dto.Metric
	if err := BackupLastSuccessSeconds.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if age := time.Since(time.Unix(int64(m.GetGauge().GetValue()), 0)); age > time.Minute {
		t.Fatalf("last success gauge is %v old", age)
	}
}
