package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/tsnorm/internal/duckdb"
	"github.com/tinytelemetry/tsnorm/internal/ingest"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	badgeDoc = `{"measurement":"badge","tags":{"collector":"vrops","color":"GREEN","fqdn":"macvlid00364.xmp.net.intra"},"time":1457432331641,"value":100}`
	diskDoc  = `{"values":[0,0],"dstypes":["derive","derive"],"dsnames":["read","write"],"time":1457350114.593,"interval":60.000,"host":"macvlid00497.xmp.net.intra","plugin":"disk","plugin_instance":"rootvg-swap","type":"disk_merged","type_instance":"","meta":{"tsdb_tag_pluginInstance":"name","tsdb_prefix":"sys.","tsdb_metric":"sys.disk","tsdb_tag_dsname":"direction","tsdb_tag_add_collector":"collectd"}}`
)

// storeSink writes each record straight to the store so reads in the same
// test observe it.
type storeSink struct {
	t     *testing.T
	store *duckdb.Store
}

func (s storeSink) Add(record *model.MeasurementRecord) {
	if err := s.store.InsertMeasurementBatch([]*model.MeasurementRecord{record}); err != nil {
		s.t.Errorf("insert: %v", err)
	}
}

func newTestServer(t *testing.T, opts ...Option) (*duckdb.Store, http.Handler) {
	t.Helper()
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	normalizer := ingest.NewNormalizer(nil, storeSink{t: t, store: store},
		ingest.WithRejectSink(ingest.StoreRejectSink{Writer: store}))
	srv := NewServer("", store, normalizer, opts...)
	return store, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %s: %v", w.Body.String(), err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	body := decode(t, w)
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
	if body["measurement_count"] != float64(0) {
		t.Errorf("measurement_count = %v, want 0", body["measurement_count"])
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/health", "")
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	store, h := newTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantFormat string
		wantCount  float64
	}{
		{"simple object", badgeDoc, "simple", 1},
		{"simple array", "[" + badgeDoc + "," + badgeDoc + "]", "simple", 2},
		{"collectd envelope", diskDoc, "collectd", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/ingest", tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
			}
			body := decode(t, w)
			if body["format"] != tt.wantFormat || body["count"] != tt.wantCount {
				t.Fatalf("response = %v, want format %s count %v", body, tt.wantFormat, tt.wantCount)
			}
			if id, _ := body["doc_id"].(string); id == "" {
				t.Fatal("missing doc_id")
			}
		})
	}

	count, err := store.TotalMeasurementCount(model.QueryOpts{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 5 {
		t.Fatalf("stored = %d, want 5", count)
	}
}

func TestIngestEndpoint_Errors(t *testing.T) {
	store, h := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"measurement":`, http.StatusBadRequest},
		{"unrecognized", `{"foo":1}`, http.StatusUnprocessableEntity},
		{"structural", `{"values":[0,0],"dstypes":["gauge","gauge"],"dsnames":["a"],"time":1,"interval":10,"host":"h","plugin":"p","plugin_instance":"","type":"t","type_instance":"ti","meta":{"tsdb_tag_add_collector":"collectd"}}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/ingest", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
			body := decode(t, w)
			if body["error"] == nil || body["doc_id"] == nil {
				t.Fatalf("response = %v, want error and doc_id", body)
			}
		})
	}

	rejections, err := store.RecentRejections(10)
	if err != nil {
		t.Fatalf("RecentRejections: %v", err)
	}
	if len(rejections) != len(tests) {
		t.Fatalf("rejections = %d, want %d", len(rejections), len(tests))
	}
	if count, _ := store.TotalMeasurementCount(model.QueryOpts{}); count != 0 {
		t.Fatalf("stored = %d after failures, want 0", count)
	}
}

func TestIngestEndpoint_BodyLimit(t *testing.T) {
	_, h := newTestServer(t, WithMaxBodyBytes(16))

	w := do(t, h, http.MethodPost, "/api/v1/ingest", badgeDoc)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestConvertEndpoint_DoesNotStore(t *testing.T) {
	store, h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/convert", diskDoc)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Format       string
		Count        int
		Measurements []model.MeasurementJSON
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Format != "collectd" || resp.Count != 2 || len(resp.Measurements) != 2 {
		t.Fatalf("response = %+v", resp)
	}
	first := resp.Measurements[0].Measurement()
	if first.Name != "sys.disk" || first.Timestamp != 1457350114593 || first.Tags["direction"] != "read" {
		t.Fatalf("first measurement = %v", first)
	}

	if count, _ := store.TotalMeasurementCount(model.QueryOpts{}); count != 0 {
		t.Fatalf("convert stored %d records", count)
	}
}

func TestConvertEndpoint_NaNValue(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/convert", `{"values":["NaN"],"dstypes":["gauge"],"dsnames":["value"],"time":1,"interval":10,"host":"h","plugin":"p","plugin_instance":"","type":"t","type_instance":"ti","meta":{"tsdb_tag_add_collector":"collectd"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"value":"NaN"`) {
		t.Fatalf("body = %s, want NaN encoded as string", w.Body.String())
	}
}

func TestRecentAndNamesEndpoints(t *testing.T) {
	_, h := newTestServer(t)

	for _, doc := range []string{badgeDoc, diskDoc} {
		if w := do(t, h, http.MethodPost, "/api/v1/ingest", doc); w.Code != http.StatusOK {
			t.Fatalf("ingest status = %d", w.Code)
		}
	}

	w := do(t, h, http.MethodGet, "/api/v1/measurements/recent?format=collectd", "")
	if w.Code != http.StatusOK {
		t.Fatalf("recent status = %d", w.Code)
	}
	var recent struct {
		Measurements []model.RecordJSON
	}
	if err := json.Unmarshal(w.Body.Bytes(), &recent); err != nil {
		t.Fatalf("unmarshal recent: %v", err)
	}
	if len(recent.Measurements) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent.Measurements))
	}
	for _, r := range recent.Measurements {
		if r.Format != "collectd" || r.Source != ingestSource {
			t.Fatalf("unexpected record %+v", r)
		}
	}

	w = do(t, h, http.MethodGet, "/api/v1/measurements/names?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("names status = %d", w.Code)
	}
	var names struct {
		Names []model.NameCount
	}
	if err := json.Unmarshal(w.Body.Bytes(), &names); err != nil {
		t.Fatalf("unmarshal names: %v", err)
	}
	if len(names.Names) != 1 || names.Names[0].Name != "sys.disk" || names.Names[0].Count != 2 {
		t.Fatalf("names = %+v", names.Names)
	}

	if w := do(t, h, http.MethodGet, "/api/v1/measurements/recent?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", w.Code)
	}
}

func TestRejectionsEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	do(t, h, http.MethodPost, "/api/v1/ingest", `not json`)

	w := do(t, h, http.MethodGet, "/api/v1/rejections", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Rejections []model.Rejection
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Rejections) != 1 || resp.Rejections[0].Index != -1 || resp.Rejections[0].Source != ingestSource {
		t.Fatalf("rejections = %+v", resp.Rejections)
	}
}

func TestQueryEndpoint_ValidSelect(t *testing.T) {
	_, h := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/ingest", badgeDoc)

	body, _ := json.Marshal(map[string]string{"sql": "SELECT name, value FROM measurements"})
	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["row_count"] != float64(1) {
		t.Errorf("row_count = %v, want 1", resp["row_count"])
	}
}

func TestQueryEndpoint_Rejected(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing sql", `{}`},
		{"invalid json", `{bad`},
		{"write statement", `{"sql":"DELETE FROM measurements"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/query", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSchemaEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/schema", "")
	if w.Code != http.StatusOK {
		t.Fatalf("schema status = %d", w.Code)
	}
	var resp struct {
		Tables    map[string][]map[string]string `json:"tables"`
		RowCounts map[string]int64               `json:"row_counts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := resp.Tables["measurements"]; !ok {
		t.Fatalf("tables = %v, want measurements", resp.Tables)
	}
	if _, ok := resp.RowCounts["rejections"]; !ok {
		t.Fatalf("row_counts = %v, want rejections", resp.RowCounts)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	do(t, h, http.MethodPost, "/api/v1/ingest", badgeDoc)

	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tsnorm_") {
		t.Fatalf("metrics output lacks tsnorm_ series")
	}
}

func TestIngestRoutesDisabledWithoutIngester(t *testing.T) {
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	h := NewServer("", store, nil).Handler()
	if w := do(t, h, http.MethodPost, "/api/v1/ingest", badgeDoc); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestStartStop(t *testing.T) {
	store, err := duckdb.NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	srv := NewServer("127.0.0.1:0", store, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
