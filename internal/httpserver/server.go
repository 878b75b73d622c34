package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/tsnorm/internal/convert"
	"github.com/tinytelemetry/tsnorm/internal/ingest"
	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/metrics"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = "127.0.0.1:3000"
	// DefaultMaxBodyBytes caps one ingest or convert request body.
	DefaultMaxBodyBytes = ingest.DefaultMaxDocumentBytes

	ingestSource = "http"
)

// Ingester normalizes raw payloads. *ingest.Normalizer satisfies it.
type Ingester interface {
	Ingest(source string, payload []byte) (*ingest.Result, error)
	Convert(payload []byte) (string, []model.Measurement, error)
}

// Server provides the HTTP ingest and query API.
type Server struct {
	addr         string
	store        model.ReadAPI
	ingester     Ingester
	maxBodyBytes int64
	server       *http.Server
	ctx          context.Context
	cancel       context.CancelFunc
	startTime    time.Time
	stopOnce     sync.Once
}

// Option customizes a Server.
type Option func(*Server)

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// NewServer creates a new HTTP API server. A nil ingester disables the
// ingest and convert routes.
func NewServer(addr string, store model.ReadAPI, ingester Ingester, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:         addr,
		store:        store,
		ingester:     ingester,
		maxBodyBytes: DefaultMaxBodyBytes,
		ctx:          ctx,
		cancel:       cancel,
		startTime:    time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.GinMiddleware())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/schema", s.handleSchema)
	api.POST("/query", s.handleQuery)

	v1 := api.Group("/v1")
	if s.ingester != nil {
		v1.POST("/ingest", s.handleIngest)
		v1.POST("/convert", s.handleConvert)
	}
	v1.GET("/measurements/recent", s.handleRecent)
	v1.GET("/measurements/names", s.handleNames)
	v1.GET("/rejections", s.handleRejections)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.Handler(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.addr = listener.Addr().String()
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Errorf("httpserver: serve: %v", err)
		}
	}()
	logging.Infof("httpserver: listening on %s", s.addr)
	return nil
}

// Addr returns the listen address. After Start it reflects the bound port.
func (s *Server) Addr() string { return s.addr }

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		if s.server == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(ctx)
	})
	return err
}

// statusFor maps a normalization error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, convert.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, convert.ErrInvalidDocument), errors.Is(err, convert.ErrStructuralViolation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// readBody reads the request body up to the configured limit.
func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("body exceeds %d bytes", s.maxBodyBytes)})
			return nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return nil, false
	}
	return body, true
}

// queryLimit parses the limit query parameter, falling back to def.
func queryLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return model.ClampLimit(n, def), true
}

func queryOpts(c *gin.Context) model.QueryOpts {
	return model.QueryOpts{Name: c.Query("name"), Format: c.Query("format")}
}

// pinger is implemented by stores that can check their connection.
type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(c *gin.Context) {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	count, err := s.store.TotalMeasurementCount(model.QueryOpts{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"uptime":            time.Since(s.startTime).String(),
		"measurement_count": count,
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	columns := []string{}
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

func (s *Server) handleIngest(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}

	res, err := s.ingester.Ingest(ingestSource, body)
	if err != nil {
		resp := gin.H{"error": err.Error()}
		if res != nil {
			resp["doc_id"] = res.DocID
		}
		c.JSON(statusFor(err), resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"doc_id":   res.DocID,
		"format":   res.Format,
		"count":    len(res.Records),
		"rejected": res.Rejected,
	})
}

func (s *Server) handleConvert(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}

	format, ms, err := s.ingester.Convert(body)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	out := make([]model.MeasurementJSON, len(ms))
	for i, m := range ms {
		out[i] = m.ToJSON()
	}
	c.JSON(http.StatusOK, gin.H{
		"format":       format,
		"count":        len(out),
		"measurements": out,
	})
}

func (s *Server) handleRecent(c *gin.Context) {
	limit, ok := queryLimit(c, model.DefaultRecentLimit)
	if !ok {
		return
	}
	records, err := s.store.RecentMeasurements(limit, queryOpts(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"measurements": model.RecordsToJSON(records)})
}

func (s *Server) handleNames(c *gin.Context) {
	limit, ok := queryLimit(c, model.DefaultTopLimit)
	if !ok {
		return
	}
	names, err := s.store.TopMeasurementNames(limit, queryOpts(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if names == nil {
		names = []model.NameCount{}
	}
	c.JSON(http.StatusOK, gin.H{"names": names})
}

func (s *Server) handleRejections(c *gin.Context) {
	limit, ok := queryLimit(c, model.DefaultRecentLimit)
	if !ok {
		return
	}
	rejections, err := s.store.RecentRejections(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rejections == nil {
		rejections = []model.Rejection{}
	}
	c.JSON(http.StatusOK, gin.H{"rejections": rejections})
}
