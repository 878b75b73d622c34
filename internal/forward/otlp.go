package forward

import (
	"context"
	"fmt"
	"math"
	"sort"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"

	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	serviceName = "tsnorm"
	scopeName   = "github.com/tinytelemetry/tsnorm/internal/forward"
)

// OTLPConfig configures an OTLPExporter.
type OTLPConfig struct {
	Endpoint string // host:port of an OTLP/gRPC receiver
	Headers  map[string]string
}

// OTLPExporter sends measurements as OTLP gauge data points over gRPC.
type OTLPExporter struct {
	conn    *grpc.ClientConn
	client  colmetricspb.MetricsServiceClient
	headers map[string]string
}

// NewOTLPExporter creates an exporter. The connection is established lazily
// on the first export.
func NewOTLPExporter(conf OTLPConfig) (*OTLPExporter, error) {
	if conf.Endpoint == "" {
		return nil, fmt.Errorf("otlp: endpoint is required")
	}
	conn, err := grpc.NewClient(conf.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("otlp: dial %s: %w", conf.Endpoint, err)
	}
	return &OTLPExporter{
		conn:    conn,
		client:  colmetricspb.NewMetricsServiceClient(conn),
		headers: conf.Headers,
	}, nil
}

func (e *OTLPExporter) Name() string { return "otlp" }

func (e *OTLPExporter) Export(ctx context.Context, ms []model.Measurement) error {
	if len(ms) == 0 {
		return nil
	}
	if len(e.headers) > 0 {
		pairs := make([]string, 0, len(e.headers)*2)
		for k, v := range e.headers {
			pairs = append(pairs, k, v)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
	}

	req := buildRequest(ms)
	logging.Debugf("forward: otlp export of %d measurements (%d bytes)", len(ms), proto.Size(req))
	resp, err := e.client.Export(ctx, req)
	if err != nil {
		return fmt.Errorf("otlp: export: %w", err)
	}
	if ps := resp.GetPartialSuccess(); ps != nil && ps.GetRejectedDataPoints() > 0 {
		return fmt.Errorf("otlp: receiver rejected %d data points: %s", ps.GetRejectedDataPoints(), ps.GetErrorMessage())
	}
	return nil
}

func (e *OTLPExporter) Close() error {
	return e.conn.Close()
}

// buildRequest groups measurements by name into one gauge metric each,
// preserving first-seen order.
func buildRequest(ms []model.Measurement) *colmetricspb.ExportMetricsServiceRequest {
	var metrics []*metricspb.Metric
	byName := make(map[string]*metricspb.Gauge)
	for _, m := range ms {
		g, ok := byName[m.Name]
		if !ok {
			g = &metricspb.Gauge{}
			byName[m.Name] = g
			metrics = append(metrics, &metricspb.Metric{
				Name: m.Name,
				Data: &metricspb.Metric_Gauge{Gauge: g},
			})
		}
		g.DataPoints = append(g.DataPoints, &metricspb.NumberDataPoint{
			Attributes:   attributes(m.Tags),
			TimeUnixNano: unixNano(m),
			Value:        &metricspb.NumberDataPoint_AsDouble{AsDouble: m.Value},
		})
	}

	return &colmetricspb.ExportMetricsServiceRequest{
		ResourceMetrics: []*metricspb.ResourceMetrics{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{stringAttr("service.name", serviceName)},
			},
			ScopeMetrics: []*metricspb.ScopeMetrics{{
				Scope:   &commonpb.InstrumentationScope{Name: scopeName},
				Metrics: metrics,
			}},
		}},
	}
}

func attributes(tags map[string]string) []*commonpb.KeyValue {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*commonpb.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, stringAttr(k, tags[k]))
	}
	return out
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

// maxUnixMillis is the largest millisecond timestamp whose nanosecond value
// fits in a uint64.
const maxUnixMillis = math.MaxUint64 / 1e6

// unixNano converts the millisecond timestamp, clamping values outside the
// uint64 nanosecond range.
func unixNano(m model.Measurement) uint64 {
	ts := m.Timestamp
	switch {
	case math.IsNaN(ts) || ts <= 0:
		return 0
	case ts >= maxUnixMillis:
		return math.MaxUint64
	}
	whole := math.Floor(ts)
	return uint64(whole)*1e6 + uint64((ts-whole)*1e6)
}
