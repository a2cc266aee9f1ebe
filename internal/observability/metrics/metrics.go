package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the genealogy domain instruments. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	uidsCreated          metric.Int64Counter
	assemblies           metric.Int64Counter
	consumptionConflicts metric.Int64Counter
	mutationRetries      metric.Int64Counter
	traversals           metric.Int64Counter
	traversalNodes       metric.Int64Histogram
	deployments          metric.Int64Counter
	publicTokenUpdates   metric.Int64Counter
	publicTokenRejected  metric.Int64Counter
	rateLimitAllowed     metric.Int64Counter
	rateLimitDenied      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "genealogy"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.uidsCreated, "genealogy_uids_created_total", "UIDs allocated, by entity type."},
		{&m.assemblies, "genealogy_assemblies_total", "Assemble and link operations, by outcome."},
		{&m.consumptionConflicts, "genealogy_consumption_conflicts_total", "Assemblies rejected because a parent was already consumed."},
		{&m.mutationRetries, "genealogy_mutation_retries_total", "Graph mutations replayed after a concurrency conflict."},
		{&m.traversals, "genealogy_traversals_total", "Read traversals, by kind."},
		{&m.deployments, "genealogy_deployments_total", "Deployment records created, by level."},
		{&m.publicTokenUpdates, "genealogy_public_token_updates_total", "Deployments created through a public token."},
		{&m.publicTokenRejected, "genealogy_public_token_rejections_total", "Public token requests rejected, by reason."},
		{&m.rateLimitAllowed, "genealogy_rate_limit_allowed_total", "Requests admitted by the rate limiter."},
		{&m.rateLimitDenied, "genealogy_rate_limit_denied_total", "Requests refused by the rate limiter."},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.target = counter
	}

	nodes, err := meter.Int64Histogram("genealogy_traversal_nodes",
		metric.WithDescription("Nodes visited per traversal."))
	if err != nil {
		return nil, err
	}
	m.traversalNodes = nodes

	return m, nil
}

func (m *Metrics) RecordUIDCreated(ctx context.Context, orgID, entityType string) {
	if m == nil {
		return
	}
	m.uidsCreated.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("entity_type", strings.TrimSpace(entityType)),
	)...))
}

// RecordAssembly counts an assemble or link attempt. outcome is one of
// "ok", "conflict", "concurrency" or "error".
func (m *Metrics) RecordAssembly(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	m.assemblies.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)...))
	if outcome == "conflict" {
		m.consumptionConflicts.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
			attribute.String("operation", strings.TrimSpace(operation)),
		)...))
	}
}

func (m *Metrics) RecordMutationRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.mutationRetries.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
	)...))
}

func (m *Metrics) RecordTraversal(ctx context.Context, kind string, visited int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))...)
	m.traversals.Add(ctx, 1, attrs)
	m.traversalNodes.Record(ctx, int64(visited), attrs)
}

func (m *Metrics) RecordDeployment(ctx context.Context, level string) {
	if m == nil {
		return
	}
	m.deployments.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("deployment_level", strings.TrimSpace(level)),
	)...))
}

func (m *Metrics) RecordPublicTokenUpdate(ctx context.Context) {
	if m == nil {
		return
	}
	m.publicTokenUpdates.Add(ctx, 1)
}

func (m *Metrics) RecordPublicTokenRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.publicTokenRejected.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// UIDs and deployment ids are never labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":           {},
	"entity_type":      {},
	"operation":        {},
	"outcome":          {},
	"kind":             {},
	"deployment_level": {},
	"endpoint":         {},
	"status_code":      {},
	"reason":           {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
