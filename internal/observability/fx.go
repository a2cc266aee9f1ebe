package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/genealogy/internal/observability/logger"
	"github.com/smallbiznis/genealogy/internal/observability/metrics"
	"github.com/smallbiznis/genealogy/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	gormlogger "gorm.io/gorm/logger"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		provideLoggerConfig,
		logger.New,
		provideGormLogger,
		provideTracingConfig,
		tracing.NewProvider,
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		providePrometheus,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(ensureTracingProvider),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

// The gorm prometheus plugin registers on the default registry, so the
// HTTP collectors share it.
func providePrometheus() (prometheus.Registerer, prometheus.Gatherer) {
	return prometheus.DefaultRegisterer, prometheus.DefaultGatherer
}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideGormLogger(cfg Config) gormlogger.Interface {
	gcfg := logger.DefaultGormLoggerConfig()
	if cfg.SlowQueryThreshold > 0 {
		gcfg.SlowThreshold = cfg.SlowQueryThreshold
	}
	if cfg.Debug() {
		gcfg.Level = gormlogger.Info
	}
	return logger.NewGormLogger(gcfg)
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.TracesEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.Endpoint,
		ExporterProtocol: cfg.Protocol,
		SamplingRatio:    cfg.SamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.MetricsEnabled,
		ExporterEndpoint: cfg.Endpoint,
		ExporterProtocol: cfg.Protocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}
