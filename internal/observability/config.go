package observability

import (
	"strings"
	"time"

	"github.com/smallbiznis/genealogy/internal/config"
)

// Config is the observability slice of the application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	TracesEnabled  bool
	MetricsEnabled bool
	Endpoint       string
	Protocol       string
	SamplingRatio  float64

	SlowQueryThreshold time.Duration
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "genealogy"
	}
	ratio := cfg.Telemetry.SamplingRatio
	switch {
	case ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}
	protocol := cfg.Telemetry.OTLPProtocol
	if protocol != "http" {
		protocol = "grpc"
	}

	return Config{
		ServiceName:        serviceName,
		Environment:        strings.TrimSpace(cfg.Environment),
		Version:            strings.TrimSpace(cfg.AppVersion),
		LogLevel:           cfg.Telemetry.LogLevel,
		LogFormat:          cfg.Telemetry.LogFormat,
		TracesEnabled:      cfg.Telemetry.TracesEnabled,
		MetricsEnabled:     cfg.Telemetry.MetricsEnabled,
		Endpoint:           cfg.Telemetry.OTLPEndpoint,
		Protocol:           protocol,
		SamplingRatio:      ratio,
		SlowQueryThreshold: cfg.Telemetry.SlowQuery,
	}
}

// Debug is on for debug log level and for local environments.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}
