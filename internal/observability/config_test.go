package observability

import (
	"testing"

	"github.com/smallbiznis/genealogy/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigClampsAndDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment: "production",
		Telemetry: config.TelemetryConfig{
			LogLevel:      "info",
			OTLPProtocol:  "udp",
			SamplingRatio: 3,
		},
	})

	assert.Equal(t, "genealogy", cfg.ServiceName)
	assert.Equal(t, "grpc", cfg.Protocol)
	assert.Equal(t, 1.0, cfg.SamplingRatio)
	assert.False(t, cfg.Debug())
}

func TestDebugForLocalEnvironments(t *testing.T) {
	assert.True(t, Config{Environment: "Development"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "DEBUG"}.Debug())
	assert.False(t, Config{Environment: "staging"}.Debug())
}
