package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	PortalAddr  string

	Telemetry TelemetryConfig

	SnowflakeNode int64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	DBMetricsEnabled  bool
	DBTracingEnabled  bool

	UID UIDConfig

	Catalog CatalogConfig

	RateLimit RateLimitConfig

	GenealogyConfigPath string

	// SeedDemo loads a small demo genealogy on startup outside production.
	SeedDemo bool
}

// TelemetryConfig feeds logging, tracing and metrics. OpenTelemetry export
// defaults to on in production only.
type TelemetryConfig struct {
	LogLevel       string
	LogFormat      string
	OTLPEndpoint   string
	OTLPProtocol   string
	TracesEnabled  bool
	MetricsEnabled bool
	SamplingRatio  float64
	SlowQuery      time.Duration
}

// UIDConfig supplies the codes used when a request does not carry its own.
type UIDConfig struct {
	DefaultTenantCode string
	DefaultPlantCode  string
}

type CatalogConfig struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

type RateLimitConfig struct {
	Enabled           bool
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	PublicTokenRate   float64
	PublicTokenBurst  int
	PublicUpdateRate  float64
	PublicUpdateBurst int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	otelDefault := strings.EqualFold(strings.TrimSpace(environment), "production")
	otelEnabled := getenvBool("OTEL_ENABLED", otelDefault)

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "genealogy"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   environment,
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PortalAddr:    getenv("PORTAL_ADDR", ":8081"),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "genealogy"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "genealogy.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: getenvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		DBConnMaxIdleTime: getenvDuration("DATABASE_CONN_MAX_IDLE_TIME", 5*time.Minute),
		DBMetricsEnabled:  getenvBool("DATABASE_METRICS_ENABLED", true),
		DBTracingEnabled:  getenvBool("DATABASE_TRACING_ENABLED", true),

		Telemetry: TelemetryConfig{
			LogLevel:       strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:      strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTLPEndpoint:   strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OTLPProtocol:   strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			TracesEnabled:  getenvBool("OTEL_TRACES_ENABLED", otelEnabled),
			MetricsEnabled: getenvBool("OTEL_METRICS_ENABLED", otelEnabled),
			SamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			SlowQuery:      getenvDuration("DATABASE_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		},

		UID: UIDConfig{
			DefaultTenantCode: strings.ToUpper(strings.TrimSpace(getenv("UID_TENANT_CODE", ""))),
			DefaultPlantCode:  strings.ToUpper(strings.TrimSpace(getenv("UID_PLANT_CODE", ""))),
		},

		Catalog: CatalogConfig{
			BaseURL: strings.TrimRight(strings.TrimSpace(getenv("CATALOG_BASE_URL", "")), "/"),
			Timeout: getenvDuration("CATALOG_TIMEOUT", 5*time.Second),
			APIKey:  strings.TrimSpace(getenv("CATALOG_API_KEY", "")),
		},

		RateLimit: RateLimitConfig{
			Enabled:           getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:         strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")),
			RedisPassword:     getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:           int(getenvInt64("RATE_LIMIT_REDIS_DB", 0)),
			PublicTokenRate:   getenvFloat("RATE_LIMIT_PUBLIC_TOKEN_RATE", 2),
			PublicTokenBurst:  int(getenvInt64("RATE_LIMIT_PUBLIC_TOKEN_BURST", 20)),
			PublicUpdateRate:  getenvFloat("RATE_LIMIT_PUBLIC_UPDATE_RATE", 0.1),
			PublicUpdateBurst: int(getenvInt64("RATE_LIMIT_PUBLIC_UPDATE_BURST", 3)),
		},

		GenealogyConfigPath: strings.TrimSpace(getenv("GENEALOGY_CONFIG_PATH", "")),
		SeedDemo:            getenvBool("SEED_DEMO", false),
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
