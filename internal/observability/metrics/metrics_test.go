package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("org_id", "123"),
		attribute.String("uid", "UID-AC-P1-RM-000001-00"),
		attribute.String("entity_type", "RAW_MATERIAL"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("org_id"))
	assert.Contains(t, keys, attribute.Key("entity_type"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordUIDCreated(context.Background(), "1", "RAW_MATERIAL")
	m.RecordAssembly(context.Background(), "assemble", "conflict")
	m.RecordTraversal(context.Background(), "descendants", 3)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordAssembly(context.Background(), "link", "ok")
	m.RecordPublicTokenRejected(context.Background(), "stale")
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetrics(reg)
	require.NoError(t, err)

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/uids/:uid", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/uids/UID-X", nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/uids/:uid", "200")))
}
