package observability

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest("/auth/login", "POST", 200, 15*time.Millisecond)
	m.RecordRequest("/auth/login", "POST", 200, 5*time.Millisecond)
	m.RecordError("/auth/login", "POST", "UNAUTHORIZED")
	m.RecordAuth("login", "success")
	m.RecordAuth("login", "success")
	m.RecordAuth("refresh", "invalid")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/auth/login", "POST", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("/auth/login", "POST", "UNAUTHORIZED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.auth.WithLabelValues("login", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auth.WithLabelValues("refresh", "invalid")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/", "GET", 200, time.Millisecond)
		m.RecordError("/", "GET", "X")
		m.RecordAuth("login", "success")
	})
}

func TestMetricsHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.RecordAuth("logout", "success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `session_service_auth_operations_total{operation="logout",outcome="success"} 1`)
}
