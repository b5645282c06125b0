package obs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	HealthHandler(func(context.Context) error { return nil }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	HealthHandler(func(context.Context) error { return errors.New("db down") }).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHTTPMetrics_Wrap(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	h := m.Wrap("/login", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil))
	}

	assert.InDelta(t, 3, testutil.ToFloat64(m.requests.WithLabelValues("/login", http.MethodPost, "401")), 0)
}

func TestHTTPMetrics_ImplicitOK(t *testing.T) {
	t.Parallel()

	m := NewHTTPMetrics(prometheus.NewRegistry())
	h := m.Wrap("/me", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.InDelta(t, 1, testutil.ToFloat64(m.requests.WithLabelValues("/me", http.MethodGet, "200")), 0)
}

func TestAuthMetrics(t *testing.T) {
	t.Parallel()

	m := NewAuthMetrics(prometheus.NewRegistry())
	m.Observe("login", "ok")
	m.Observe("login", "invalid")
	m.Observe("login", "invalid")

	assert.InDelta(t, 2, testutil.ToFloat64(m.ops.WithLabelValues("login", "invalid")), 0)

	var nilMetrics *AuthMetrics
	require.NotPanics(t, func() { nilMetrics.Observe("login", "ok") })
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}
