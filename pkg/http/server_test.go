package http_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkghttp "github.com/potatman/EventHorizon-sub000/pkg/http"
	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/metric"
)

func TestServer_HealthCheck(t *testing.T) {
	tests := []struct {
		name         string
		checks       []pkghttp.HealthCheck
		expectedCode int
	}{
		{
			name:         "healthy_without_checks",
			expectedCode: http.StatusOK,
		},
		{
			name: "unhealthy_when_check_fails",
			checks: []pkghttp.HealthCheck{
				func(context.Context) error { return nil },
				func(context.Context) error { return errors.New("broker unavailable") },
			},
			expectedCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := pkghttp.NewServer("", pkghttp.WithHealthCheck(tt.checks...))

			resp := httptest.NewRecorder()
			srv.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, pkghttp.HealthPath, nil))

			assert.Equal(t, tt.expectedCode, resp.Code)
			assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
		})
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := metric.NewPrometheusMetrics("test", registry)
	srv := pkghttp.NewServer("",
		pkghttp.WithMetrics(metrics),
		pkghttp.WithMetricsEndpoint(registry),
	)
	srv.Register(http.MethodGet, "/streams/{id}", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	resp := httptest.NewRecorder()
	srv.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/streams/42", nil))
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = httptest.NewRecorder()
	srv.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, pkghttp.MetricsPath, nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `test_http_api_request_duration_seconds_count{code="204",method="GET",path="/streams/{id}"} 1`)
}

func TestServer_PanicRecovery(t *testing.T) {
	srv := pkghttp.NewServer("", pkghttp.WithPanicRecovery(log.New(log.LevelDisabled)))
	srv.Register(http.MethodPost, "/panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	resp := httptest.NewRecorder()
	srv.Handler().ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}
