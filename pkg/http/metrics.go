package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/potatman/EventHorizon-sub000/pkg/metric"
)

const MetricsPath = "/metrics"

// WithMetricsEndpoint exposes the gathered collectors in the prometheus text format.
func WithMetricsEndpoint(gatherer prometheus.Gatherer) ServerOption {
	return func(router *mux.Router) {
		router.
			Name(getRouteName(http.MethodGet, MetricsPath)).
			Methods(http.MethodGet).
			Path(MetricsPath).
			Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func WithMetrics(metrics metric.Metrics) ServerOption {
	return WithMW(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			srw := &statusResponseWriter{w, http.StatusOK}
			handler.ServeHTTP(srw, r)

			metrics.With(metric.Labels{
				"method": r.Method,
				"path":   routePath(r),
				"code":   fmt.Sprintf("%d", srw.code),
			}).Duration("http_api_request_duration_seconds", time.Since(started))
		})
	})
}

func routePath(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}

	template, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}
	return template
}
