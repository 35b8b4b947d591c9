package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

const HealthPath = "/healthz"

type HealthCheck func(context.Context) error

// WithHealthCheck serves HealthPath, the service is unhealthy while any check fails.
func WithHealthCheck(checks ...HealthCheck) ServerOption {
	handler := func(w http.ResponseWriter, r *http.Request) {
		status, code := "OK", http.StatusOK
		for _, check := range checks {
			if err := check(r.Context()); err != nil {
				status, code = err.Error(), http.StatusServiceUnavailable
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(struct {
			Status string `json:"status"`
		}{
			Status: status,
		})
	}

	return func(router *mux.Router) {
		router.
			Name(getRouteName(http.MethodGet, HealthPath)).
			Methods(http.MethodGet).
			Path(HealthPath).
			HandlerFunc(handler)
	}
}
