package http

import (
	"net/http"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
)

func WithLogging(logger log.Logger, excludedPaths ...string) ServerOption {
	excludedPaths = append(excludedPaths,
		HealthPath,
		MetricsPath,
	)

	isExcluded := func(path string) bool {
		for _, excludedPath := range excludedPaths {
			if excludedPath == path {
				return true
			}
		}
		return false
	}

	return WithMW(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExcluded(r.URL.Path) {
				handler.ServeHTTP(w, r)
				return
			}

			srw := &statusResponseWriter{w, http.StatusOK}
			handler.ServeHTTP(srw, r)

			logger.With(log.Fields{
				"routeName":    getRouteName(r.Method, r.URL.Path),
				"method":       r.Method,
				"path":         r.URL.Path,
				"uri":          r.RequestURI,
				"responseCode": srw.code,
			}).Info(r.Context(), "request handled")
		})
	})
}

func WithPanicRecovery(logger log.Logger) ServerOption {
	return WithMW(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				panicMsg := recover()
				if panicMsg == nil {
					return
				}

				logger.With(log.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  panicMsg,
				}).Error(r.Context(), "request handled with panic")
				w.WriteHeader(http.StatusInternalServerError)
			}()

			handler.ServeHTTP(w, r)
		})
	})
}
