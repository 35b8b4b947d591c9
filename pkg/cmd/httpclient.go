package cmd

import (
	"fmt"

	"github.com/potatman/EventHorizon-sub000/pkg/env"
	"github.com/potatman/EventHorizon-sub000/pkg/http"
	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/metric"
	pkgstrings "github.com/potatman/EventHorizon-sub000/pkg/strings"
)

// DestinationURL reads <DESTINATION>_URL, e.g. PULSAR_ADMIN_URL for the pulsar-admin destination.
func DestinationURL(dest http.Destination) (string, error) {
	urlEnv := fmt.Sprintf("%s_URL", pkgstrings.ToScreamingSnakeCase(string(dest)))
	return env.Parse[string](urlEnv)
}

func MustDestinationURL(dest http.Destination) string {
	return env.Must(DestinationURL(dest))
}

// HTTPClientOptions are the options every outgoing client of a worker shares.
func HTTPClientOptions(logger log.Logger, metrics metric.Metrics) []http.ClientOption {
	return []http.ClientOption{
		http.WithRequestLogging(logger, log.LevelDebug, log.LevelWarn),
		http.WithRequestMetrics(metrics),
	}
}
