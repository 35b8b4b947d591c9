package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/potatman/EventHorizon-sub000/data/sql/consumer"
	pkgcmd "github.com/potatman/EventHorizon-sub000/pkg/cmd"
	"github.com/potatman/EventHorizon-sub000/pkg/env"
	"github.com/potatman/EventHorizon-sub000/pkg/http"
	"github.com/potatman/EventHorizon-sub000/pkg/lazy"
	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/metric"
	"github.com/potatman/EventHorizon-sub000/pkg/pulsar"
	"github.com/potatman/EventHorizon-sub000/pkg/sql"
)

const metricsNamespace = "ordered_consumer"

// InfrastructureContainer builds the shared infrastructure of a worker on first use.
type InfrastructureContainer struct {
	Logger        lazy.Loader[log.Logger]
	Registry      lazy.Loader[*prometheus.Registry]
	Metrics       lazy.Loader[metric.Metrics]
	MessageBroker lazy.Loader[*pulsar.MessageBroker]
	PulsarAdmin   lazy.Loader[*pulsar.AdminClient]
	DB            lazy.Loader[sql.Database]
	HTTPServer    lazy.Loader[http.Server]
}

func NewInfrastructureContainer(ctx context.Context) *InfrastructureContainer {
	logger := loggerProvider()
	registry := registryProvider()
	metrics := metricsProvider(registry)
	pulsarAdmin := pulsarAdminProvider(metrics, logger)
	db := sqlDatabaseProvider(ctx, logger)

	return &InfrastructureContainer{
		Logger:        logger,
		Registry:      registry,
		Metrics:       metrics,
		MessageBroker: pulsarMessageBrokerProvider(logger),
		PulsarAdmin:   pulsarAdmin,
		DB:            db,
		HTTPServer:    httpServerProvider(registry, metrics, pulsarAdmin, db, logger),
	}
}

func (i *InfrastructureContainer) Close(ctx context.Context) {
	i.MessageBroker.IfLoaded(func(broker *pulsar.MessageBroker) { broker.Close() })
	i.DB.IfLoaded(func(db sql.Database) { db.Close(ctx) })
}

func loggerProvider() lazy.Loader[log.Logger] {
	return lazy.New(func() (log.Logger, error) {
		return pkgcmd.InitLogger(), nil
	})
}

func registryProvider() lazy.Loader[*prometheus.Registry] {
	return lazy.New(func() (*prometheus.Registry, error) {
		registry := prometheus.NewRegistry()
		err := registry.Register(collectors.NewGoCollector())
		if err != nil {
			return nil, fmt.Errorf("register go collector: %w", err)
		}
		err = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err != nil {
			return nil, fmt.Errorf("register process collector: %w", err)
		}

		return registry, nil
	})
}

func metricsProvider(registry lazy.Loader[*prometheus.Registry]) lazy.Loader[metric.Metrics] {
	return lazy.New(func() (metric.Metrics, error) {
		return metric.NewPrometheusMetrics(metricsNamespace, registry.MustLoad()), nil
	})
}

func pulsarMessageBrokerProvider(logger lazy.Loader[log.Logger]) lazy.Loader[*pulsar.MessageBroker] {
	return lazy.New(func() (*pulsar.MessageBroker, error) {
		return pkgcmd.MustInitPulsarMessageBroker(logger.MustLoad()), nil
	})
}

func pulsarAdminProvider(
	metrics lazy.Loader[metric.Metrics],
	logger lazy.Loader[log.Logger],
) lazy.Loader[*pulsar.AdminClient] {
	return lazy.New(func() (*pulsar.AdminClient, error) {
		adminURL, err := pkgcmd.DestinationURL(pulsar.AdminDestination)
		if err != nil {
			return nil, err
		}

		return pulsar.NewAdminClient(
			adminURL,
			pkgcmd.HTTPClientOptions(logger.MustLoad(), metrics.MustLoad())...,
		), nil
	})
}

func sqlDatabaseProvider(ctx context.Context, logger lazy.Loader[log.Logger]) lazy.Loader[sql.Database] {
	return lazy.New(func() (sql.Database, error) {
		return pkgcmd.MustInitSQL(ctx, logger.MustLoad(), consumer.Migrations), nil
	})
}

func httpServerProvider(
	registry lazy.Loader[*prometheus.Registry],
	metrics lazy.Loader[metric.Metrics],
	pulsarAdmin lazy.Loader[*pulsar.AdminClient],
	db lazy.Loader[sql.Database],
	logger lazy.Loader[log.Logger],
) lazy.Loader[http.Server] {
	return lazy.New(func() (http.Server, error) {
		address := env.Must(env.ParseOptional[*string]("HTTP_ADDRESS"))
		if address == nil {
			address = new(string)
		}

		healthChecks := []http.HealthCheck{
			func(ctx context.Context) error {
				admin, err := pulsarAdmin.Load()
				if err != nil {
					return err
				}
				return admin.Healthcheck(ctx)
			},
			func(ctx context.Context) error {
				var err error
				db.IfLoaded(func(db sql.Database) { err = db.Ping(ctx) })
				return err
			},
		}

		return http.NewServer(
			*address,
			http.WithPanicRecovery(logger.MustLoad()),
			http.WithLogging(logger.MustLoad()),
			http.WithMetrics(metrics.MustLoad()),
			http.WithMetricsEndpoint(registry.MustLoad()),
			http.WithHealthCheck(healthChecks...),
		), nil
	})
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
