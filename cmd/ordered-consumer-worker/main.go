package main

import (
	"context"
	"fmt"

	"github.com/potatman/EventHorizon-sub000/internal/eventlog"
	"github.com/potatman/EventHorizon-sub000/internal/pkg/cmd"
	pkgcmd "github.com/potatman/EventHorizon-sub000/pkg/cmd"
	"github.com/potatman/EventHorizon-sub000/pkg/env"
	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
	"github.com/potatman/EventHorizon-sub000/pkg/worker"
)

func main() {
	ctx := context.Background()
	infra := cmd.NewInfrastructureContainer(ctx)
	logger := infra.Logger.MustLoad()
	defer pkgcmd.HandleAppPanic(ctx, logger)
	defer infra.Close(ctx)

	metrics := infra.Metrics.MustLoad()

	config, err := cmd.ParseConsumerConfig()
	if err != nil {
		panic(fmt.Errorf("parse consumer config: %w", err))
	}

	// only string values, a missing variable is the only possible error
	failingStreams, _ := env.ParseList[string]("EVENTLOG_FAILING_STREAMS", ",")
	handler := eventlog.NewHandler(
		eventlog.WithLogger(logger),
		eventlog.WithMetrics(metrics),
		eventlog.WithFailingStreams(failingStreams...),
	)

	consumer := infra.MustInitConsumer(config)
	listener := message.NewBatchListener(
		consumer.BatchConsumer,
		handler.Handle,
		message.WithListenerWorkers(worker.NewPool(worker.MaxWorkersCountNumCPU)),
		message.WithListenerLogging(logger),
		message.WithListenerMetrics(metrics),
	)

	logger.With(log.Fields{
		"subscription":   config.Subscription,
		"topics":         config.Topics,
		"consumer":       config.Name,
		"orderGuarantee": config.OrderGuarantee,
		"failureStore":   config.FailureStore,
	}).Info(ctx, "worker started")

	worker.MustRunHub(ctx, logger,
		pkgcmd.TermSignalAwaiter,
		infra.HTTPServer.MustLoad().Listener,
		listener,
		consumer.StatsReporter,
	)
}
