package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/potatman/EventHorizon-sub000/pkg/env"
	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
	"github.com/potatman/EventHorizon-sub000/pkg/pulsar"
	"github.com/potatman/EventHorizon-sub000/pkg/sql"
	"github.com/potatman/EventHorizon-sub000/pkg/worker"
)

type FailureStoreKind string

const (
	FailureStorePulsar FailureStoreKind = "pulsar"
	FailureStoreSQL    FailureStoreKind = "sql"
	FailureStoreMemory FailureStoreKind = "memory"
)

type ConsumerConfig struct {
	Subscription      message.SubscriberName
	Topics            []message.Topic
	Name              string
	OrderGuarantee    bool
	FailureStore      FailureStoreKind
	RedeliveryTimeout time.Duration
	Ordered           message.OrderedConsumerConfig
}

// ParseConsumerConfig reads the CONSUMER_* and FAILURE_STORE variables, unset optional ones keep their defaults.
func ParseConsumerConfig() (*ConsumerConfig, error) {
	subscription, err := env.Parse[string]("CONSUMER_SUBSCRIPTION")
	if err != nil {
		return nil, err
	}
	rawTopics, err := env.ParseList[string]("CONSUMER_TOPICS", ",")
	if err != nil {
		return nil, err
	}
	if len(rawTopics) == 0 {
		return nil, errors.New("CONSUMER_TOPICS is empty")
	}

	config := &ConsumerConfig{
		Subscription:   message.NewSubscriberName(subscription),
		Name:           hostname(),
		OrderGuarantee: true,
		FailureStore:   FailureStorePulsar,
	}
	for _, topic := range rawTopics {
		config.Topics = append(config.Topics, message.NewRawTopic(topic))
	}

	optionals := []func() error{
		optional("CONSUMER_NAME", func(v string) { config.Name = v }),
		optional("CONSUMER_ORDER_GUARANTEE", func(v bool) { config.OrderGuarantee = v }),
		optional("FAILURE_STORE", func(v string) { config.FailureStore = FailureStoreKind(v) }),
		optional("CONSUMER_REDELIVERY_TIMEOUT", func(v time.Duration) { config.RedeliveryTimeout = v }),
		optional("CONSUMER_BATCH_SIZE", func(v int) { config.Ordered.BatchSize = v }),
		optional("CONSUMER_RECEIVE_TIMEOUT", func(v time.Duration) { config.Ordered.ReceiveTimeout = v }),
		optional("CONSUMER_BACKOFF_MIN", func(v time.Duration) { config.Ordered.Backoff.MinInterval = v }),
		optional("CONSUMER_BACKOFF_MAX", func(v time.Duration) { config.Ordered.Backoff.MaxInterval = v }),
		optional("CONSUMER_BACKOFF_MULTIPLIER", func(v float64) { config.Ordered.Backoff.Multiplier = v }),
		optional("CONSUMER_OWNERSHIP_REFRESH_INTERVAL", func(v time.Duration) { config.Ordered.OwnershipRefreshInterval = v }),
		optional("CONSUMER_SETTLED_STREAM_RETENTION", func(v time.Duration) { config.Ordered.SettledStreamRetention = v }),
	}
	for _, parse := range optionals {
		if err = parse(); err != nil {
			return nil, err
		}
	}

	switch config.FailureStore {
	case FailureStorePulsar, FailureStoreSQL, FailureStoreMemory:
	default:
		return nil, fmt.Errorf("unknown failure store %q", config.FailureStore)
	}

	config.Ordered = config.Ordered.WithDefaults()
	return config, nil
}

func optional[T interface {
	bool | int | float64 | string | time.Duration
}](key string, set func(T)) func() error {
	return func() error {
		if str, ok := os.LookupEnv(key); !ok || str == "" {
			return nil
		}

		v, err := env.Parse[T](key)
		if err != nil {
			return err
		}
		set(v)
		return nil
	}
}

const statsReportInterval = 15 * time.Second

// Consumer is the configured consumer plus a job reporting its buffers as gauges.
type Consumer struct {
	message.BatchConsumer
	StatsReporter worker.ErrorJob
}

// MustInitConsumer subscribes to the topics and builds the consumer the configuration asks for.
func (i *InfrastructureContainer) MustInitConsumer(config *ConsumerConfig) *Consumer {
	broker := i.MessageBroker.MustLoad()
	logger := i.Logger.MustLoad().With(log.Fields{
		"subscription": config.Subscription,
		"consumer":     config.Name,
	})
	metrics := i.Metrics.MustLoad().WithLabel("subscription", config.Subscription)
	opts := []message.ConsumerOption{
		message.WithLogger(logger),
		message.WithMetrics(metrics),
	}

	receiver, err := broker.Receiver(&pulsar.ReceiverOptions{
		Topics:            config.Topics,
		Subscription:      config.Subscription,
		Name:              config.Name,
		RedeliveryTimeout: config.RedeliveryTimeout,
		ReceiverQueueSize: config.Ordered.BatchSize,
	})
	if err != nil {
		panic(fmt.Errorf("init receiver: %w", err))
	}

	reportStats := func(context.Context) error {
		metrics.Gauge("receiver_unsettled_messages", receiver.Unsettled())
		return nil
	}

	if !config.OrderGuarantee {
		return &Consumer{
			BatchConsumer: message.NewBasicConsumer(receiver, config.Ordered.BatchSize, config.Ordered.ReceiveTimeout, opts...),
			StatsReporter: worker.PeriodicJob(reportStats, statsReportInterval, logger),
		}
	}

	store := i.mustInitFailureStore(config)
	if pulsarStore, ok := store.(*pulsar.FailureStore); ok {
		reportReceiverStats := reportStats
		reportStats = func(ctx context.Context) error {
			metrics.Gauge("failure_store_pending_writes", pulsarStore.Pending())
			return reportReceiverStats(ctx)
		}
	}

	return &Consumer{
		BatchConsumer: message.NewOrderedConsumer(
			receiver,
			broker,
			i.PulsarAdmin.MustLoad(),
			store,
			config.Ordered,
			opts...,
		),
		StatsReporter: worker.PeriodicJob(reportStats, statsReportInterval, logger),
	}
}

func (i *InfrastructureContainer) mustInitFailureStore(config *ConsumerConfig) message.FailureStateStore {
	switch config.FailureStore {
	case FailureStoreSQL:
		return sql.NewFailureStore(i.DB.MustLoad(), config.Subscription)
	case FailureStoreMemory:
		return message.NewInMemoryFailureStore()
	default:
		return i.MessageBroker.MustLoad().FailureStore(message.FailureStateTopic(config.Subscription))
	}
}
