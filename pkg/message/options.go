package message

import (
	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/metric"
	pkgtime "github.com/potatman/EventHorizon-sub000/pkg/time"
)

type (
	ConsumerOption func(*consumerOptions)

	consumerOptions struct {
		clock   pkgtime.Clock
		logger  log.Logger
		metrics metric.Metrics
	}
)

func WithClock(clock pkgtime.Clock) ConsumerOption {
	return func(o *consumerOptions) {
		o.clock = clock
	}
}

func WithLogger(logger log.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

func WithMetrics(metrics metric.Metrics) ConsumerOption {
	return func(o *consumerOptions) {
		o.metrics = metrics
	}
}

func newConsumerOptions(opts []ConsumerOption) consumerOptions {
	o := consumerOptions{
		clock:   pkgtime.NewClock(),
		logger:  log.New(log.LevelDisabled),
		metrics: metric.NewMetricsStub(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}
