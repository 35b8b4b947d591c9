package message

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBackoffMinInterval = 10 * time.Millisecond
	DefaultBackoffMaxInterval = 10 * time.Second
	DefaultBackoffMultiplier  = 2
)

type (
	BackoffPolicy interface {
		// NextInterval returns how long a stream waits before the retry number timesRetried.
		NextInterval(timesRetried int) time.Duration
	}

	ExponentialBackoffPolicy struct {
		MinInterval time.Duration
		MaxInterval time.Duration
		Multiplier  float64
	}
)

func NewExponentialBackoffPolicy() ExponentialBackoffPolicy {
	return ExponentialBackoffPolicy{
		MinInterval: DefaultBackoffMinInterval,
		MaxInterval: DefaultBackoffMaxInterval,
		Multiplier:  DefaultBackoffMultiplier,
	}
}

func (p ExponentialBackoffPolicy) WithDefaults() ExponentialBackoffPolicy {
	if p.MinInterval <= 0 {
		p.MinInterval = DefaultBackoffMinInterval
	}
	if p.MaxInterval < p.MinInterval {
		p.MaxInterval = max(DefaultBackoffMaxInterval, p.MinInterval)
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultBackoffMultiplier
	}

	return p
}

func (p ExponentialBackoffPolicy) NextInterval(timesRetried int) time.Duration {
	p = p.WithDefaults()

	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.MinInterval),
		backoff.WithMaxInterval(p.MaxInterval),
		backoff.WithMultiplier(p.Multiplier),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxElapsedTime(0),
	)

	interval := eb.NextBackOff()
	for i := 0; i < timesRetried && interval < p.MaxInterval; i++ {
		interval = eb.NextBackOff()
	}

	return min(interval, p.MaxInterval)
}
