package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
)

const (
	PhaseNormal Phase = iota
	PhaseFailureRetry
)

const (
	DefaultBatchSize                = 100
	DefaultReceiveTimeout           = time.Second
	DefaultOwnershipRefreshInterval = 30 * time.Minute
	DefaultSettledStreamRetention   = 10 * time.Minute
)

type (
	Phase int

	OrderedConsumerConfig struct {
		BatchSize                int
		ReceiveTimeout           time.Duration
		Backoff                  ExponentialBackoffPolicy
		OwnershipRefreshInterval time.Duration
		CatchUpPrefetchSize      int
		// SettledStreamRetention must outlast the broker redelivery of unsettled messages
		SettledStreamRetention time.Duration
	}
)

func (p Phase) String() string {
	switch p {
	case PhaseNormal:
		return "normal"
	case PhaseFailureRetry:
		return "failure_retry"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) next() Phase {
	if p == PhaseNormal {
		return PhaseFailureRetry
	}
	return PhaseNormal
}

func (c OrderedConsumerConfig) WithDefaults() OrderedConsumerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.OwnershipRefreshInterval <= 0 {
		c.OwnershipRefreshInterval = DefaultOwnershipRefreshInterval
	}
	if c.CatchUpPrefetchSize <= 0 {
		c.CatchUpPrefetchSize = DefaultCatchUpPrefetchSize
	}
	if c.SettledStreamRetention <= 0 {
		c.SettledStreamRetention = DefaultSettledStreamRetention
	}
	c.Backoff = c.Backoff.WithDefaults()

	return c
}

// OrderedConsumer keeps every stream in order even when the application fails some of its messages.
// It alternates between the primary subscription and replaying suspended streams.
type OrderedConsumer struct {
	receiver  BatchReceiver
	keyRanges KeyRangeProvider
	store     FailureStateStore
	tracker   *StreamFailureTracker
	primary   *PrimaryConsumer
	retry     *RetryConsumer
	config    OrderedConsumerConfig
	consumerOptions

	mutex          *sync.Mutex
	finalizeMutex  *sync.Mutex
	phase          Phase
	inFlight       bool
	inFlightPhase  Phase
	ownershipKnown bool
	lastRefresh    time.Time
	closed         bool
}

func NewOrderedConsumer(
	receiver BatchReceiver,
	readers ReaderProvider,
	keyRanges KeyRangeProvider,
	store FailureStateStore,
	config OrderedConsumerConfig,
	opts ...ConsumerOption,
) *OrderedConsumer {
	config = config.WithDefaults()
	tracker := NewStreamFailureTracker(store, config.Backoff, opts...)

	return &OrderedConsumer{
		receiver:        receiver,
		keyRanges:       keyRanges,
		store:           store,
		tracker:         tracker,
		primary:         NewPrimaryConsumer(receiver, tracker, config.BatchSize, config.ReceiveTimeout, config.SettledStreamRetention, opts...),
		retry:           NewRetryConsumer(tracker, NewCatchUpReader(readers, config.CatchUpPrefetchSize, opts...), config.BatchSize, opts...),
		config:          config,
		consumerOptions: newConsumerOptions(opts),
		mutex:           &sync.Mutex{},
		finalizeMutex:   &sync.Mutex{},
		phase:           PhaseNormal,
	}
}

// Tracker exposes the failure tracker of the consumer.
func (c *OrderedConsumer) Tracker() *StreamFailureTracker {
	return c.tracker
}

func (c *OrderedConsumer) Init(ctx context.Context) error {
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init failure state store: %w", err)
	}

	c.refreshOwnership(ctx)
	return nil
}

func (c *OrderedConsumer) NextBatch(ctx context.Context) ([]*ConsumerMessage, error) {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil, ErrConsumerClosed
	}
	if c.inFlight {
		c.mutex.Unlock()
		return nil, ErrBatchInFlight
	}
	c.inFlight = true
	// flipped before use, the first cycle replays failures left by a previous owner
	c.phase = c.phase.next()
	phase := c.phase
	c.mutex.Unlock()

	if c.ownershipRefreshRequired(ctx) {
		c.refreshOwnership(ctx)
	}

	msgs, producer, err := c.nextBatch(ctx, phase)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err != nil || len(msgs) == 0 {
		c.inFlight = false
		return nil, err
	}

	c.inFlightPhase = producer
	c.metrics.WithLabel("phase", producer).Increment("consumer_batches_total")
	return msgs, nil
}

func (c *OrderedConsumer) FinalizeBatch(ctx context.Context, acks, nacks []*ConsumerMessage) error {
	c.finalizeMutex.Lock()
	defer c.finalizeMutex.Unlock()

	c.mutex.Lock()
	if !c.inFlight {
		c.mutex.Unlock()
		if len(acks) == 0 && len(nacks) == 0 {
			return nil
		}
		return errors.New("finalize without a batch in flight")
	}
	phase := c.inFlightPhase
	c.mutex.Unlock()

	var err error
	switch phase {
	case PhaseFailureRetry:
		err = c.retry.FinalizeBatch(ctx, acks, nacks)
	default:
		err = c.primary.FinalizeBatch(ctx, acks, nacks)
	}

	c.mutex.Lock()
	c.inFlight = false
	c.mutex.Unlock()

	if err != nil {
		return fmt.Errorf("finalize %s batch: %w", phase, err)
	}
	return nil
}

// Close waits for a running FinalizeBatch and releases broker resources.
func (c *OrderedConsumer) Close(context.Context) error {
	c.finalizeMutex.Lock()
	defer c.finalizeMutex.Unlock()

	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	c.mutex.Unlock()

	return errors.Join(
		c.retry.Close(),
		c.receiver.Close(),
		c.store.Close(),
	)
}

func (c *OrderedConsumer) nextBatch(ctx context.Context, phase Phase) ([]*ConsumerMessage, Phase, error) {
	if phase == PhaseFailureRetry {
		msgs, err := c.retry.NextBatch(ctx)
		if err != nil {
			return nil, phase, fmt.Errorf("next failure retry batch: %w", err)
		}
		if len(msgs) > 0 {
			return msgs, PhaseFailureRetry, nil
		}
	}

	msgs, err := c.primary.NextBatch(ctx)
	if err != nil {
		return nil, PhaseNormal, fmt.Errorf("next primary batch: %w", err)
	}

	return msgs, PhaseNormal, nil
}

func (c *OrderedConsumer) ownershipRefreshRequired(ctx context.Context) bool {
	if c.primary.OwnershipOutlierDetected() {
		return true
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	return !c.ownershipKnown || c.clock.Now(ctx).Sub(c.lastRefresh) >= c.config.OwnershipRefreshInterval
}

// refreshOwnership looks up the key hash ranges the broker assigned to the consumer. Topics whose ranges
// are not reported yet stay unknown and are treated as owned.
func (c *OrderedConsumer) refreshOwnership(ctx context.Context) {
	ownership := make(KeyOwnership)
	known := true
	for _, topic := range c.receiver.Topics() {
		ranges, err := c.keyRanges.ConsumerKeyRanges(ctx, topic, c.receiver.Subscription(), c.receiver.Name())
		if err != nil {
			known = false
			c.logger.WithError(err).WithField("topic", topic).Warn(ctx, "failed to look up consumer key ranges")
			continue
		}
		if len(ranges) == 0 {
			known = false
			continue
		}

		ownership[topic] = ranges
	}

	c.tracker.SetOwnership(ownership)
	c.primary.SetOwnership(ownership)

	c.mutex.Lock()
	c.ownershipKnown = known
	c.lastRefresh = c.clock.Now(ctx)
	c.mutex.Unlock()

	c.metrics.Increment("consumer_ownership_refreshes_total")
	c.logger.With(log.Fields{
		"consumer": c.receiver.Name(),
		"known":    known,
		"topics":   len(ownership),
	}).Debug(ctx, "consumer key ranges refreshed")
}
