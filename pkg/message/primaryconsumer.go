package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
)

// PrimaryConsumer is the steady-state path: it relays broker batches while holding back messages
// of suspended streams.
//
// Resolving a stream drops its record while withheld copies of replayed messages may still be unsettled
// on the subscription. The consumer remembers the last replayed sequence of every resolved stream for
// settledRetention and acks such copies when the broker hands them out again.
type PrimaryConsumer struct {
	receiver         BatchReceiver
	tracker          *StreamFailureTracker
	batchSize        int
	receiveTimeout   time.Duration
	settledRetention time.Duration
	consumerOptions

	mutex           *sync.Mutex
	ownership       KeyOwnership
	outlierDetected bool
	settled         map[StreamKey]settledStream
}

type settledStream struct {
	sequence   int64
	resolvedAt time.Time
}

func NewPrimaryConsumer(
	receiver BatchReceiver,
	tracker *StreamFailureTracker,
	batchSize int,
	receiveTimeout time.Duration,
	settledRetention time.Duration,
	opts ...ConsumerOption,
) *PrimaryConsumer {
	return &PrimaryConsumer{
		receiver:         receiver,
		tracker:          tracker,
		batchSize:        batchSize,
		receiveTimeout:   receiveTimeout,
		settledRetention: settledRetention,
		consumerOptions:  newConsumerOptions(opts),
		mutex:            &sync.Mutex{},
		settled:          make(map[StreamKey]settledStream),
	}
}

func (c *PrimaryConsumer) SetOwnership(ownership KeyOwnership) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.ownership = ownership
	c.outlierDetected = false
}

// OwnershipOutlierDetected reports whether a relayed stream fell outside of the known key hash ranges,
// the ownership is stale then.
func (c *PrimaryConsumer) OwnershipOutlierDetected() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.outlierDetected
}

func (c *PrimaryConsumer) NextBatch(ctx context.Context) ([]*ConsumerMessage, error) {
	received, err := c.receiver.Receive(ctx, c.batchSize, c.receiveTimeout)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, ErrConsumerClosed) {
		return nil, err
	}
	if err != nil {
		c.logger.WithError(err).Warn(ctx, "failed to receive messages, skipping cycle")
		return nil, nil
	}
	if len(received) == 0 {
		return nil, nil
	}

	failures, err := c.tracker.Find(ctx, uniqueStreamKeys(received))
	if err != nil {
		return nil, err
	}

	now := c.clock.Now(ctx)
	c.forgetSettled(now)

	relayed := make([]*ConsumerMessage, 0, len(received))
	resolved := make(map[StreamKey]struct{})
	var withheld, replayed int
	for _, msg := range received {
		key := msg.StreamKey()
		failure, tracked := failures[key]
		switch {
		case c.isSettled(msg) || (tracked && failure.IsReplayed(msg)):
			replayed++
			if err := c.receiver.Ack(ctx, msg); err != nil {
				c.logger.WithError(err).WithField("streamID", key.StreamID).Warn(ctx, "failed to ack replayed message")
			}
		case !tracked:
			relayed = append(relayed, msg)
		case failure.IsEligibleForRelay(msg):
			if _, ok := resolved[key]; !ok {
				if err := c.tracker.MarkResolved(ctx, key); err != nil {
					return nil, fmt.Errorf("resolve caught up stream: %w", err)
				}
				c.settle(key, failure.LastSequenceID, now)
				resolved[key] = struct{}{}
			}
			relayed = append(relayed, msg)
		default:
			// Withheld: neither acked nor nacked. The broker hands the message out again once its
			// redelivery timeout elapses, the stream may be eligible by then.
			withheld++
		}
	}

	c.detectOwnershipOutliers(ctx, relayed)

	c.metrics.WithLabel("phase", PhaseNormal).Count("consumer_messages_relayed_total", len(relayed))
	c.metrics.Count("consumer_messages_withheld_total", withheld)
	c.metrics.Count("consumer_messages_replayed_acked_total", replayed)
	return relayed, nil
}

// FinalizeBatch records a failure for every stream with a nacked message and acknowledges acks.
// Nacked messages stay unacknowledged, the catch-up path replays them.
func (c *PrimaryConsumer) FinalizeBatch(ctx context.Context, acks, nacks []*ConsumerMessage) error {
	var errs []error
	for _, group := range GroupOutcomesByStream(nil, nacks) {
		if err := c.tracker.OnFailure(ctx, group.EarliestNacked()); err != nil {
			errs = append(errs, err)
		}
	}

	for _, msg := range acks {
		if err := c.receiver.Ack(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("ack message %s: %w", msg.Message.ID, err))
		}
	}

	return errors.Join(errs...)
}

func (c *PrimaryConsumer) detectOwnershipOutliers(ctx context.Context, relayed []*ConsumerMessage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.ownership == nil || c.outlierDetected {
		return
	}

	for _, msg := range relayed {
		if c.ownership.Owns(msg.Message.Topic, msg.Message.Key) {
			continue
		}

		c.outlierDetected = true
		c.logger.With(log.Fields{
			"topic":    msg.Message.Topic,
			"streamID": msg.Message.Key,
			"keyHash":  StreamKeyHash(msg.Message.Key),
			"owned":    c.ownership[msg.Message.Topic].String(),
		}).Info(ctx, "received stream outside of owned key ranges")
		return
	}
}

func (c *PrimaryConsumer) isSettled(msg *ConsumerMessage) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	settled, ok := c.settled[msg.StreamKey()]
	return ok && msg.Message.Sequence <= settled.sequence
}

func (c *PrimaryConsumer) settle(key StreamKey, sequence int64, now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.settled[key] = settledStream{sequence: sequence, resolvedAt: now}
}

func (c *PrimaryConsumer) forgetSettled(now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	for key, settled := range c.settled {
		if now.Sub(settled.resolvedAt) >= c.settledRetention {
			delete(c.settled, key)
		}
	}
}

func uniqueStreamKeys(msgs []*ConsumerMessage) []StreamKey {
	seen := make(map[StreamKey]struct{}, len(msgs))
	result := make([]StreamKey, 0, len(msgs))
	for _, msg := range msgs {
		key := msg.StreamKey()
		if _, ok := seen[key]; ok {
			continue
		}

		seen[key] = struct{}{}
		result = append(result, key)
	}

	return result
}
