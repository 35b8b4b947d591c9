package message

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
)

// StreamFailureTracker answers stream health queries and records failure transitions on top of
// the FailureStateStore. The only thing it caches is the absence of failures: trackedCountGuess is never lower
// than the real number of tracked streams within the owned ranges, so a zero guess confirmed by a scan lets
// every query skip the store.
type StreamFailureTracker struct {
	store   FailureStateStore
	backoff BackoffPolicy
	consumerOptions

	mutex             *sync.Mutex
	ownership         KeyOwnership
	trackedCountGuess int
	detectedZero      bool
}

func NewStreamFailureTracker(store FailureStateStore, backoff BackoffPolicy, opts ...ConsumerOption) *StreamFailureTracker {
	return &StreamFailureTracker{
		store:           store,
		backoff:         backoff,
		consumerOptions: newConsumerOptions(opts),
		mutex:           &sync.Mutex{},
	}
}

func (t *StreamFailureTracker) ShortCircuit() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.isShortCircuit()
}

// SetOwnership forgets the zero belief: failures recorded by the previous owner of a range become visible
// only after the next scan.
func (t *StreamFailureTracker) SetOwnership(ownership KeyOwnership) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.ownership = ownership
	t.trackedCountGuess = 0
	t.detectedZero = false
}

func (t *StreamFailureTracker) StreamsDueForRetry(ctx context.Context, now time.Time, limit int) ([]StreamFailure, error) {
	t.mutex.Lock()
	if t.isShortCircuit() {
		t.mutex.Unlock()
		t.metrics.WithLabel("query", "due").Increment("stream_tracker_short_circuit_total")
		return nil, nil
	}
	ownership := t.ownership
	t.mutex.Unlock()

	failures, totalOwned, err := t.store.Scan(ctx, &FailureScanSpecification{
		Ownership:       ownership,
		DueAt:           now,
		ExcludeUpToDate: true,
		Limit:           limit,
	})
	if err != nil {
		return nil, fmt.Errorf("scan stream failures: %w", err)
	}

	t.mutex.Lock()
	t.trackedCountGuess = totalOwned
	t.detectedZero = totalOwned == 0
	t.mutex.Unlock()

	t.metrics.Gauge("stream_tracker_tracked_streams", totalOwned)
	return failures, nil
}

// Find returns unresolved records of the given streams.
func (t *StreamFailureTracker) Find(ctx context.Context, keys []StreamKey) (map[StreamKey]StreamFailure, error) {
	if len(keys) == 0 {
		return map[StreamKey]StreamFailure{}, nil
	}
	if t.ShortCircuit() {
		t.metrics.WithLabel("query", "find").Increment("stream_tracker_short_circuit_total")
		return map[StreamKey]StreamFailure{}, nil
	}

	failures, err := t.store.FindMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("find stream failures: %w", err)
	}

	result := make(map[StreamKey]StreamFailure, len(failures))
	for _, failure := range failures {
		result[failure.Key()] = failure
	}

	return result, nil
}

func (t *StreamFailureTracker) OnFailure(ctx context.Context, msg *ConsumerMessage) error {
	key := msg.StreamKey()
	current, err := t.load(ctx, key)
	if err != nil {
		return err
	}

	var failure StreamFailure
	if current == nil {
		failure = StreamFailure{
			Topic:        key.Topic,
			StreamID:     key.StreamID,
			TimesRetried: 0,
		}
		t.increaseTracked()
	} else {
		failure = *current
		if failure.IsFailed() && failure.LastSequenceID == msg.Message.Sequence {
			failure.TimesRetried++
		} else {
			failure.TimesRetried = 0
		}
	}

	nextRetry := t.clock.Now(ctx).Add(t.backoff.NextInterval(failure.TimesRetried))
	failure.LastSequenceID = msg.Message.Sequence
	failure.LastMessageTime = msg.PublishTime
	failure.NextRetry = &nextRetry
	failure.IsUpToDate = false
	failure.IsResolved = false

	t.metrics.WithLabel("topic", key.Topic).Increment("stream_failures_total")
	t.logger.With(log.Fields{
		"topic":        key.Topic,
		"streamID":     key.StreamID,
		"sequence":     msg.Message.Sequence,
		"timesRetried": failure.TimesRetried,
		"nextRetry":    nextRetry,
	}).Warn(ctx, "stream processing failed, stream is suspended")

	t.publish(ctx, failure)
	return nil
}

func (t *StreamFailureTracker) OnSuccess(ctx context.Context, msg *ConsumerMessage) error {
	current, err := t.load(ctx, msg.StreamKey())
	if err != nil || current == nil {
		return err
	}

	failure := *current
	if failure.IsFailed() {
		t.logger.With(log.Fields{
			"topic":    failure.Topic,
			"streamID": failure.StreamID,
			"sequence": msg.Message.Sequence,
		}).Info(ctx, "stream retry succeeded, stream is recovering")
	}

	failure.LastSequenceID = msg.Message.Sequence
	failure.LastMessageTime = msg.PublishTime
	failure.TimesRetried = 0
	failure.NextRetry = nil
	failure.IsUpToDate = false

	t.publish(ctx, failure)
	return nil
}

func (t *StreamFailureTracker) MarkUpToDate(ctx context.Context, key StreamKey) error {
	current, err := t.load(ctx, key)
	if err != nil || current == nil || current.IsFailed() || current.IsUpToDate {
		return err
	}

	failure := *current
	failure.IsUpToDate = true

	t.publish(ctx, failure)
	return nil
}

// MarkResolved is idempotent: resolving an absent or resolved record does nothing.
func (t *StreamFailureTracker) MarkResolved(ctx context.Context, key StreamKey) error {
	current, err := t.load(ctx, key)
	if err != nil || current == nil {
		return err
	}

	failure := *current
	failure.IsResolved = true
	t.decreaseTracked()

	t.metrics.WithLabel("topic", key.Topic).Increment("stream_resolutions_total")
	t.logger.With(log.Fields{
		"topic":    key.Topic,
		"streamID": key.StreamID,
	}).Info(ctx, "stream caught up and resolved")

	t.publish(ctx, failure)
	return nil
}

func (t *StreamFailureTracker) load(ctx context.Context, key StreamKey) (*StreamFailure, error) {
	failure, err := t.store.Find(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find stream failure %s: %w", key, err)
	}

	return failure, nil
}

func (t *StreamFailureTracker) publish(ctx context.Context, failure StreamFailure) {
	err := t.store.Publish(ctx, failure)
	if err == nil {
		return
	}

	t.metrics.Increment("stream_tracker_publish_errors_total")
	t.logger.
		With(log.Fields{
			"topic":    failure.Topic,
			"streamID": failure.StreamID,
		}).
		WithError(err).
		Error(ctx, "failed to publish stream failure")
}

func (t *StreamFailureTracker) isShortCircuit() bool {
	return t.trackedCountGuess == 0 && t.detectedZero
}

func (t *StreamFailureTracker) increaseTracked() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.trackedCountGuess++
}

func (t *StreamFailureTracker) decreaseTracked() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.trackedCountGuess = max(0, t.trackedCountGuess-1)
}
