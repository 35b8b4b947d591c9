package message

import (
	"context"
	"errors"
)

// RetryConsumer replays streams the tracker reports as due and reports the outcomes back.
type RetryConsumer struct {
	tracker   *StreamFailureTracker
	reader    *CatchUpReader
	batchSize int
	consumerOptions
}

func NewRetryConsumer(
	tracker *StreamFailureTracker,
	reader *CatchUpReader,
	batchSize int,
	opts ...ConsumerOption,
) *RetryConsumer {
	return &RetryConsumer{
		tracker:         tracker,
		reader:          reader,
		batchSize:       batchSize,
		consumerOptions: newConsumerOptions(opts),
	}
}

func (c *RetryConsumer) NextBatch(ctx context.Context) ([]*ConsumerMessage, error) {
	failures, err := c.tracker.StreamsDueForRetry(ctx, c.clock.Now(ctx), c.batchSize)
	if err != nil || len(failures) == 0 {
		return nil, err
	}

	msgs, err := c.reader.Read(ctx, failures, c.batchSize)
	if err != nil {
		return nil, err
	}
	if len(msgs) >= c.batchSize {
		return msgs, nil
	}

	// The topics were read to the end: recovering streams without anything left to replay are up to date.
	produced := make(map[StreamKey]struct{}, len(msgs))
	for _, msg := range msgs {
		produced[msg.StreamKey()] = struct{}{}
	}
	for _, failure := range failures {
		if _, ok := produced[failure.Key()]; ok || failure.IsFailed() {
			continue
		}
		if err = c.tracker.MarkUpToDate(ctx, failure.Key()); err != nil {
			return nil, err
		}
	}

	return msgs, nil
}

func (c *RetryConsumer) FinalizeBatch(ctx context.Context, acks, nacks []*ConsumerMessage) error {
	var errs []error
	for _, group := range GroupOutcomesByStream(acks, nacks) {
		if failed := group.EarliestNacked(); failed != nil {
			errs = append(errs, c.tracker.OnFailure(ctx, failed))
			continue
		}
		if succeeded := group.LatestAcked(); succeeded != nil {
			errs = append(errs, c.tracker.OnSuccess(ctx, succeeded))
		}
	}

	return errors.Join(errs...)
}

func (c *RetryConsumer) Close() error {
	return c.reader.Close()
}
