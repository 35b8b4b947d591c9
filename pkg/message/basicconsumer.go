package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// BasicConsumer relays broker batches as they are. A nacked message is redelivered by the broker
// and may overtake later messages of its stream.
type BasicConsumer struct {
	receiver       BatchReceiver
	batchSize      int
	receiveTimeout time.Duration
	consumerOptions

	mutex    *sync.Mutex
	inFlight bool
}

func NewBasicConsumer(receiver BatchReceiver, batchSize int, receiveTimeout time.Duration, opts ...ConsumerOption) *BasicConsumer {
	return &BasicConsumer{
		receiver:        receiver,
		batchSize:       batchSize,
		receiveTimeout:  receiveTimeout,
		consumerOptions: newConsumerOptions(opts),
		mutex:           &sync.Mutex{},
	}
}

func (c *BasicConsumer) Init(context.Context) error {
	return nil
}

func (c *BasicConsumer) NextBatch(ctx context.Context) ([]*ConsumerMessage, error) {
	c.mutex.Lock()
	if c.inFlight {
		c.mutex.Unlock()
		return nil, ErrBatchInFlight
	}
	c.inFlight = true
	c.mutex.Unlock()

	msgs, err := c.receiver.Receive(ctx, c.batchSize, c.receiveTimeout)
	switch {
	case ctx.Err() != nil:
		err = ctx.Err()
	case err != nil && !errors.Is(err, ErrConsumerClosed):
		c.logger.WithError(err).Warn(ctx, "failed to receive messages, skipping cycle")
		err = nil
		msgs = nil
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err != nil || len(msgs) == 0 {
		c.inFlight = false
		return nil, err
	}

	c.metrics.WithLabel("phase", PhaseNormal).Count("consumer_messages_relayed_total", len(msgs))
	return msgs, nil
}

func (c *BasicConsumer) FinalizeBatch(ctx context.Context, acks, nacks []*ConsumerMessage) error {
	defer func() {
		c.mutex.Lock()
		c.inFlight = false
		c.mutex.Unlock()
	}()

	var errs []error
	for _, msg := range acks {
		if err := c.receiver.Ack(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("ack message %s: %w", msg.Message.ID, err))
		}
	}
	for _, msg := range nacks {
		if err := c.receiver.Nack(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("nack message %s: %w", msg.Message.ID, err))
		}
	}

	return errors.Join(errs...)
}

func (c *BasicConsumer) Close(context.Context) error {
	return c.receiver.Close()
}
