package pulsar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
	pkgtime "github.com/potatman/EventHorizon-sub000/pkg/time"
)

const (
	DefaultRedeliveryTimeout   = 30 * time.Second
	defaultNackRedeliveryDelay = time.Second
)

type (
	ReceiverOptions struct {
		Topics       []message.Topic
		Subscription message.SubscriberName
		// Name identifies the consumer in the subscription stats, key hash ranges are looked up by it
		Name string
		// RedeliveryTimeout hands a message back to the broker when it was neither acked nor nacked in time
		RedeliveryTimeout   time.Duration
		NackRedeliveryDelay time.Duration
		ReceiverQueueSize   int
	}

	// BatchReceiver is a Key_Shared subscription to a set of topics.
	BatchReceiver struct {
		consumer          pulsar.Consumer
		name              string
		subscription      message.SubscriberName
		topics            []message.Topic
		redeliveryTimeout time.Duration
		clock             pkgtime.Clock
		logger            log.Logger

		mutex     *sync.Mutex
		delivered map[string]delivery
		closed    bool
	}

	delivery struct {
		id          pulsar.MessageID
		deliveredAt time.Time
	}
)

func (b *MessageBroker) Receiver(opts *ReceiverOptions) (*BatchReceiver, error) {
	if len(opts.Topics) == 0 {
		return nil, errors.New("receiver requires at least one topic")
	}

	topics := make([]string, 0, len(opts.Topics))
	for _, topic := range opts.Topics {
		topics = append(topics, string(topic))
	}

	nackDelay := opts.NackRedeliveryDelay
	if nackDelay <= 0 {
		nackDelay = defaultNackRedeliveryDelay
	}

	consumer, err := b.client.Subscribe(pulsar.ConsumerOptions{
		Topics:                      topics,
		SubscriptionName:            string(opts.Subscription),
		Name:                        opts.Name,
		Type:                        pulsar.KeyShared,
		KeySharedPolicy:             &pulsar.KeySharedPolicy{Mode: pulsar.KeySharedPolicyModeAutoSplit},
		SubscriptionInitialPosition: pulsar.SubscriptionPositionEarliest,
		NackRedeliveryDelay:         nackDelay,
		ReceiverQueueSize:           opts.ReceiverQueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s to topics %v: %w", opts.Subscription, topics, err)
	}

	return newBatchReceiver(consumer, opts, b.clock, b.logger), nil
}

func newBatchReceiver(consumer pulsar.Consumer, opts *ReceiverOptions, clock pkgtime.Clock, logger log.Logger) *BatchReceiver {
	redeliveryTimeout := opts.RedeliveryTimeout
	if redeliveryTimeout <= 0 {
		redeliveryTimeout = DefaultRedeliveryTimeout
	}

	name := opts.Name
	if name == "" {
		name = consumer.Name()
	}

	return &BatchReceiver{
		consumer:          consumer,
		name:              name,
		subscription:      opts.Subscription,
		topics:            opts.Topics,
		redeliveryTimeout: redeliveryTimeout,
		clock:             clock,
		logger:            logger,
		mutex:             &sync.Mutex{},
		delivered:         make(map[string]delivery),
	}
}

func (r *BatchReceiver) Name() string {
	return r.name
}

func (r *BatchReceiver) Subscription() message.SubscriberName {
	return r.subscription
}

func (r *BatchReceiver) Topics() []message.Topic {
	return r.topics
}

// Receive waits for the first message up to timeout and then takes whatever else is already prefetched.
func (r *BatchReceiver) Receive(ctx context.Context, maxMessages int, timeout time.Duration) ([]*message.ConsumerMessage, error) {
	if r.isClosed() {
		return nil, message.ErrConsumerClosed
	}
	r.redeliverExpired(ctx)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := make([]*message.ConsumerMessage, 0, maxMessages)
	for len(result) < maxMessages {
		var (
			msg pulsar.ConsumerMessage
			ok  bool
		)
		if len(result) == 0 {
			select {
			case msg, ok = <-r.consumer.Chan():
			case <-timer.C:
				return result, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		} else {
			select {
			case msg, ok = <-r.consumer.Chan():
			default:
				return result, nil
			}
		}
		if !ok {
			return nil, message.ErrConsumerClosed
		}

		result = append(result, r.track(ctx, msg.Message))
	}

	return result, nil
}

func (r *BatchReceiver) Ack(_ context.Context, msg *message.ConsumerMessage) error {
	id, ok := messageHandle(msg)
	if !ok {
		return fmt.Errorf("message %s has no pulsar message id", msg.Message.ID)
	}

	r.untrack(id)
	if err := r.consumer.AckID(id); err != nil {
		return fmt.Errorf("ack message %s: %w", msg.Message.ID, err)
	}
	return nil
}

func (r *BatchReceiver) Nack(_ context.Context, msg *message.ConsumerMessage) error {
	id, ok := messageHandle(msg)
	if !ok {
		return fmt.Errorf("message %s has no pulsar message id", msg.Message.ID)
	}

	r.untrack(id)
	r.consumer.NackID(id)
	return nil
}

func (r *BatchReceiver) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	r.delivered = make(map[string]delivery)
	r.consumer.Close()
	return nil
}

// Unsettled reports the number of delivered messages that are neither acked nor nacked.
func (r *BatchReceiver) Unsettled() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return len(r.delivered)
}

func (r *BatchReceiver) track(ctx context.Context, msg pulsar.Message) *message.ConsumerMessage {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.delivered[handleKey(msg.ID())] = delivery{
		id:          msg.ID(),
		deliveredAt: r.clock.Now(ctx),
	}

	return newConsumerMessage(msg)
}

func (r *BatchReceiver) untrack(id pulsar.MessageID) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.delivered, handleKey(id))
}

// redeliverExpired hands unsettled messages back to the broker, withheld messages come back this way.
func (r *BatchReceiver) redeliverExpired(ctx context.Context) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	now := r.clock.Now(ctx)
	var redelivered int
	for key, d := range r.delivered {
		if now.Sub(d.deliveredAt) < r.redeliveryTimeout {
			continue
		}

		r.consumer.NackID(d.id)
		delete(r.delivered, key)
		redelivered++
	}

	if redelivered > 0 {
		r.logger.With(log.Fields{
			"consumer": r.name,
			"count":    redelivered,
		}).Debug(ctx, "unsettled messages handed back for redelivery")
	}
}

func (r *BatchReceiver) isClosed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.closed
}
