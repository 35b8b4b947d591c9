package message

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBatchInFlight  = errors.New("previous batch is not finalized")
	ErrConsumerClosed = errors.New("consumer closed")
)

type (
	// BatchConsumer is the call-response consumer contract: every non-empty batch returned by NextBatch
	// is followed by exactly one FinalizeBatch call. Implementations are not reentrant.
	BatchConsumer interface {
		Init(ctx context.Context) error
		NextBatch(ctx context.Context) ([]*ConsumerMessage, error)
		FinalizeBatch(ctx context.Context, acks, nacks []*ConsumerMessage) error
		Close(ctx context.Context) error
	}

	// BatchReceiver is a broker subscription shared between consumer instances by key hash ranges.
	BatchReceiver interface {
		Name() string
		Subscription() SubscriberName
		Topics() []Topic
		// Receive waits up to timeout for at most maxMessages messages. It returns ErrConsumerClosed
		// after Close.
		Receive(ctx context.Context, maxMessages int, timeout time.Duration) ([]*ConsumerMessage, error)
		Ack(ctx context.Context, msg *ConsumerMessage) error
		Nack(ctx context.Context, msg *ConsumerMessage) error
		Close() error
	}

	TopicReader interface {
		SeekByTime(ctx context.Context, t time.Time) error
		HasNext(ctx context.Context) (bool, error)
		Next(ctx context.Context) (*ConsumerMessage, error)
		Close() error
	}

	ReaderProvider interface {
		Reader(ctx context.Context, topic Topic) (TopicReader, error)
	}

	// KeyRangeProvider reports the key hash ranges the broker assigned to a consumer of a subscription.
	KeyRangeProvider interface {
		ConsumerKeyRanges(ctx context.Context, topic Topic, subscription SubscriberName, consumerName string) (KeyHashRanges, error)
	}
)
