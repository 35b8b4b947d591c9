package message

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type (
	Message struct {
		ID    uuid.UUID
		Topic Topic
		// Key identifies the stream, messages with the same key fall in the same partition and key hash range
		Key string
		// Sequence grows within a stream, it is the stream version set by the producer
		Sequence int64
		Payload  []byte
	}

	// ConsumerMessage is a message delivered by the broker or read back by a catch-up reader.
	ConsumerMessage struct {
		Message     Message
		PublishTime time.Time
		// Handle is the broker-native message id used for acknowledgement
		Handle any
	}

	Handler func(ctx context.Context, msg *ConsumerMessage) error

	Producer interface {
		Produce(ctx context.Context, msg *Message) error
	}
)

func (m *ConsumerMessage) StreamKey() StreamKey {
	return StreamKey{
		Topic:    m.Message.Topic,
		StreamID: m.Message.Key,
	}
}
