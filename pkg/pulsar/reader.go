package pulsar

import (
	"context"
	"fmt"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

// Reader opens a non-durable reader of the whole topic, callers seek it by publish time.
func (b *MessageBroker) Reader(_ context.Context, topic message.Topic) (message.TopicReader, error) {
	reader, err := b.client.CreateReader(pulsar.ReaderOptions{
		Topic:                   string(topic),
		StartMessageID:          pulsar.EarliestMessageID(),
		StartMessageIDInclusive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create reader for topic %s: %w", topic, err)
	}

	return topicReader{topic: topic, reader: reader}, nil
}

type topicReader struct {
	topic  message.Topic
	reader pulsar.Reader
}

func (r topicReader) SeekByTime(_ context.Context, t time.Time) error {
	if err := r.reader.SeekByTime(t); err != nil {
		return fmt.Errorf("seek %s to %s: %w", r.topic, t, err)
	}
	return nil
}

func (r topicReader) HasNext(context.Context) (bool, error) {
	return r.reader.HasNext(), nil
}

func (r topicReader) Next(ctx context.Context) (*message.ConsumerMessage, error) {
	msg, err := r.reader.Next(ctx)
	if err != nil {
		return nil, fmt.Errorf("read next message of %s: %w", r.topic, err)
	}

	return newConsumerMessage(msg), nil
}

func (r topicReader) Close() error {
	r.reader.Close()
	return nil
}
