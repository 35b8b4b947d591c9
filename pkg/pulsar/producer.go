package pulsar

import (
	"context"
	"fmt"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

func (b *MessageBroker) Producer() message.Producer {
	return producer{b}
}

type producer struct {
	broker *MessageBroker
}

func (p producer) Produce(ctx context.Context, msg *message.Message) error {
	pulsarProducer, err := p.broker.producer(msg.Topic)
	if err != nil {
		return err
	}

	_, err = pulsarProducer.Send(ctx, newProducerMessage(msg))
	if err != nil {
		return fmt.Errorf("send message %s to %s: %w", msg.ID, msg.Topic, err)
	}

	return nil
}

func (b *MessageBroker) producer(topic message.Topic) (pulsar.Producer, error) {
	b.producersMutex.Lock()
	defer b.producersMutex.Unlock()

	if p, ok := b.producers[topic]; ok {
		return p, nil
	}

	p, err := b.client.CreateProducer(pulsar.ProducerOptions{
		Topic: string(topic),
	})
	if err != nil {
		return nil, fmt.Errorf("create producer for topic %s: %w", topic, err)
	}

	b.producers[topic] = p
	return p, nil
}
