package pulsar

import (
	"fmt"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/cenkalti/backoff/v4"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
	pkgtime "github.com/potatman/EventHorizon-sub000/pkg/time"
)

const defaultConnectionTimeout = 20 * time.Second

type Config struct {
	Address           string
	ConnectionTimeout time.Duration
}

// MessageBroker owns the pulsar client and everything created from it.
type MessageBroker struct {
	client pulsar.Client
	logger log.Logger
	clock  pkgtime.Clock

	producersMutex *sync.Mutex
	producers      map[message.Topic]pulsar.Producer
}

func NewMessageBroker(config *Config, logger log.Logger) (*MessageBroker, error) {
	connTimeout := defaultConnectionTimeout
	if config.ConnectionTimeout > 0 {
		connTimeout = config.ConnectionTimeout
	}

	c, err := pulsar.NewClient(pulsar.ClientOptions{
		URL:               fmt.Sprintf("pulsar://%s", config.Address),
		ConnectionTimeout: connTimeout,
		Logger:            newLoggerAdapter(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("create pulsar client: %w", err)
	}

	broker := newMessageBroker(c, logger, pkgtime.NewClock())
	err = broker.testCreateProducer(connTimeout)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return broker, nil
}

func newMessageBroker(client pulsar.Client, logger log.Logger, clock pkgtime.Clock) *MessageBroker {
	return &MessageBroker{
		client:         client,
		logger:         logger,
		clock:          clock,
		producersMutex: &sync.Mutex{},
		producers:      make(map[message.Topic]pulsar.Producer),
	}
}

func (b *MessageBroker) Close() {
	b.producersMutex.Lock()
	for _, producer := range b.producers {
		producer.Close()
	}
	b.producers = make(map[message.Topic]pulsar.Producer)
	b.producersMutex.Unlock()

	b.client.Close()
}

func (b *MessageBroker) testCreateProducer(connTimeout time.Duration) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Second
	eb.RandomizationFactor = 0
	eb.Multiplier = 2
	eb.MaxInterval = connTimeout / 4
	eb.MaxElapsedTime = connTimeout

	return backoff.Retry(func() error {
		p, err := b.client.CreateProducer(pulsar.ProducerOptions{
			Topic: "non-persistent://public/default/test-topic",
		})
		if err == nil {
			p.Close()
		}
		return err
	}, eb)
}
