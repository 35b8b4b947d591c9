package pulsar

import (
	"context"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
)

type fakeMessageID struct {
	pulsar.MessageID
	id string
}

func (id fakeMessageID) Serialize() []byte {
	return []byte(id.id)
}

type fakeMessage struct {
	pulsar.Message
	id          fakeMessageID
	topic       string
	key         string
	properties  map[string]string
	publishTime time.Time
	payload     []byte
}

func (m fakeMessage) ID() pulsar.MessageID {
	return m.id
}

func (m fakeMessage) Topic() string {
	return m.topic
}

func (m fakeMessage) Key() string {
	return m.key
}

func (m fakeMessage) Properties() map[string]string {
	return m.properties
}

func (m fakeMessage) PublishTime() time.Time {
	return m.publishTime
}

func (m fakeMessage) Payload() []byte {
	return m.payload
}

type fakeConsumer struct {
	pulsar.Consumer
	ch chan pulsar.ConsumerMessage

	mutex  sync.Mutex
	acked  []string
	nacked []string
	closed bool
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{ch: make(chan pulsar.ConsumerMessage, 100)}
}

func (c *fakeConsumer) deliver(msgs ...fakeMessage) {
	for _, msg := range msgs {
		c.ch <- pulsar.ConsumerMessage{Consumer: c, Message: msg}
	}
}

func (c *fakeConsumer) Name() string {
	return "fake-consumer"
}

func (c *fakeConsumer) Chan() <-chan pulsar.ConsumerMessage {
	return c.ch
}

func (c *fakeConsumer) AckID(id pulsar.MessageID) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.acked = append(c.acked, string(id.Serialize()))
	return nil
}

func (c *fakeConsumer) NackID(id pulsar.MessageID) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.nacked = append(c.nacked, string(id.Serialize()))
}

func (c *fakeConsumer) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closed = true
}

type sentMessage struct {
	msg      *pulsar.ProducerMessage
	callback func(pulsar.MessageID, *pulsar.ProducerMessage, error)
}

type fakeProducer struct {
	pulsar.Producer

	mutex   sync.Mutex
	sent    []sentMessage
	flushed bool
	closed  bool
}

func (p *fakeProducer) SendAsync(_ context.Context, msg *pulsar.ProducerMessage, callback func(pulsar.MessageID, *pulsar.ProducerMessage, error)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.sent = append(p.sent, sentMessage{msg: msg, callback: callback})
}

func (p *fakeProducer) Flush() error {
	p.flushed = true
	return nil
}

func (p *fakeProducer) Close() {
	p.closed = true
}

func (p *fakeProducer) last() sentMessage {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.sent[len(p.sent)-1]
}

type fakeTableView struct {
	pulsar.TableView
	existing map[string][]byte
	listener func(string, any) error
	closed   bool
}

func (v *fakeTableView) ForEachAndListen(action func(string, any) error) error {
	for key, value := range v.existing {
		if err := action(key, value); err != nil {
			return err
		}
	}
	v.listener = action
	return nil
}

func (v *fakeTableView) Close() {
	v.closed = true
}

// echo feeds a produced message back the way the table view observes the compacted topic.
func (v *fakeTableView) echo(msg *pulsar.ProducerMessage) {
	var payload []byte
	if len(msg.Payload) > 0 {
		payload = msg.Payload
	}
	_ = v.listener(msg.Key, payload)
}

type fakeClient struct {
	pulsar.Client
	tableView *fakeTableView
	producer  *fakeProducer
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		tableView: &fakeTableView{},
		producer:  &fakeProducer{},
	}
}

func (c *fakeClient) CreateTableView(pulsar.TableViewOptions) (pulsar.TableView, error) {
	return c.tableView, nil
}

func (c *fakeClient) CreateProducer(pulsar.ProducerOptions) (pulsar.Producer, error) {
	return c.producer, nil
}

func (c *fakeClient) Close() {}
