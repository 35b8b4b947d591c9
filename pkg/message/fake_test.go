package message_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

var errHandler = errors.New("handler failed")

// fakeBroker dispatches messages of a Key_Shared subscription between receivers by key hash ranges.
type fakeBroker struct {
	mutex     *sync.Mutex
	start     time.Time
	log       map[message.Topic][]*message.ConsumerMessage
	receivers []*fakeReceiver
	published int

	reportedRanges map[string]message.KeyHashRanges
	keyRangeErrors map[message.Topic]error
	keyRangeCalls  int
}

type fakeReceiver struct {
	broker *fakeBroker
	name   string
	topics []message.Topic
	ranges message.KeyHashRanges

	queue   []*message.ConsumerMessage
	unacked map[uuid.UUID]*message.ConsumerMessage
	acked   map[uuid.UUID]struct{}
	closed  bool
}

type fakeReader struct {
	broker   *fakeBroker
	topic    message.Topic
	position int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		mutex: &sync.Mutex{},
		start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		log:   make(map[message.Topic][]*message.ConsumerMessage),

		reportedRanges: make(map[string]message.KeyHashRanges),
		keyRangeErrors: make(map[message.Topic]error),
	}
}

func (b *fakeBroker) Receiver(name string, ranges message.KeyHashRanges, topics ...message.Topic) *fakeReceiver {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	r := &fakeReceiver{
		broker:  b,
		name:    name,
		topics:  topics,
		ranges:  ranges,
		unacked: make(map[uuid.UUID]*message.ConsumerMessage),
		acked:   make(map[uuid.UUID]struct{}),
	}
	b.receivers = append(b.receivers, r)
	return r
}

func (b *fakeBroker) Publish(topic message.Topic, streamID string, sequence int64) *message.ConsumerMessage {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.published++
	msg := &message.ConsumerMessage{
		Message: message.Message{
			ID:       uuid.New(),
			Topic:    topic,
			Key:      streamID,
			Sequence: sequence,
			Payload:  []byte(fmt.Sprintf("%s-%d", streamID, sequence)),
		},
		PublishTime: b.start.Add(time.Duration(b.published) * time.Millisecond),
	}
	b.log[topic] = append(b.log[topic], msg)

	hash := message.StreamKeyHash(streamID)
	for _, r := range b.receivers {
		if r.subscribed(topic) && (r.ranges == nil || r.ranges.Contains(hash)) {
			r.queue = append(r.queue, msg)
			break
		}
	}

	return msg
}

func (b *fakeBroker) Reader(_ context.Context, topic message.Topic) (message.TopicReader, error) {
	return &fakeReader{broker: b, topic: topic}, nil
}

// ReportKeyRanges makes the admin lookup report ranges that differ from the actual dispatch.
func (b *fakeBroker) ReportKeyRanges(consumerName string, ranges message.KeyHashRanges) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.reportedRanges[consumerName] = ranges
}

func (b *fakeBroker) FailKeyRanges(topic message.Topic, err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err == nil {
		delete(b.keyRangeErrors, topic)
		return
	}
	b.keyRangeErrors[topic] = err
}

func (b *fakeBroker) KeyRangeCalls() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return b.keyRangeCalls
}

func (b *fakeBroker) ConsumerKeyRanges(_ context.Context, topic message.Topic, _ message.SubscriberName, consumerName string) (message.KeyHashRanges, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.keyRangeCalls++
	if err, ok := b.keyRangeErrors[topic]; ok {
		return nil, err
	}
	if ranges, ok := b.reportedRanges[consumerName]; ok {
		return ranges, nil
	}

	for _, r := range b.receivers {
		if r.name == consumerName {
			return r.ranges, nil
		}
	}
	return nil, nil
}

// RedeliverUnacked hands delivered but unsettled messages out again, as the ack timeout does.
func (r *fakeReceiver) RedeliverUnacked() {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	redelivered := make([]*message.ConsumerMessage, 0, len(r.unacked))
	for id, msg := range r.unacked {
		redelivered = append(redelivered, msg)
		delete(r.unacked, id)
	}
	sort.Slice(redelivered, func(i, j int) bool {
		return redelivered[i].PublishTime.Before(redelivered[j].PublishTime)
	})

	r.queue = append(redelivered, r.queue...)
}

func (r *fakeReceiver) Acked(msg *message.ConsumerMessage) bool {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	_, ok := r.acked[msg.Message.ID]
	return ok
}

func (r *fakeReceiver) Name() string {
	return r.name
}

func (r *fakeReceiver) Subscription() message.SubscriberName {
	return "test-subscription"
}

func (r *fakeReceiver) Topics() []message.Topic {
	return r.topics
}

func (r *fakeReceiver) Receive(_ context.Context, maxMessages int, _ time.Duration) ([]*message.ConsumerMessage, error) {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	if r.closed {
		return nil, message.ErrConsumerClosed
	}

	n := min(maxMessages, len(r.queue))
	result := make([]*message.ConsumerMessage, n)
	copy(result, r.queue[:n])
	r.queue = r.queue[n:]
	for _, msg := range result {
		r.unacked[msg.Message.ID] = msg
	}

	return result, nil
}

func (r *fakeReceiver) Ack(_ context.Context, msg *message.ConsumerMessage) error {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	delete(r.unacked, msg.Message.ID)
	r.acked[msg.Message.ID] = struct{}{}
	return nil
}

func (r *fakeReceiver) Nack(_ context.Context, msg *message.ConsumerMessage) error {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	delete(r.unacked, msg.Message.ID)
	r.queue = append([]*message.ConsumerMessage{msg}, r.queue...)
	return nil
}

func (r *fakeReceiver) Close() error {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	r.closed = true
	return nil
}

func (r *fakeReceiver) subscribed(topic message.Topic) bool {
	for _, t := range r.topics {
		if t == topic {
			return true
		}
	}
	return false
}

func (r *fakeReader) SeekByTime(_ context.Context, t time.Time) error {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	msgs := r.broker.log[r.topic]
	r.position = sort.Search(len(msgs), func(i int) bool {
		return !msgs[i].PublishTime.Before(t)
	})
	return nil
}

func (r *fakeReader) HasNext(context.Context) (bool, error) {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	return r.position < len(r.broker.log[r.topic]), nil
}

func (r *fakeReader) Next(context.Context) (*message.ConsumerMessage, error) {
	r.broker.mutex.Lock()
	defer r.broker.mutex.Unlock()

	msgs := r.broker.log[r.topic]
	if r.position >= len(msgs) {
		return nil, errors.New("no more messages")
	}

	msg := msgs[r.position]
	r.position++
	return msg, nil
}

func (r *fakeReader) Close() error {
	return nil
}

// countingStore counts the store queries the tracker issues.
type countingStore struct {
	*message.InMemoryFailureStore
	mutex    *sync.Mutex
	scans    int
	findMany int
}

func newCountingStore(store *message.InMemoryFailureStore) *countingStore {
	return &countingStore{InMemoryFailureStore: store, mutex: &sync.Mutex{}}
}

func (s *countingStore) Scan(ctx context.Context, spec *message.FailureScanSpecification) ([]message.StreamFailure, int, error) {
	s.mutex.Lock()
	s.scans++
	s.mutex.Unlock()
	return s.InMemoryFailureStore.Scan(ctx, spec)
}

func (s *countingStore) FindMany(ctx context.Context, keys []message.StreamKey) ([]message.StreamFailure, error) {
	s.mutex.Lock()
	s.findMany++
	s.mutex.Unlock()
	return s.InMemoryFailureStore.FindMany(ctx, keys)
}

func (s *countingStore) Scans() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.scans
}

// consumerDriver runs request/response cycles the way the batch listener does, without goroutines.
type consumerDriver struct {
	consumer message.BatchConsumer
	handler  message.Handler
	observed []*message.ConsumerMessage
	handled  []*message.ConsumerMessage
}

func (d *consumerDriver) Cycle(ctx context.Context) error {
	msgs, err := d.consumer.NextBatch(ctx)
	if err != nil || len(msgs) == 0 {
		return err
	}

	streams := make(map[message.StreamKey][]*message.ConsumerMessage)
	keys := make([]message.StreamKey, 0)
	for _, msg := range msgs {
		if _, ok := streams[msg.StreamKey()]; !ok {
			keys = append(keys, msg.StreamKey())
		}
		streams[msg.StreamKey()] = append(streams[msg.StreamKey()], msg)
	}

	var acks, nacks []*message.ConsumerMessage
	for _, key := range keys {
		stream := streams[key]
		sort.SliceStable(stream, func(i, j int) bool {
			return stream[i].Message.Sequence < stream[j].Message.Sequence
		})

		for i, msg := range stream {
			d.observed = append(d.observed, msg)
			if err := d.handler(ctx, msg); err != nil {
				nacks = append(nacks, stream[i:]...)
				break
			}
			d.handled = append(d.handled, msg)
			acks = append(acks, msg)
		}
	}

	return d.consumer.FinalizeBatch(ctx, acks, nacks)
}

func handledSequences(msgs []*message.ConsumerMessage, streamID string) []int64 {
	result := make([]int64, 0)
	for _, msg := range msgs {
		if msg.Message.Key == streamID {
			result = append(result, msg.Message.Sequence)
		}
	}
	return result
}
