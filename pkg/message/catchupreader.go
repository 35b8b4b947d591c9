package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const DefaultCatchUpPrefetchSize = 100

// CatchUpReader replays topics of failed streams. It keeps one reader per topic and merges the topics
// by publish time, so only topics with unhealthy streams are ever read.
type CatchUpReader struct {
	readers      ReaderProvider
	prefetchSize int
	consumerOptions

	mutex        *sync.Mutex
	topicReaders map[Topic]TopicReader
}

type topicQueue struct {
	topic     Topic
	reader    TopicReader
	buffer    []*ConsumerMessage
	exhausted bool
}

func NewCatchUpReader(readers ReaderProvider, prefetchSize int, opts ...ConsumerOption) *CatchUpReader {
	if prefetchSize <= 0 {
		prefetchSize = DefaultCatchUpPrefetchSize
	}

	return &CatchUpReader{
		readers:         readers,
		prefetchSize:    prefetchSize,
		consumerOptions: newConsumerOptions(opts),
		mutex:           &sync.Mutex{},
		topicReaders:    make(map[Topic]TopicReader),
	}
}

// Read returns up to batchSize messages of the given streams ordered by publish time across topics.
// Messages of other streams, messages before the resume point and premature retries are skipped.
func (r *CatchUpReader) Read(ctx context.Context, failures []StreamFailure, batchSize int) ([]*ConsumerMessage, error) {
	if len(failures) == 0 || batchSize <= 0 {
		return nil, nil
	}

	now := r.clock.Now(ctx)
	byKey := make(map[StreamKey]StreamFailure, len(failures))
	seekTimes := make(map[Topic]time.Time)
	topics := make([]Topic, 0)
	for _, failure := range failures {
		byKey[failure.Key()] = failure

		seekTime, ok := seekTimes[failure.Topic]
		if !ok {
			topics = append(topics, failure.Topic)
		}
		if !ok || failure.LastMessageTime.Before(seekTime) {
			seekTimes[failure.Topic] = failure.LastMessageTime
		}
	}

	queues := make([]*topicQueue, 0, len(topics))
	for _, topic := range topics {
		reader, err := r.reader(ctx, topic)
		if err != nil {
			return nil, err
		}
		if err = reader.SeekByTime(ctx, seekTimes[topic]); err != nil {
			return nil, fmt.Errorf("seek topic %s reader: %w", topic, err)
		}

		queues = append(queues, &topicQueue{topic: topic, reader: reader})
	}

	result := make([]*ConsumerMessage, 0, batchSize)
	for len(result) < batchSize {
		for _, queue := range queues {
			if err := queue.prefetch(ctx, r.prefetchSize); err != nil {
				return nil, err
			}
		}

		head := earliestQueue(queues)
		if head == nil {
			break
		}

		msg := head.pop()
		failure, ok := byKey[msg.StreamKey()]
		if !ok || !failure.IsEligibleForRetry(msg, now) {
			continue
		}

		result = append(result, msg)
	}

	r.metrics.WithLabel("phase", PhaseFailureRetry).Count("consumer_messages_relayed_total", len(result))
	return result, nil
}

func (r *CatchUpReader) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var errs []error
	for topic, reader := range r.topicReaders {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close topic %s reader: %w", topic, err))
		}
	}
	r.topicReaders = make(map[Topic]TopicReader)

	return errors.Join(errs...)
}

func (r *CatchUpReader) reader(ctx context.Context, topic Topic) (TopicReader, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if reader, ok := r.topicReaders[topic]; ok {
		return reader, nil
	}

	reader, err := r.readers.Reader(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("open topic %s reader: %w", topic, err)
	}

	r.topicReaders[topic] = reader
	return reader, nil
}

func (q *topicQueue) prefetch(ctx context.Context, size int) error {
	if len(q.buffer) > 0 {
		return nil
	}

	for len(q.buffer) < size && !q.exhausted {
		hasNext, err := q.reader.HasNext(ctx)
		if err != nil {
			return fmt.Errorf("check topic %s reader: %w", q.topic, err)
		}
		if !hasNext {
			q.exhausted = true
			break
		}

		msg, err := q.reader.Next(ctx)
		if err != nil {
			return fmt.Errorf("read topic %s: %w", q.topic, err)
		}

		q.buffer = append(q.buffer, msg)
	}

	return nil
}

func (q *topicQueue) pop() *ConsumerMessage {
	msg := q.buffer[0]
	q.buffer[0] = nil
	q.buffer = q.buffer[1:]
	return msg
}

func earliestQueue(queues []*topicQueue) *topicQueue {
	var result *topicQueue
	for _, queue := range queues {
		if len(queue.buffer) == 0 {
			continue
		}
		if result == nil || queue.buffer[0].PublishTime.Before(result.buffer[0].PublishTime) {
			result = queue
		}
	}

	return result
}
