package pulsar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/google/uuid"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

type (
	// FailureStore keeps stream failure records in a compacted topic keyed by stream key and serves reads
	// from its table view. Writes are sent asynchronously and stay visible locally until the view echoes them.
	FailureStore struct {
		client pulsar.Client
		topic  message.Topic
		logger log.Logger

		tableView pulsar.TableView
		producer  pulsar.Producer

		mutex   *sync.RWMutex
		records map[message.StreamKey]message.StreamFailure
		pending map[message.StreamKey]pendingWrite
	}

	pendingWrite struct {
		writeID uuid.UUID
		failure message.StreamFailure
	}

	streamFailureRecord struct {
		WriteID         uuid.UUID  `json:"writeId"`
		Topic           string     `json:"topic"`
		StreamID        string     `json:"streamId"`
		LastSequenceID  int64      `json:"lastSequenceId"`
		LastMessageTime time.Time  `json:"lastMessageTime"`
		TimesRetried    int        `json:"timesRetried"`
		NextRetry       *time.Time `json:"nextRetry,omitempty"`
		IsUpToDate      bool       `json:"isUpToDate"`
	}
)

var _ message.FailureStateStore = (*FailureStore)(nil)

func (b *MessageBroker) FailureStore(topic message.Topic) *FailureStore {
	return &FailureStore{
		client:  b.client,
		topic:   topic,
		logger:  b.logger.WithField("failureStateTopic", topic),
		mutex:   &sync.RWMutex{},
		records: make(map[message.StreamKey]message.StreamFailure),
		pending: make(map[message.StreamKey]pendingWrite),
	}
}

// Init loads the current snapshot and keeps following the topic.
func (s *FailureStore) Init(context.Context) error {
	tableView, err := s.client.CreateTableView(pulsar.TableViewOptions{
		Topic:           string(s.topic),
		Schema:          pulsar.NewBytesSchema(nil),
		SchemaValueType: reflect.TypeOf([]byte{}),
	})
	if err != nil {
		return fmt.Errorf("create table view for %s: %w", s.topic, err)
	}

	producer, err := s.client.CreateProducer(pulsar.ProducerOptions{
		Topic: string(s.topic),
	})
	if err != nil {
		tableView.Close()
		return fmt.Errorf("create producer for %s: %w", s.topic, err)
	}

	s.tableView = tableView
	s.producer = producer
	if err = tableView.ForEachAndListen(s.apply); err != nil {
		return fmt.Errorf("listen table view %s: %w", s.topic, err)
	}

	return nil
}

// Publish writes resolved records as tombstones, compaction removes them.
func (s *FailureStore) Publish(ctx context.Context, failures ...message.StreamFailure) error {
	if s.producer == nil {
		return errors.New("failure store is not initialized")
	}

	for _, failure := range failures {
		key := failure.Key()
		writeID := uuid.New()

		var payload []byte
		if !failure.IsResolved {
			var err error
			payload, err = json.Marshal(newStreamFailureRecord(writeID, failure))
			if err != nil {
				return fmt.Errorf("encode stream failure %s: %w", key, err)
			}
		}

		s.mutex.Lock()
		s.pending[key] = pendingWrite{writeID: writeID, failure: failure}
		s.mutex.Unlock()

		s.producer.SendAsync(ctx, &pulsar.ProducerMessage{
			Key:     key.String(),
			Payload: payload,
		}, func(_ pulsar.MessageID, _ *pulsar.ProducerMessage, err error) {
			if err == nil {
				return
			}

			s.dropPending(key, writeID)
			s.logger.WithError(err).WithField("streamKey", key.String()).Error(ctx, "failed to write stream failure")
		})
	}

	return nil
}

func (s *FailureStore) Find(_ context.Context, key message.StreamKey) (*message.StreamFailure, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	failure, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	return &failure, nil
}

func (s *FailureStore) FindMany(_ context.Context, keys []message.StreamKey) ([]message.StreamFailure, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]message.StreamFailure, 0)
	for _, key := range keys {
		if failure, ok := s.lookup(key); ok {
			result = append(result, failure)
		}
	}
	return result, nil
}

func (s *FailureStore) Scan(_ context.Context, spec *message.FailureScanSpecification) ([]message.StreamFailure, int, error) {
	s.mutex.RLock()
	merged := make(map[message.StreamKey]message.StreamFailure, len(s.records)+len(s.pending))
	for key, failure := range s.records {
		merged[key] = failure
	}
	for key, write := range s.pending {
		merged[key] = write.failure
	}
	s.mutex.RUnlock()

	return message.ScanFailures(merged, spec), message.CountOwnedFailures(merged, spec), nil
}

func (s *FailureStore) Close() error {
	var errs []error
	if s.producer != nil {
		if err := s.producer.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("flush stream failures: %w", err))
		}
		s.producer.Close()
	}
	if s.tableView != nil {
		s.tableView.Close()
	}

	return errors.Join(errs...)
}

// Pending reports writes not observed in the table view yet.
func (s *FailureStore) Pending() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.pending)
}

func (s *FailureStore) apply(rawKey string, value any) error {
	key, err := message.ParseStreamKey(rawKey)
	if err != nil {
		s.logger.WithError(err).Warn(context.Background(), "skipped stream failure with invalid key")
		return nil
	}

	payload, _ := value.([]byte)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if len(payload) == 0 {
		delete(s.records, key)
		if write, ok := s.pending[key]; ok && write.failure.IsResolved {
			delete(s.pending, key)
		}
		return nil
	}

	var record streamFailureRecord
	if err = json.Unmarshal(payload, &record); err != nil {
		s.logger.WithError(err).WithField("streamKey", rawKey).Warn(context.Background(), "skipped undecodable stream failure")
		return nil
	}

	s.records[key] = record.streamFailure()
	if write, ok := s.pending[key]; ok && write.writeID == record.WriteID {
		delete(s.pending, key)
	}
	return nil
}

func (s *FailureStore) lookup(key message.StreamKey) (message.StreamFailure, bool) {
	failure, ok := s.records[key]
	if write, pending := s.pending[key]; pending {
		failure, ok = write.failure, true
	}
	if !ok || failure.IsResolved {
		return message.StreamFailure{}, false
	}

	return failure, true
}

func (s *FailureStore) dropPending(key message.StreamKey, writeID uuid.UUID) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if write, ok := s.pending[key]; ok && write.writeID == writeID {
		delete(s.pending, key)
	}
}

func newStreamFailureRecord(writeID uuid.UUID, failure message.StreamFailure) streamFailureRecord {
	return streamFailureRecord{
		WriteID:         writeID,
		Topic:           string(failure.Topic),
		StreamID:        failure.StreamID,
		LastSequenceID:  failure.LastSequenceID,
		LastMessageTime: failure.LastMessageTime,
		TimesRetried:    failure.TimesRetried,
		NextRetry:       failure.NextRetry,
		IsUpToDate:      failure.IsUpToDate,
	}
}

func (r streamFailureRecord) streamFailure() message.StreamFailure {
	return message.StreamFailure{
		Topic:           message.Topic(r.Topic),
		StreamID:        r.StreamID,
		LastSequenceID:  r.LastSequenceID,
		LastMessageTime: r.LastMessageTime,
		TimesRetried:    r.TimesRetried,
		NextRetry:       r.NextRetry,
		IsUpToDate:      r.IsUpToDate,
	}
}
