package sql

import (
	"context"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

const streamFailureTable = "stream_failure"

type (
	// FailureStore keeps stream failure records of a subscription in a postgres table, one row per stream.
	// Resolved records are deleted.
	FailureStore struct {
		db           TxClient
		subscription message.SubscriberName
	}

	sqlxStreamFailure struct {
		Topic           string     `db:"topic"`
		StreamID        string     `db:"stream_id"`
		LastSequenceID  int64      `db:"last_sequence_id"`
		LastMessageTime time.Time  `db:"last_message_time"`
		TimesRetried    int        `db:"times_retried"`
		NextRetry       *time.Time `db:"next_retry"`
		IsUpToDate      bool       `db:"is_up_to_date"`
	}
)

var (
	_ message.FailureStateStore = (*FailureStore)(nil)

	streamFailureColumns = []string{
		"topic",
		"stream_id",
		"last_sequence_id",
		"last_message_time",
		"times_retried",
		"next_retry",
		"is_up_to_date",
	}
)

func NewFailureStore(db TxClient, subscription message.SubscriberName) *FailureStore {
	return &FailureStore{
		db:           db,
		subscription: subscription,
	}
}

// Init does nothing, the table is created by migrations.
func (s *FailureStore) Init(context.Context) error {
	return nil
}

func (s *FailureStore) Publish(ctx context.Context, failures ...message.StreamFailure) (err error) {
	if len(failures) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("start tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, failure := range failures {
		query, args, err := s.publishQuery(failure).ToSql()
		if err != nil {
			return fmt.Errorf("build query for stream %s: %w", failure.Key(), err)
		}

		_, err = tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("write stream failure %s: %w", failure.Key(), err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("commit stream failures: %w", err)
	}
	return nil
}

func (s *FailureStore) Find(ctx context.Context, key message.StreamKey) (*message.StreamFailure, error) {
	failures, err := s.FindMany(ctx, []message.StreamKey{key})
	if err != nil || len(failures) == 0 {
		return nil, err
	}

	return &failures[0], nil
}

func (s *FailureStore) FindMany(ctx context.Context, keys []message.StreamKey) ([]message.StreamFailure, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	keyConditions := make(sq.Or, 0, len(keys))
	for _, key := range keys {
		keyConditions = append(keyConditions, sq.Eq{
			"topic":     string(key.Topic),
			"stream_id": key.StreamID,
		})
	}

	query, args, err := s.selectQuery().Where(keyConditions).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []sqlxStreamFailure
	err = s.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select stream failures: %w", err)
	}

	return convertStreamFailures(rows), nil
}

func (s *FailureStore) Scan(ctx context.Context, spec *message.FailureScanSpecification) ([]message.StreamFailure, int, error) {
	query, args, err := s.scanQuery(spec).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build scan query: %w", err)
	}

	var rows []sqlxStreamFailure
	err = s.db.SelectContext(ctx, &rows, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("scan stream failures: %w", err)
	}

	query, args, err = s.countQuery(spec).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}

	var total int
	err = s.db.GetContext(ctx, &total, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("count stream failures: %w", err)
	}

	return convertStreamFailures(rows), total, nil
}

func (s *FailureStore) Close() error {
	return nil
}

func (s *FailureStore) publishQuery(failure message.StreamFailure) sq.Sqlizer {
	if failure.IsResolved {
		return psql.Delete(streamFailureTable).Where(sq.Eq{
			"subscription": string(s.subscription),
			"topic":        string(failure.Topic),
			"stream_id":    failure.StreamID,
		})
	}

	return psql.Insert(streamFailureTable).
		Columns(append([]string{"subscription", "key_hash"}, streamFailureColumns...)...).
		Values(
			string(s.subscription),
			message.StreamKeyHash(failure.StreamID),
			string(failure.Topic),
			failure.StreamID,
			failure.LastSequenceID,
			failure.LastMessageTime,
			failure.TimesRetried,
			failure.NextRetry,
			failure.IsUpToDate,
		).
		Suffix(`ON CONFLICT (subscription, topic, stream_id) DO UPDATE SET
			last_sequence_id = excluded.last_sequence_id,
			last_message_time = excluded.last_message_time,
			times_retried = excluded.times_retried,
			next_retry = excluded.next_retry,
			is_up_to_date = excluded.is_up_to_date`)
}

func (s *FailureStore) selectQuery() sq.SelectBuilder {
	return psql.Select(streamFailureColumns...).
		From(streamFailureTable).
		Where(sq.Eq{"subscription": string(s.subscription)})
}

func (s *FailureStore) scanQuery(spec *message.FailureScanSpecification) sq.SelectBuilder {
	query := s.selectQuery().Where(ownedCondition(spec.Ownership))
	if spec.ExcludeUpToDate {
		query = query.Where(sq.Eq{"is_up_to_date": false})
	}
	if !spec.DueAt.IsZero() {
		query = query.Where(sq.Or{
			sq.Eq{"next_retry": nil},
			sq.LtOrEq{"next_retry": spec.DueAt},
		})
	}

	query = query.OrderBy("last_message_time", "topic", "stream_id")
	if spec.Limit > 0 {
		query = query.Limit(uint64(spec.Limit))
	}
	return query
}

func (s *FailureStore) countQuery(spec *message.FailureScanSpecification) sq.SelectBuilder {
	return psql.Select("COUNT(*)").
		From(streamFailureTable).
		Where(sq.Eq{"subscription": string(s.subscription)}).
		Where(ownedCondition(spec.Ownership))
}

// ownedCondition matches the key hash ranges of every known topic, streams of other topics are treated as owned.
func ownedCondition(ownership message.KeyOwnership) sq.Sqlizer {
	if len(ownership) == 0 {
		return sq.And{}
	}

	topics := make([]string, 0, len(ownership))
	for topic := range ownership {
		topics = append(topics, string(topic))
	}
	sort.Strings(topics)

	condition := sq.Or{sq.NotEq{"topic": topics}}
	for _, topic := range topics {
		ranges := make(sq.Or, 0, len(ownership[message.Topic(topic)]))
		for _, keyRange := range ownership[message.Topic(topic)] {
			ranges = append(ranges, sq.And{
				sq.GtOrEq{"key_hash": keyRange.Start},
				sq.LtOrEq{"key_hash": keyRange.End},
			})
		}
		condition = append(condition, sq.And{sq.Eq{"topic": topic}, ranges})
	}
	return condition
}

func convertStreamFailures(rows []sqlxStreamFailure) []message.StreamFailure {
	result := make([]message.StreamFailure, 0, len(rows))
	for _, row := range rows {
		result = append(result, message.StreamFailure{
			Topic:           message.Topic(row.Topic),
			StreamID:        row.StreamID,
			LastSequenceID:  row.LastSequenceID,
			LastMessageTime: row.LastMessageTime,
			TimesRetried:    row.TimesRetried,
			NextRetry:       row.NextRetry,
			IsUpToDate:      row.IsUpToDate,
		})
	}
	return result
}
