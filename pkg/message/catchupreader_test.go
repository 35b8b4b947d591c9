package message_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatman/EventHorizon-sub000/pkg/message"
	pkgtime "github.com/potatman/EventHorizon-sub000/pkg/time"
)

const otherTopic message.Topic = "persistent://public/default/payments"

func TestCatchUpReader_Read_MergesTopicsByPublishTime(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	a1 := broker.Publish(testTopic, "A", 1)
	broker.Publish(testTopic, "C", 1)
	b1 := broker.Publish(otherTopic, "B", 1)
	a2 := broker.Publish(testTopic, "A", 2)
	b2 := broker.Publish(otherTopic, "B", 2)
	broker.Publish(otherTopic, "A", 1)
	a3 := broker.Publish(testTopic, "A", 3)

	past := now.Add(-time.Second)
	failures := []message.StreamFailure{
		{Topic: testTopic, StreamID: "A", LastSequenceID: 1, LastMessageTime: a1.PublishTime, NextRetry: &past},
		{Topic: otherTopic, StreamID: "B", LastSequenceID: 1, LastMessageTime: b1.PublishTime},
	}

	reader := message.NewCatchUpReader(broker, 2, message.WithClock(pkgtime.NewManualClock(now)))
	msgs, err := reader.Read(ctx, failures, 10)
	require.NoError(t, err)

	assert.Equal(t, []*message.ConsumerMessage{a1, a2, b2, a3}, msgs)
	require.NoError(t, reader.Close())
}

func TestCatchUpReader_Read_StopsAtBatchSize(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()

	first := broker.Publish(testTopic, "A", 1)
	for seq := int64(2); seq <= 10; seq++ {
		broker.Publish(testTopic, "A", seq)
	}

	reader := message.NewCatchUpReader(broker, 3)
	msgs, err := reader.Read(ctx, []message.StreamFailure{
		{Topic: testTopic, StreamID: "A", LastSequenceID: 0, LastMessageTime: first.PublishTime},
	}, 4)
	require.NoError(t, err)

	require.Len(t, msgs, 4)
	for i, msg := range msgs {
		assert.Equal(t, int64(i+1), msg.Message.Sequence)
	}
}

func TestCatchUpReader_Read_SkipsPrematureRetry(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)

	msg := broker.Publish(testTopic, "A", 1)
	reader := message.NewCatchUpReader(broker, 10, message.WithClock(pkgtime.NewManualClock(now)))
	msgs, err := reader.Read(ctx, []message.StreamFailure{
		{Topic: testTopic, StreamID: "A", LastSequenceID: 1, LastMessageTime: msg.PublishTime, NextRetry: &future},
	}, 10)

	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRetryConsumer_NextBatch_MarksDrainedStreamsUpToDate(t *testing.T) {
	ctx := context.Background()
	broker := newFakeBroker()
	store := message.NewInMemoryFailureStore()
	clock := pkgtime.NewManualClock(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	tracker := message.NewStreamFailureTracker(store, testBackoff, message.WithClock(clock))

	a2 := broker.Publish(testTopic, "A", 2)
	b1 := broker.Publish(testTopic, "B", 1)
	b2 := broker.Publish(testTopic, "B", 2)
	require.NoError(t, store.Publish(ctx,
		message.StreamFailure{Topic: testTopic, StreamID: "A", LastSequenceID: 2, LastMessageTime: a2.PublishTime},
		message.StreamFailure{Topic: testTopic, StreamID: "B", LastSequenceID: 1, LastMessageTime: b1.PublishTime},
	))

	consumer := message.NewRetryConsumer(tracker, message.NewCatchUpReader(broker, 10, message.WithClock(clock)), 10, message.WithClock(clock))
	msgs, err := consumer.NextBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*message.ConsumerMessage{b2}, msgs)

	a, err := store.Find(ctx, message.StreamKey{Topic: testTopic, StreamID: "A"})
	require.NoError(t, err)
	assert.True(t, a.IsUpToDate)
	b, err := store.Find(ctx, message.StreamKey{Topic: testTopic, StreamID: "B"})
	require.NoError(t, err)
	assert.False(t, b.IsUpToDate)

	require.NoError(t, consumer.FinalizeBatch(ctx, msgs, nil))
	b, err = store.Find(ctx, message.StreamKey{Topic: testTopic, StreamID: "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.LastSequenceID)
	assert.False(t, b.IsFailed())
}

func TestRetryConsumer_FinalizeBatch_FailsFromEarliestNack(t *testing.T) {
	ctx := context.Background()
	store := message.NewInMemoryFailureStore()
	clock := pkgtime.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tracker := message.NewStreamFailureTracker(store, testBackoff, message.WithClock(clock))
	consumer := message.NewRetryConsumer(tracker, message.NewCatchUpReader(newFakeBroker(), 10), 10)

	past := clock.Now(ctx).Add(-time.Second)
	require.NoError(t, store.Publish(ctx, message.StreamFailure{Topic: testTopic, StreamID: "A", LastSequenceID: 2, NextRetry: &past}))

	err := consumer.FinalizeBatch(ctx,
		[]*message.ConsumerMessage{newTestMessage(testTopic, "A", 2)},
		[]*message.ConsumerMessage{newTestMessage(testTopic, "A", 4), newTestMessage(testTopic, "A", 3)},
	)
	require.NoError(t, err)

	failure, err := store.Find(ctx, message.StreamKey{Topic: testTopic, StreamID: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), failure.LastSequenceID)
	assert.True(t, failure.IsFailed())
	assert.Zero(t, failure.TimesRetried)
}
