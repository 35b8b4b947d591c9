package message_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

func TestInMemoryFailureStore_Scan(t *testing.T) {
	ctx := context.Background()
	store := message.NewInMemoryFailureStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	past, future := now.Add(-time.Second), now.Add(time.Second)

	half := message.KeyHashRangeSize / 2
	owned := streamsInRange(0, half-1, 3)
	notOwned := streamInRange(half, message.KeyHashRangeSize-1)

	require.NoError(t, store.Publish(ctx,
		message.StreamFailure{Topic: testTopic, StreamID: owned[0], LastMessageTime: now.Add(2 * time.Second), NextRetry: &past},
		message.StreamFailure{Topic: testTopic, StreamID: owned[1], LastMessageTime: now.Add(time.Second)},
		message.StreamFailure{Topic: testTopic, StreamID: owned[2], LastMessageTime: now, NextRetry: &future},
		message.StreamFailure{Topic: testTopic, StreamID: notOwned, LastMessageTime: now, NextRetry: &past},
		message.StreamFailure{Topic: otherTopic, StreamID: notOwned, LastMessageTime: now.Add(3 * time.Second), IsUpToDate: true},
		message.StreamFailure{Topic: otherTopic, StreamID: owned[0], LastMessageTime: now, IsResolved: true},
	))

	ownership := message.KeyOwnership{testTopic: {{Start: 0, End: half - 1}}}
	failures, total, err := store.Scan(ctx, &message.FailureScanSpecification{
		Ownership:       ownership,
		DueAt:           now,
		ExcludeUpToDate: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 4, total)
	require.Len(t, failures, 2)
	assert.Equal(t, owned[1], failures[0].StreamID)
	assert.Equal(t, owned[0], failures[1].StreamID)

	failures, _, err = store.Scan(ctx, &message.FailureScanSpecification{Ownership: ownership, DueAt: now, ExcludeUpToDate: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, owned[1], failures[0].StreamID)
}

func TestInMemoryFailureStore_FindMany_HidesResolved(t *testing.T) {
	ctx := context.Background()
	store := message.NewInMemoryFailureStore()
	active := message.StreamFailure{Topic: testTopic, StreamID: "A", LastSequenceID: 1}
	resolved := message.StreamFailure{Topic: testTopic, StreamID: "B", LastSequenceID: 1, IsResolved: true}
	require.NoError(t, store.Publish(ctx, active, resolved))

	failures, err := store.FindMany(ctx, []message.StreamKey{active.Key(), resolved.Key(), {Topic: testTopic, StreamID: "C"}})
	require.NoError(t, err)
	assert.Equal(t, []message.StreamFailure{active}, failures)

	found, err := store.Find(ctx, resolved.Key())
	require.NoError(t, err)
	assert.Nil(t, found)
}
