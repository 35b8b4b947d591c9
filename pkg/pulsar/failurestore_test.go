package pulsar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
	pkgtime "github.com/potatman/EventHorizon-sub000/pkg/time"
)

const failureTopic = "persistent://public/default/orders-handler-failures"

func newTestFailureStore(t *testing.T, client *fakeClient) *FailureStore {
	broker := newMessageBroker(client, log.New(log.LevelDisabled), pkgtime.NewClock())
	store := broker.FailureStore(failureTopic)
	require.NoError(t, store.Init(context.Background()))
	return store
}

func failedStream(streamID string, sequence int64) message.StreamFailure {
	nextRetry := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	return message.StreamFailure{
		Topic:           testTopic,
		StreamID:        streamID,
		LastSequenceID:  sequence,
		LastMessageTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		TimesRetried:    1,
		NextRetry:       &nextRetry,
	}
}

func TestFailureStore_PendingWriteVisibleUntilEchoed(t *testing.T) {
	client := newFakeClient()
	store := newTestFailureStore(t, client)
	ctx := context.Background()
	failure := failedStream("order-1", 3)

	require.NoError(t, store.Publish(ctx, failure))
	require.Equal(t, 1, store.Pending())

	found, err := store.Find(ctx, failure.Key())
	require.NoError(t, err)
	require.Equal(t, &failure, found)

	client.tableView.echo(client.producer.last().msg)
	require.Zero(t, store.Pending())

	found, err = store.Find(ctx, failure.Key())
	require.NoError(t, err)
	require.Equal(t, failure.LastSequenceID, found.LastSequenceID)
	require.True(t, failure.NextRetry.Equal(*found.NextRetry))
	require.Equal(t, failure.TimesRetried, found.TimesRetried)
}

func TestFailureStore_StaleEchoKeepsPendingWrite(t *testing.T) {
	client := newFakeClient()
	store := newTestFailureStore(t, client)
	ctx := context.Background()
	first := failedStream("order-1", 3)
	second := failedStream("order-1", 4)

	require.NoError(t, store.Publish(ctx, first))
	firstSent := client.producer.last().msg
	require.NoError(t, store.Publish(ctx, second))

	client.tableView.echo(firstSent)
	require.Equal(t, 1, store.Pending())

	found, err := store.Find(ctx, second.Key())
	require.NoError(t, err)
	require.Equal(t, int64(4), found.LastSequenceID)
}

func TestFailureStore_ResolvedRecordIsTombstoned(t *testing.T) {
	client := newFakeClient()
	store := newTestFailureStore(t, client)
	ctx := context.Background()
	failure := failedStream("order-1", 3)

	require.NoError(t, store.Publish(ctx, failure))
	client.tableView.echo(client.producer.last().msg)

	failure.IsResolved = true
	require.NoError(t, store.Publish(ctx, failure))
	require.Empty(t, client.producer.last().msg.Payload)

	found, err := store.Find(ctx, failure.Key())
	require.NoError(t, err)
	require.Nil(t, found)

	client.tableView.echo(client.producer.last().msg)
	require.Zero(t, store.Pending())

	found, err = store.Find(ctx, failure.Key())
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestFailureStore_FailedWriteDropsPendingRecord(t *testing.T) {
	client := newFakeClient()
	store := newTestFailureStore(t, client)
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, failedStream("order-1", 3)))
	sent := client.producer.last()
	sent.callback(nil, sent.msg, errors.New("broker unavailable"))

	require.Zero(t, store.Pending())
	found, err := store.Find(ctx, message.StreamKey{Topic: testTopic, StreamID: "order-1"})
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestFailureStore_InitLoadsSnapshot(t *testing.T) {
	client := newFakeClient()
	seed := newTestFailureStore(t, newFakeClient())
	failure := failedStream("order-1", 3)
	require.NoError(t, seed.Publish(context.Background(), failure))
	seedClient := seed.producer.(*fakeProducer)

	client.tableView.existing = map[string][]byte{
		failure.Key().String(): seedClient.last().msg.Payload,
		"invalid-key":          []byte("{}"),
		testTopic + "#order-2": []byte("not json"),
	}
	store := newTestFailureStore(t, client)

	found, err := store.FindMany(context.Background(), []message.StreamKey{
		failure.Key(),
		{Topic: testTopic, StreamID: "order-2"},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "order-1", found[0].StreamID)
}

func TestFailureStore_ScanMergesPendingWrites(t *testing.T) {
	client := newFakeClient()
	store := newTestFailureStore(t, client)
	ctx := context.Background()

	require.NoError(t, store.Publish(ctx, failedStream("order-1", 1)))
	client.tableView.echo(client.producer.last().msg)
	require.NoError(t, store.Publish(ctx, failedStream("order-2", 2)))

	failures, total, err := store.Scan(ctx, &message.FailureScanSpecification{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, failures, 2)
}

func TestFailureStore_CloseFlushesWrites(t *testing.T) {
	client := newFakeClient()
	store := newTestFailureStore(t, client)

	require.NoError(t, store.Close())
	require.True(t, client.producer.flushed)
	require.True(t, client.producer.closed)
	require.True(t, client.tableView.closed)
}
