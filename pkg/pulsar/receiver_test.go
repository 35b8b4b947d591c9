package pulsar

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
	pkgtime "github.com/potatman/EventHorizon-sub000/pkg/time"
)

const testTopic = "persistent://public/default/orders"

func newTestReceiver(consumer *fakeConsumer, clock pkgtime.Clock) *BatchReceiver {
	return newBatchReceiver(consumer, &ReceiverOptions{
		Topics:            []message.Topic{testTopic},
		Subscription:      "orders-handler",
		Name:              "orders-handler-1",
		RedeliveryTimeout: time.Minute,
	}, clock, log.New(log.LevelDisabled))
}

func testMessage(id string, sequence int) fakeMessage {
	return fakeMessage{
		id:          fakeMessageID{id: id},
		topic:       testTopic,
		key:         "order-1",
		publishTime: time.Date(2024, 1, 1, 0, 0, sequence, 0, time.UTC),
	}
}

func TestBatchReceiver_ReceiveDrainsAvailableMessages(t *testing.T) {
	consumer := newFakeConsumer()
	receiver := newTestReceiver(consumer, pkgtime.NewClock())
	consumer.deliver(testMessage("1", 1), testMessage("2", 2), testMessage("3", 3))

	msgs, err := receiver.Receive(context.Background(), 2, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	msgs, err = receiver.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 3, receiver.Unsettled())
}

func TestBatchReceiver_ReceiveTimesOutEmpty(t *testing.T) {
	receiver := newTestReceiver(newFakeConsumer(), pkgtime.NewClock())

	msgs, err := receiver.Receive(context.Background(), 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestBatchReceiver_AckAndNackSettleMessages(t *testing.T) {
	consumer := newFakeConsumer()
	receiver := newTestReceiver(consumer, pkgtime.NewClock())
	consumer.deliver(testMessage("1", 1), testMessage("2", 2))

	msgs, err := receiver.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	require.NoError(t, receiver.Ack(context.Background(), msgs[0]))
	require.NoError(t, receiver.Nack(context.Background(), msgs[1]))
	require.Equal(t, []string{"1"}, consumer.acked)
	require.Equal(t, []string{"2"}, consumer.nacked)
	require.Zero(t, receiver.Unsettled())
}

func TestBatchReceiver_RedeliversExpiredUnsettledMessages(t *testing.T) {
	consumer := newFakeConsumer()
	clock := pkgtime.NewManualClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	receiver := newTestReceiver(consumer, clock)
	consumer.deliver(testMessage("1", 1))

	_, err := receiver.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	consumer.deliver(testMessage("2", 2))
	_, err = receiver.Receive(context.Background(), 10, time.Second)
	require.NoError(t, err)
	require.Empty(t, consumer.nacked)
	require.Equal(t, 2, receiver.Unsettled())

	clock.Advance(30 * time.Second)
	_, err = receiver.Receive(context.Background(), 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, consumer.nacked)
	require.Equal(t, 1, receiver.Unsettled())
}

func TestBatchReceiver_ClosedReceiverFails(t *testing.T) {
	consumer := newFakeConsumer()
	receiver := newTestReceiver(consumer, pkgtime.NewClock())

	require.NoError(t, receiver.Close())
	require.NoError(t, receiver.Close())
	require.True(t, consumer.closed)

	_, err := receiver.Receive(context.Background(), 10, time.Second)
	require.ErrorIs(t, err, message.ErrConsumerClosed)
}
