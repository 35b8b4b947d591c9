package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	pkgcmd "github.com/potatman/EventHorizon-sub000/pkg/cmd"
	"github.com/potatman/EventHorizon-sub000/pkg/env"
	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
	"github.com/potatman/EventHorizon-sub000/pkg/worker"
)

const defaultParallelStreams = 8

// Publishes PRODUCER_EVENTS_PER_STREAM events to each of PRODUCER_STREAMS streams of PRODUCER_TOPIC.
// Events of a stream are sent one by one with growing sequences, streams are sent in parallel.
func main() {
	ctx := context.Background()
	logger := pkgcmd.InitLogger()
	defer pkgcmd.HandleAppPanic(ctx, logger)

	topic := message.NewRawTopic(env.Must(env.Parse[string]("PRODUCER_TOPIC")))
	streams := env.Must(env.Parse[int]("PRODUCER_STREAMS"))
	eventsPerStream := env.Must(env.Parse[int]("PRODUCER_EVENTS_PER_STREAM"))

	broker := pkgcmd.MustInitPulsarMessageBroker(logger)
	defer broker.Close()
	producer := broker.Producer()

	group := worker.WithinFailFastGroup(ctx, worker.NewPool(defaultParallelStreams))
	for i := 0; i < streams; i++ {
		streamID := fmt.Sprintf("stream-%d", i)
		group.Do(func(ctx context.Context) error {
			for sequence := 1; sequence <= eventsPerStream; sequence++ {
				err := producer.Produce(ctx, &message.Message{
					ID:       uuid.New(),
					Topic:    topic,
					Key:      streamID,
					Sequence: int64(sequence),
					Payload:  []byte(fmt.Sprintf(`{"stream":%q,"sequence":%d}`, streamID, sequence)),
				})
				if err != nil {
					return fmt.Errorf("produce event %d of %s: %w", sequence, streamID, err)
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		panic(err)
	}

	logger.With(log.Fields{
		"topic":           topic,
		"streams":         streams,
		"eventsPerStream": eventsPerStream,
	}).Info(ctx, "events produced")
}
