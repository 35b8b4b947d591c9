package message

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/metric"
	"github.com/potatman/EventHorizon-sub000/pkg/worker"
)

const defaultListenerWorkersCount = worker.MaxWorkersCountNumCPU

type (
	// BatchListener drives a BatchConsumer: it takes a batch, hands it to the handler and reports the
	// outcomes. Messages of a stream are handled one by one in sequence order, distinct streams in parallel.
	BatchListener struct {
		Workers               worker.Pool
		CycleRetry            backoff.BackOff
		OnBeforeHandleMessage []func(context.Context, *ConsumerMessage) context.Context
		OnHandlerResult       []func(context.Context, *ConsumerMessage, error)
		OnSkippedMessage      []func(context.Context, *ConsumerMessage)
		OnBatchFinalized      []func(_ context.Context, acks, nacks []*ConsumerMessage, err error)
		OnCycleError          []func(context.Context, error)
		OnPanic               []func(_ context.Context, _ *ConsumerMessage, panicMsg any, stacktrace []byte)

		consumer BatchConsumer
		handler  Handler
	}

	ListenerOption func(*BatchListener)
)

func NewBatchListener(consumer BatchConsumer, handler Handler, opts ...ListenerOption) worker.ErrorJob {
	defaultCycleRetry := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMultiplier(2),
		backoff.WithMaxInterval(time.Minute),
		backoff.WithMaxElapsedTime(0),
	)

	impl := &BatchListener{
		Workers:    worker.NewPool(defaultListenerWorkersCount),
		CycleRetry: defaultCycleRetry,
		consumer:   consumer,
		handler:    handler,
	}
	for _, opt := range opts {
		opt(impl)
	}

	return impl.consumerWorker
}

func WithListenerWorkers(pool worker.Pool) ListenerOption {
	return func(l *BatchListener) {
		l.Workers = pool
	}
}

func WithListenerCycleRetry(retry backoff.BackOff) ListenerOption {
	return func(l *BatchListener) {
		l.CycleRetry = retry
	}
}

func WithListenerLogging(logger log.Logger) ListenerOption {
	return func(l *BatchListener) {
		l.OnHandlerResult = append(l.OnHandlerResult, func(ctx context.Context, msg *ConsumerMessage, err error) {
			if err == nil {
				return
			}
			logger.With(log.Fields{
				"topic":     msg.Message.Topic,
				"streamID":  msg.Message.Key,
				"sequence":  msg.Message.Sequence,
				"messageID": msg.Message.ID,
			}).WithError(err).Warn(ctx, "message handled with error")
		})
		l.OnCycleError = append(l.OnCycleError, func(ctx context.Context, err error) {
			logger.WithError(err).Error(ctx, "consumer cycle failed, retrying")
		})
		l.OnPanic = append(l.OnPanic, func(ctx context.Context, msg *ConsumerMessage, panicMsg any, stacktrace []byte) {
			logger.With(log.Fields{
				"topic":      msg.Message.Topic,
				"streamID":   msg.Message.Key,
				"panic":      fmt.Sprintf("%v", panicMsg),
				"stacktrace": string(stacktrace),
			}).Error(ctx, "message handled with panic")
		})
	}
}

func WithListenerMetrics(metrics metric.Metrics) ListenerOption {
	return func(l *BatchListener) {
		l.OnHandlerResult = append(l.OnHandlerResult, func(_ context.Context, msg *ConsumerMessage, err error) {
			metrics.With(metric.Labels{
				"topic":   msg.Message.Topic,
				"success": err == nil,
			}).Increment("listener_messages_handled_total")
		})
		l.OnSkippedMessage = append(l.OnSkippedMessage, func(_ context.Context, msg *ConsumerMessage) {
			metrics.WithLabel("topic", msg.Message.Topic).Increment("listener_messages_skipped_total")
		})
		l.OnBatchFinalized = append(l.OnBatchFinalized, func(_ context.Context, acks, nacks []*ConsumerMessage, err error) {
			metrics.WithLabel("success", err == nil).Increment("listener_batches_total")
		})
	}
}

func (l *BatchListener) consumerWorker(ctx context.Context) error {
	if err := l.consumer.Init(ctx); err != nil {
		return fmt.Errorf("init consumer: %w", err)
	}
	defer func() {
		_ = l.consumer.Close(context.WithoutCancel(ctx))
	}()

	l.CycleRetry.Reset()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := l.cycle(ctx)
		switch {
		case err == nil:
			l.CycleRetry.Reset()
			continue
		case errors.Is(err, ErrConsumerClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		}

		for _, fn := range l.OnCycleError {
			fn(ctx, err)
		}

		wait := l.CycleRetry.NextBackOff()
		if wait == backoff.Stop {
			return fmt.Errorf("consumer cycle: %w", err)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil
		}
	}
}

// cycle handles a single batch. A cancelled context leaves the batch unfinalized, the broker redelivers it.
func (l *BatchListener) cycle(ctx context.Context) error {
	msgs, err := l.consumer.NextBatch(ctx)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}

	acks, nacks := l.handleBatch(ctx, msgs)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	finalizeCtx := context.WithoutCancel(ctx)
	err = l.consumer.FinalizeBatch(finalizeCtx, acks, nacks)
	for _, fn := range l.OnBatchFinalized {
		fn(finalizeCtx, acks, nacks, err)
	}
	if err != nil {
		return fmt.Errorf("finalize batch: %w", err)
	}

	return nil
}

func (l *BatchListener) handleBatch(ctx context.Context, msgs []*ConsumerMessage) (acks, nacks []*ConsumerMessage) {
	streams := groupByStream(msgs)

	mutex := &sync.Mutex{}
	wg := &sync.WaitGroup{}
	for _, stream := range streams {
		wg.Add(1)
		l.Workers.Do(func() {
			defer wg.Done()

			streamAcks, streamNacks := l.handleStream(ctx, stream)

			mutex.Lock()
			defer mutex.Unlock()
			acks = append(acks, streamAcks...)
			nacks = append(nacks, streamNacks...)
		})
	}
	wg.Wait()

	return acks, nacks
}

// handleStream stops at the first failure of the stream, later messages are nacked without handling.
func (l *BatchListener) handleStream(ctx context.Context, msgs []*ConsumerMessage) (acks, nacks []*ConsumerMessage) {
	for i, msg := range msgs {
		if ctx.Err() != nil {
			return acks, append(nacks, msgs[i:]...)
		}

		msgCtx := ctx
		for _, fn := range l.OnBeforeHandleMessage {
			msgCtx = fn(msgCtx, msg)
		}

		err := l.handle(msgCtx, msg)
		for _, fn := range l.OnHandlerResult {
			fn(msgCtx, msg, err)
		}
		if err == nil {
			acks = append(acks, msg)
			continue
		}

		nacks = append(nacks, msg)
		for _, skipped := range msgs[i+1:] {
			for _, fn := range l.OnSkippedMessage {
				fn(ctx, skipped)
			}
			nacks = append(nacks, skipped)
		}
		return acks, nacks
	}

	return acks, nacks
}

func (l *BatchListener) handle(ctx context.Context, msg *ConsumerMessage) (err error) {
	defer func() {
		panicMsg := recover()
		if panicMsg == nil {
			return
		}

		stacktrace := debug.Stack()
		for _, fn := range l.OnPanic {
			fn(ctx, msg, panicMsg, stacktrace)
		}
		err = fmt.Errorf("message handled with panic: %v", panicMsg)
	}()

	return l.handler(ctx, msg)
}

func groupByStream(msgs []*ConsumerMessage) [][]*ConsumerMessage {
	index := make(map[StreamKey]int)
	streams := make([][]*ConsumerMessage, 0)
	for _, msg := range msgs {
		key := msg.StreamKey()
		i, ok := index[key]
		if !ok {
			i = len(streams)
			index[key] = i
			streams = append(streams, nil)
		}
		streams[i] = append(streams[i], msg)
	}

	for _, stream := range streams {
		sort.SliceStable(stream, func(i, j int) bool {
			return stream[i].Message.Sequence < stream[j].Message.Sequence
		})
	}

	return streams
}
