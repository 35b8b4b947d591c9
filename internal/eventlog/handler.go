// Package eventlog is the application side of the worker: it logs every event and keeps per stream counters.
package eventlog

import (
	"context"
	"errors"
	"sync"

	"github.com/potatman/EventHorizon-sub000/pkg/log"
	"github.com/potatman/EventHorizon-sub000/pkg/message"
	"github.com/potatman/EventHorizon-sub000/pkg/metric"
)

var ErrStreamFailing = errors.New("stream is configured to fail")

type (
	StreamStats struct {
		Handled      int
		LastSequence int64
		// Regressions counts events that arrived with a sequence not above the last handled one
		Regressions int
	}

	Handler struct {
		logger  log.Logger
		metrics metric.Metrics
		failing map[string]struct{}

		mutex   *sync.Mutex
		streams map[message.StreamKey]*StreamStats
	}

	Option func(*Handler)
)

func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		logger:  log.New(log.LevelDisabled),
		metrics: metric.NewMetricsStub(),
		failing: make(map[string]struct{}),
		mutex:   &sync.Mutex{},
		streams: make(map[message.StreamKey]*StreamStats),
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

func WithLogger(logger log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithMetrics(metrics metric.Metrics) Option {
	return func(h *Handler) {
		h.metrics = metrics
	}
}

// WithFailingStreams makes every event of the streams fail, useful to watch streams being suspended.
func WithFailingStreams(streamIDs ...string) Option {
	return func(h *Handler) {
		for _, streamID := range streamIDs {
			h.failing[streamID] = struct{}{}
		}
	}
}

func (h *Handler) Handle(ctx context.Context, msg *message.ConsumerMessage) error {
	logger := h.logger.With(log.Fields{
		"topic":     msg.Message.Topic,
		"streamID":  msg.Message.Key,
		"sequence":  msg.Message.Sequence,
		"messageID": msg.Message.ID,
	})
	metrics := h.metrics.WithLabel("topic", msg.Message.Topic)

	if _, ok := h.failing[msg.Message.Key]; ok {
		metrics.Increment("eventlog_events_failed_total")
		logger.Warn(ctx, "event rejected")
		return ErrStreamFailing
	}

	h.mutex.Lock()
	stats, ok := h.streams[msg.StreamKey()]
	if !ok {
		stats = &StreamStats{}
		h.streams[msg.StreamKey()] = stats
	}
	regressed := stats.Handled > 0 && msg.Message.Sequence <= stats.LastSequence
	if regressed {
		stats.Regressions++
	} else {
		stats.LastSequence = msg.Message.Sequence
	}
	stats.Handled++
	h.mutex.Unlock()

	metrics.Increment("eventlog_events_handled_total")
	if regressed {
		metrics.Increment("eventlog_sequence_regressions_total")
		logger.Warn(ctx, "event sequence is not above the last handled one")
		return nil
	}

	logger.Info(ctx, "event handled")
	return nil
}

func (h *Handler) Stats(key message.StreamKey) (StreamStats, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	stats, ok := h.streams[key]
	if !ok {
		return StreamStats{}, false
	}
	return *stats, true
}
