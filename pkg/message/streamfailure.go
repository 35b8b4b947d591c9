package message

import (
	"fmt"
	"strings"
	"time"
)

// streamKeySeparator never appears in broker topic names.
const streamKeySeparator = "#"

type (
	StreamKey struct {
		Topic    Topic
		StreamID string
	}

	// StreamFailure is the persisted state of a stream which is not flowing normally. A stream with no record
	// is healthy.
	//
	// NextRetry set means the stream is failed and must not be retried before that time. NextRetry nil means the
	// last retry succeeded and the stream is recovering: messages after LastSequenceID are being replayed.
	StreamFailure struct {
		Topic    Topic
		StreamID string
		// LastSequenceID is the sequence of the last message observed for the stream by either consuming path
		LastSequenceID int64
		// LastMessageTime is the publish time of that message, catch-up reads seek to it
		LastMessageTime time.Time
		TimesRetried    int
		NextRetry       *time.Time
		// IsUpToDate is set once the replay reached the end of the topic, the primary path relays the stream again
		IsUpToDate bool
		// IsResolved records are invisible and may be compacted away
		IsResolved bool
	}
)

func (k StreamKey) String() string {
	return string(k.Topic) + streamKeySeparator + k.StreamID
}

func ParseStreamKey(str string) (StreamKey, error) {
	topic, streamID, ok := strings.Cut(str, streamKeySeparator)
	if !ok || topic == "" {
		return StreamKey{}, fmt.Errorf("invalid stream key %q", str)
	}

	return StreamKey{
		Topic:    Topic(topic),
		StreamID: streamID,
	}, nil
}

func (f *StreamFailure) Key() StreamKey {
	return StreamKey{
		Topic:    f.Topic,
		StreamID: f.StreamID,
	}
}

func (f *StreamFailure) IsFailed() bool {
	return f.NextRetry != nil
}

func (f *StreamFailure) IsDue(now time.Time) bool {
	return f.NextRetry == nil || !now.Before(*f.NextRetry)
}

// IsEligibleForRetry tells whether a message read back by a catch-up reader must be handed to the application.
// A failed stream restarts from the failed message itself, a recovering stream continues after it.
func (f *StreamFailure) IsEligibleForRetry(msg *ConsumerMessage, now time.Time) bool {
	if msg.StreamKey() != f.Key() {
		return false
	}

	if f.IsFailed() {
		return msg.Message.Sequence >= f.LastSequenceID && !now.Before(*f.NextRetry)
	}

	return msg.Message.Sequence > f.LastSequenceID
}

// IsEligibleForRelay tells whether the primary consumer may relay a message of the tracked stream.
func (f *StreamFailure) IsEligibleForRelay(msg *ConsumerMessage) bool {
	return f.IsUpToDate && msg.Message.Sequence > f.LastSequenceID
}

// IsReplayed tells whether the message was already handled by the catch-up path.
func (f *StreamFailure) IsReplayed(msg *ConsumerMessage) bool {
	return f.IsUpToDate && msg.Message.Sequence <= f.LastSequenceID
}
