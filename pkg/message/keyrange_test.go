package message_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/potatman/EventHorizon-sub000/pkg/message"
)

func TestStreamKeyHash_WithinHashRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		streamID := fmt.Sprintf("stream-%d", i)
		hash := message.StreamKeyHash(streamID)

		assert.GreaterOrEqual(t, hash, 0)
		assert.Less(t, hash, message.KeyHashRangeSize)
		assert.Equal(t, hash, message.StreamKeyHash(streamID))
	}

	assert.Equal(t, 0, message.StreamKeyHash(""))
}

func TestKeyOwnership_Owns(t *testing.T) {
	const (
		owned   message.Topic = "persistent://public/default/owned"
		unknown message.Topic = "persistent://public/default/unknown"
	)
	streamID := "order-42"
	hash := message.StreamKeyHash(streamID)

	tests := []struct {
		name      string
		ownership message.KeyOwnership
		topic     message.Topic
		expected  bool
	}{
		{
			name:     "nil_ownership_owns_everything",
			topic:    owned,
			expected: true,
		},
		{
			name:      "missing_topic_is_owned",
			ownership: message.KeyOwnership{owned: {{Start: 0, End: 0}}},
			topic:     unknown,
			expected:  true,
		},
		{
			name:      "hash_in_range",
			ownership: message.KeyOwnership{owned: {{Start: 0, End: 0}, {Start: hash, End: hash}}},
			topic:     owned,
			expected:  true,
		},
		{
			name:      "hash_out_of_range",
			ownership: message.KeyOwnership{owned: {{Start: hash + 1, End: hash + 1}}},
			topic:     owned,
			expected:  false,
		},
		{
			name:      "empty_ranges_own_nothing",
			ownership: message.KeyOwnership{owned: {}},
			topic:     owned,
			expected:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.ownership.Owns(tt.topic, streamID))
		})
	}
}

func TestKeyHashRanges_String(t *testing.T) {
	ranges := message.KeyHashRanges{{Start: 0, End: 16383}, {Start: 32768, End: 49151}}
	assert.Equal(t, "[0, 16383], [32768, 49151]", ranges.String())
}
