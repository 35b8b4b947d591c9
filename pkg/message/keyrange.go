package message

import (
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"
)

// KeyHashRangeSize matches the hash space the broker splits between Key_Shared consumers.
const KeyHashRangeSize = 1 << 16

type (
	// KeyHashRange is an inclusive range of stream key hashes.
	KeyHashRange struct {
		Start int
		End   int
	}

	KeyHashRanges []KeyHashRange

	// KeyOwnership holds the hash ranges the consumer owns per topic. A nil ownership or a missing topic
	// means the ownership is unknown and every stream is treated as owned.
	KeyOwnership map[Topic]KeyHashRanges
)

func StreamKeyHash(streamID string) int {
	return int(murmur3.Sum32([]byte(streamID)) % KeyHashRangeSize)
}

func (r KeyHashRange) Contains(hash int) bool {
	return hash >= r.Start && hash <= r.End
}

func (r KeyHashRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

func (r KeyHashRanges) Contains(hash int) bool {
	for _, keyRange := range r {
		if keyRange.Contains(hash) {
			return true
		}
	}

	return false
}

func (r KeyHashRanges) String() string {
	parts := make([]string, 0, len(r))
	for _, keyRange := range r {
		parts = append(parts, keyRange.String())
	}

	return strings.Join(parts, ", ")
}

func (o KeyOwnership) Owns(topic Topic, streamID string) bool {
	ranges, ok := o[topic]
	if !ok {
		return true
	}

	return ranges.Contains(StreamKeyHash(streamID))
}
