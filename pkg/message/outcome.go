package message

const (
	OutcomeAcked BatchOutcome = iota
	OutcomeNacked
)

type (
	BatchOutcome int

	MessageOutcome struct {
		Message *ConsumerMessage
		Outcome BatchOutcome
	}

	// StreamOutcomes keeps outcomes of a single stream in the order they were reported.
	StreamOutcomes struct {
		Key      StreamKey
		Outcomes []MessageOutcome
	}
)

// GroupOutcomesByStream resolves the outcome of every message once and groups them by stream,
// the groups follow the order of first appearance.
func GroupOutcomesByStream(acks, nacks []*ConsumerMessage) []*StreamOutcomes {
	groups := make([]*StreamOutcomes, 0)
	index := make(map[StreamKey]*StreamOutcomes)

	add := func(msg *ConsumerMessage, outcome BatchOutcome) {
		key := msg.StreamKey()
		group, ok := index[key]
		if !ok {
			group = &StreamOutcomes{Key: key}
			index[key] = group
			groups = append(groups, group)
		}

		group.Outcomes = append(group.Outcomes, MessageOutcome{Message: msg, Outcome: outcome})
	}

	for _, msg := range acks {
		add(msg, OutcomeAcked)
	}
	for _, msg := range nacks {
		add(msg, OutcomeNacked)
	}

	return groups
}

// EarliestNacked returns the nacked message with the lowest sequence or nil.
func (s *StreamOutcomes) EarliestNacked() *ConsumerMessage {
	var result *ConsumerMessage
	for _, outcome := range s.Outcomes {
		if outcome.Outcome != OutcomeNacked {
			continue
		}
		if result == nil || outcome.Message.Message.Sequence < result.Message.Sequence {
			result = outcome.Message
		}
	}

	return result
}

// LatestAcked returns the acked message with the highest sequence or nil.
func (s *StreamOutcomes) LatestAcked() *ConsumerMessage {
	var result *ConsumerMessage
	for _, outcome := range s.Outcomes {
		if outcome.Outcome != OutcomeAcked {
			continue
		}
		if result == nil || outcome.Message.Message.Sequence > result.Message.Sequence {
			result = outcome.Message
		}
	}

	return result
}
