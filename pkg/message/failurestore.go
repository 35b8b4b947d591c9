//go:generate ${TOOLS_BIN}/mockgen -source ${GOFILE} -destination mock/${GOFILE} -package mock -mock_names "FailureStateStore=FailureStateStore"
package message

import (
	"context"
	"time"
)

type (
	// FailureStateStore is the durable last-write-wins table of stream failure records of a subscription.
	// Find, FindMany and Scan never return resolved records.
	FailureStateStore interface {
		Init(ctx context.Context) error
		// Publish may complete asynchronously, a lost write costs one extra retry cycle.
		Publish(ctx context.Context, failures ...StreamFailure) error
		Find(ctx context.Context, key StreamKey) (*StreamFailure, error)
		FindMany(ctx context.Context, keys []StreamKey) ([]StreamFailure, error)
		// Scan returns up to spec.Limit matching records and the count of all unresolved records within the
		// owned ranges regardless of the other filters.
		Scan(ctx context.Context, spec *FailureScanSpecification) (_ []StreamFailure, totalOwned int, _ error)
		Close() error
	}

	FailureScanSpecification struct {
		Ownership KeyOwnership
		// DueAt excludes failed records whose NextRetry is after it, zero value disables the filter
		DueAt           time.Time
		ExcludeUpToDate bool
		Limit           int
	}
)

func (s *FailureScanSpecification) IsOwned(f *StreamFailure) bool {
	return !f.IsResolved && s.Ownership.Owns(f.Topic, f.StreamID)
}

func (s *FailureScanSpecification) Matches(f *StreamFailure) bool {
	if !s.IsOwned(f) {
		return false
	}
	if s.ExcludeUpToDate && f.IsUpToDate {
		return false
	}
	if !s.DueAt.IsZero() && !f.IsDue(s.DueAt) {
		return false
	}

	return true
}
