package message

import (
	"context"
	"sort"
	"sync"
)

// InMemoryFailureStore keeps records of a single process, it suits tests and single instance deployments.
type InMemoryFailureStore struct {
	mutex   *sync.RWMutex
	records map[StreamKey]StreamFailure
}

func NewInMemoryFailureStore() *InMemoryFailureStore {
	return &InMemoryFailureStore{
		mutex:   &sync.RWMutex{},
		records: make(map[StreamKey]StreamFailure),
	}
}

func (s *InMemoryFailureStore) Init(context.Context) error {
	return nil
}

func (s *InMemoryFailureStore) Publish(_ context.Context, failures ...StreamFailure) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, failure := range failures {
		s.records[failure.Key()] = failure
	}

	return nil
}

func (s *InMemoryFailureStore) Find(_ context.Context, key StreamKey) (*StreamFailure, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	failure, ok := s.records[key]
	if !ok || failure.IsResolved {
		return nil, nil
	}

	return &failure, nil
}

func (s *InMemoryFailureStore) FindMany(_ context.Context, keys []StreamKey) ([]StreamFailure, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]StreamFailure, 0)
	for _, key := range keys {
		failure, ok := s.records[key]
		if !ok || failure.IsResolved {
			continue
		}

		result = append(result, failure)
	}

	return result, nil
}

func (s *InMemoryFailureStore) Scan(_ context.Context, spec *FailureScanSpecification) ([]StreamFailure, int, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return ScanFailures(s.records, spec), CountOwnedFailures(s.records, spec), nil
}

func (s *InMemoryFailureStore) Close() error {
	return nil
}

// ScanFailures filters materialized records by spec, oldest failures first.
func ScanFailures[M ~map[K]StreamFailure, K comparable](records M, spec *FailureScanSpecification) []StreamFailure {
	result := make([]StreamFailure, 0)
	for _, failure := range records {
		if spec.Matches(&failure) {
			result = append(result, failure)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastMessageTime.Equal(result[j].LastMessageTime) {
			return result[i].LastMessageTime.Before(result[j].LastMessageTime)
		}
		return result[i].Key().String() < result[j].Key().String()
	})
	if spec.Limit > 0 && len(result) > spec.Limit {
		result = result[:spec.Limit]
	}

	return result
}

// CountOwnedFailures counts unresolved records within the owned ranges of spec.
func CountOwnedFailures[M ~map[K]StreamFailure, K comparable](records M, spec *FailureScanSpecification) int {
	var count int
	for _, failure := range records {
		if spec.IsOwned(&failure) {
			count++
		}
	}

	return count
}
