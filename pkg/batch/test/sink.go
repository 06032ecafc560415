package test

import (
	"context"
	"errors"
	"sync"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
	tx "github.com/tigerroll/batchimport/pkg/batch/core/tx"
	"github.com/tigerroll/batchimport/pkg/batch/support/util/exception"
)

// RecordingSink is a BatchSink that keeps committed batches in memory. Inside a
// transaction a batch becomes visible only when the transaction commits.
type RecordingSink[T any] struct {
	mu        sync.Mutex
	committed [][]T
	calls     int

	// FailOnCall makes the n-th Commit call (1-based) fail with FailWith.
	FailOnCall int
	FailWith   error
	// Block, when set, is received from before each commit returns. Used for timeout tests.
	Block <-chan struct{}
}

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink[T any]() *RecordingSink[T] {
	return &RecordingSink[T]{}
}

// Open implements port.BatchSink.
func (s *RecordingSink[T]) Open(ctx context.Context) error { return nil }

// Close implements port.BatchSink.
func (s *RecordingSink[T]) Close(ctx context.Context) error { return nil }

// Commit implements port.BatchSink.
func (s *RecordingSink[T]) Commit(ctx context.Context, batch port.Batch[T]) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.FailOnCall > 0 && call == s.FailOnCall {
		cause := s.FailWith
		if cause == nil {
			cause = errors.New("simulated constraint violation")
		}
		return &exception.SinkError{FirstPosition: batch.FirstPosition(), LastPosition: batch.LastPosition(), RecordPosition: -1, Cause: cause}
	}

	records := append([]T(nil), batch.Records...)
	apply := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.committed = append(s.committed, records)
	}
	if t, ok := tx.FromContext(ctx); ok {
		t.AfterCommit(apply)
	} else {
		apply()
	}
	return nil
}

// Batches returns the committed batches.
func (s *RecordingSink[T]) Batches() [][]T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]T(nil), s.committed...)
}

// BatchSizes returns the size of each committed batch.
func (s *RecordingSink[T]) BatchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.committed))
	for i, b := range s.committed {
		sizes[i] = len(b)
	}
	return sizes
}

// Records returns all committed records in commit order.
func (s *RecordingSink[T]) Records() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []T
	for _, b := range s.committed {
		all = append(all, b...)
	}
	return all
}

// Calls returns the number of Commit calls, committed or not.
func (s *RecordingSink[T]) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var _ port.BatchSink[int] = (*RecordingSink[int])(nil)
