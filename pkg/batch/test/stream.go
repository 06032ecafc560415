package test

import (
	"context"
	"fmt"
	"sync"

	port "github.com/tigerroll/batchimport/pkg/batch/core/application/port"
)

// GeneratedStream is a RecordStream of n records produced by gen(position).
// It records which positions were handed out, so restart tests can assert that
// committed records are not read again.
type GeneratedStream[T any] struct {
	mu       sync.Mutex
	n        int64
	gen      func(position int64) T
	pos      int64
	opened   bool
	closed   bool
	readFrom []int64 // first position read after each Open/Seek
	reads    int64

	// FailAt makes Next fail when it would return this position (0 disables).
	FailAt int64
	// CrashAfter makes Next fail once this many records were returned since Open (0 disables).
	CrashAfter int64
}

// NewGeneratedStream creates a stream of n records.
func NewGeneratedStream[T any](n int64, gen func(position int64) T) *GeneratedStream[T] {
	return &GeneratedStream[T]{n: n, gen: gen}
}

// NewSliceStream creates a stream over records.
func NewSliceStream[T any](records []T) *GeneratedStream[T] {
	return NewGeneratedStream(int64(len(records)), func(position int64) T { return records[position-1] })
}

// Open implements port.RecordStream.
func (s *GeneratedStream[T]) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened, s.closed, s.pos, s.reads = true, false, 0, 0
	return nil
}

// Next implements port.RecordStream.
func (s *GeneratedStream[T]) Next(ctx context.Context) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.opened {
		return zero, fmt.Errorf("stream not open")
	}
	if s.pos >= s.n {
		return zero, port.ErrEndOfStream
	}
	if s.FailAt > 0 && s.pos+1 == s.FailAt {
		return zero, fmt.Errorf("simulated read failure at position %d", s.FailAt)
	}
	if s.CrashAfter > 0 && s.reads >= s.CrashAfter {
		return zero, fmt.Errorf("simulated crash after %d records", s.CrashAfter)
	}
	s.pos++
	s.reads++
	if s.reads == 1 {
		s.readFrom = append(s.readFrom, s.pos)
	}
	return s.gen(s.pos), nil
}

// CurrentPosition implements port.RecordStream.
func (s *GeneratedStream[T]) CurrentPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Seek implements port.RecordStream.
func (s *GeneratedStream[T]) Seek(ctx context.Context, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position < 0 || position > s.n {
		return fmt.Errorf("position %d out of range [0..%d]", position, s.n)
	}
	s.pos = position
	s.reads = 0
	return nil
}

// Close implements port.RecordStream.
func (s *GeneratedStream[T]) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened, s.closed = false, true
	return nil
}

// Closed reports whether Close was called after the last Open.
func (s *GeneratedStream[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// FirstReadPositions returns the first position read after each Open or Seek.
func (s *GeneratedStream[T]) FirstReadPositions() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.readFrom...)
}

var _ port.RecordStream[int] = (*GeneratedStream[int])(nil)
