package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tjfontaine/envelope-gateway/internal/storage"
)

// DefaultCapacity bounds the records kept by New.
const DefaultCapacity = 1000

// Store is an in-memory AccessRecordStore. It keeps the most recent records
// up to its capacity and drops the oldest.
type Store struct {
	mu       sync.RWMutex
	records  []*storage.AccessRecord
	next     int
	full     bool
	closed   bool
	capacity int
}

var _ storage.AccessRecordStore = (*Store)(nil)

// New creates a store holding up to DefaultCapacity records.
func New() *Store {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a store holding up to capacity records.
func NewWithCapacity(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		records:  make([]*storage.AccessRecord, capacity),
		capacity: capacity,
	}
}

func (s *Store) Record(ctx context.Context, rec *storage.AccessRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	stored := *rec
	s.records[s.next] = &stored
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]*storage.AccessRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	count := s.next
	if s.full {
		count = s.capacity
	}

	result := make([]*storage.AccessRecord, 0, min(limit, count))
	// Walk backwards from the most recent slot.
	for i := 0; i < count && len(result) < limit; i++ {
		idx := (s.next - 1 - i + s.capacity) % s.capacity
		rec := s.records[idx]
		if opts.RouteID != "" && rec.RouteID != opts.RouteID {
			continue
		}
		out := *rec
		result = append(result, &out)
	}
	return result, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
