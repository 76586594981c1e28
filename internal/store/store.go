package store

import (
	"time"

	"callboard/pkg/models"
)

const (
	// DefaultCapacity is the window kept by the push-channel board.
	DefaultCapacity = 50
	// PollingCapacity is the window kept by the polling-only board.
	PollingCapacity = 10
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store is the bounded, insertion-ordered announcement log. Records are kept
// newest-first; inserting past capacity evicts the oldest.
//
// A Store is not safe for concurrent use. The hub loop that owns it is the
// only caller.
type Store struct {
	capacity int
	items    []models.Announcement
	lastID   int64
	now      func() time.Time
}

// New creates a store holding at most capacity announcements. Non-positive
// capacities fall back to DefaultCapacity.
func New(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		capacity: capacity,
		items:    make([]models.Announcement, 0, capacity),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now reads the store's clock.
func (s *Store) Now() time.Time { return s.now() }

// Capacity returns the configured window size.
func (s *Store) Capacity() int { return s.capacity }

// Len returns the number of announcements currently held.
func (s *Store) Len() int { return len(s.items) }

// Insert records p under the next id and returns the new announcement.
func (s *Store) Insert(p models.Payload) models.Announcement {
	s.lastID++
	a := models.Announcement{
		ID:         s.lastID,
		Payload:    p,
		ReceivedAt: s.now().UTC(),
		Processed:  false,
	}

	if len(s.items) < s.capacity {
		s.items = append(s.items, models.Announcement{})
	}
	// shift right by one, dropping the oldest when full
	copy(s.items[1:], s.items[:len(s.items)-1])
	s.items[0] = a
	return a
}

// ListAll returns the whole window, newest-first.
func (s *Store) ListAll() []models.Announcement {
	out := make([]models.Announcement, len(s.items))
	copy(out, s.items)
	return out
}

// ListUnprocessed returns announcements not yet marked processed, newest-first.
func (s *Store) ListUnprocessed() []models.Announcement {
	out := make([]models.Announcement, 0, len(s.items))
	for _, a := range s.items {
		if !a.Processed {
			out = append(out, a)
		}
	}
	return out
}

// Get looks an announcement up by id.
func (s *Store) Get(id int64) (models.Announcement, bool) {
	for _, a := range s.items {
		if a.ID == id {
			return a, true
		}
	}
	return models.Announcement{}, false
}

// Latest returns the most recent announcement, if any.
func (s *Store) Latest() (models.Announcement, bool) {
	if len(s.items) == 0 {
		return models.Announcement{}, false
	}
	return s.items[0], true
}

// MarkProcessed flags id as processed. It reports whether id is in the
// window; marking an already processed announcement is not an error.
func (s *Store) MarkProcessed(id int64) bool {
	_, found := s.markProcessed(id)
	return found
}

// MarkProcessedChanged is MarkProcessed that also reports whether this call
// flipped the flag.
func (s *Store) MarkProcessedChanged(id int64) (changed, found bool) {
	return s.markProcessed(id)
}

func (s *Store) markProcessed(id int64) (changed, found bool) {
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		if s.items[i].Processed {
			return false, true
		}
		s.items[i].Processed = true
		return true, true
	}
	return false, false
}
