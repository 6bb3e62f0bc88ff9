package dashboard

import (
	"sync"

	"listing_feed/internal/domain"
)

// LoadState tracks the snapshot load of a Store.
type LoadState int

const (
	StateIdle LoadState = iota
	StateLoading
	StateLoaded
	StateFailed
)

func (s LoadState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed to load"
	}
	return "idle"
}

// MergeResult counts what a snapshot merge changed.
type MergeResult struct {
	Added    int
	Replaced int
}

// Store is the client's ordered collection of listings keyed by listing ID.
// It holds at most one entry per ID. All methods are safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	order   []string
	items   map[string]domain.Listing
	state   LoadState
	loadErr error
	subs    map[chan struct{}]struct{}
}

func NewStore() *Store {
	return &Store{
		items: make(map[string]domain.Listing),
		subs:  make(map[chan struct{}]struct{}),
	}
}

// Merge applies a snapshot. Entries the snapshot does not contain keep
// their current order and come first, followed by the snapshot in server
// order. Snapshot data replaces existing entries with the same ID, so the
// final collection does not depend on whether the snapshot or a streamed
// insert arrived first.
func (s *Store) Merge(snapshot []domain.Listing) MergeResult {
	return s.MergeKeepingStatus(snapshot, nil)
}

// MergeKeepingStatus is Merge, except that existing entries for which
// keepStatus returns true keep their current status. keepStatus is called
// with the store locked and must not call back into the Store.
func (s *Store) MergeKeepingStatus(snapshot []domain.Listing, keepStatus func(id string) bool) MergeResult {
	s.mu.Lock()

	incoming := make(map[string]struct{}, len(snapshot))
	snapshotOrder := make([]string, 0, len(snapshot))
	var res MergeResult
	for _, l := range snapshot {
		if l.ID == "" {
			continue
		}
		if _, dup := incoming[l.ID]; dup {
			continue
		}
		incoming[l.ID] = struct{}{}
		snapshotOrder = append(snapshotOrder, l.ID)
		if existing, ok := s.items[l.ID]; ok {
			res.Replaced++
			if keepStatus != nil && keepStatus(l.ID) {
				l.Status = existing.Status
			}
		} else {
			res.Added++
		}
		s.items[l.ID] = l
	}

	order := make([]string, 0, len(s.order)+len(snapshotOrder))
	for _, id := range s.order {
		if _, ok := incoming[id]; !ok {
			order = append(order, id)
		}
	}
	s.order = append(order, snapshotOrder...)
	s.state = StateLoaded
	s.loadErr = nil

	s.mu.Unlock()
	s.notify()
	return res
}

// AddIfAbsent prepends l unless an entry with the same ID exists.
func (s *Store) AddIfAbsent(l domain.Listing) bool {
	if l.ID == "" {
		return false
	}

	s.mu.Lock()
	if _, ok := s.items[l.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.items[l.ID] = l
	s.order = append([]string{l.ID}, s.order...)
	s.mu.Unlock()

	s.notify()
	return true
}

// UpdateStatus sets the status of an existing entry and returns the
// previous one.
func (s *Store) UpdateStatus(id string, status domain.Status) (domain.Status, bool) {
	s.mu.Lock()
	l, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return "", false
	}
	prev := l.Status
	l.Status = status
	s.items[id] = l
	s.mu.Unlock()

	s.notify()
	return prev, true
}

// List returns a copy of the collection in display order.
func (s *Store) List() []domain.Listing {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Listing, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

func (s *Store) Get(id string) (domain.Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.items[id]
	return l, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Store) SetLoading() {
	s.setState(StateLoading, nil)
}

// SetFailed records a snapshot failure. Entries already present are kept.
func (s *Store) SetFailed(err error) {
	s.setState(StateFailed, err)
}

func (s *Store) State() (LoadState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.loadErr
}

func (s *Store) setState(state LoadState, err error) {
	s.mu.Lock()
	s.state = state
	s.loadErr = err
	s.mu.Unlock()
	s.notify()
}

// Subscribe returns a channel that receives a value after every change.
// Notifications coalesce; a slow reader sees one pending signal.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
	}
}

func (s *Store) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
