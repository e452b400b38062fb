package claim

import "sync"

// ProcessingSet tracks link texts currently claimed and in flight by this
// instance. It prevents the same process from double-claiming a link while
// an async claim check is outstanding. Entries must be removed when the
// task reaches any terminal state; release is the scheduler's guaranteed
// cleanup path.
type ProcessingSet struct {
	mu    sync.Mutex
	links map[string]struct{}
}

// NewProcessingSet creates an empty set.
func NewProcessingSet() *ProcessingSet {
	return &ProcessingSet{links: make(map[string]struct{})}
}

// Add inserts a link text. Returns false if it was already present.
func (s *ProcessingSet) Add(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.links[link]; exists {
		return false
	}
	s.links[link] = struct{}{}
	return true
}

// Remove deletes a link text. Removing an absent link is a no-op, so release
// paths can run unconditionally.
func (s *ProcessingSet) Remove(link string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, link)
}

// Contains reports whether a link text is currently in flight.
func (s *ProcessingSet) Contains(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.links[link]
	return exists
}

// Len returns the number of in-flight links.
func (s *ProcessingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}
