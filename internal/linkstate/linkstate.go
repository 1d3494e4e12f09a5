// Package linkstate tracks which physical links the controller
// currently considers unusable. Routing skips these links when picking
// proxy cells, and a link coming back up clears its mark before the
// affected routes are rebuilt.
package linkstate

import (
	"slices"
	"sync"
)

// Link is an unordered switch pair, held with the lower dpid first so
// both directions of a report land on the same key.
type Link struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// LinkBetween returns the canonical link between two switches.
func LinkBetween(a, b int) Link {
	if a > b {
		a, b = b, a
	}
	return Link{Low: a, High: b}
}

// Compare orders links by low then high dpid.
func (l Link) Compare(m Link) int {
	if l.Low != m.Low {
		return l.Low - m.Low
	}
	return l.High - m.High
}

// Set is the set of links marked down.
type Set struct {
	mu  sync.RWMutex
	bad map[Link]struct{}
}

func New() *Set {
	return &Set{bad: make(map[Link]struct{})}
}

// MarkDown records the link between a and b as unusable. It reports
// whether the mark is new.
func (s *Set) MarkDown(a, b int) bool {
	link := LinkBetween(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bad[link]; ok {
		return false
	}
	s.bad[link] = struct{}{}
	return true
}

// MarkUp clears the mark on the link between a and b. It reports
// whether the link had been marked down.
func (s *Set) MarkUp(a, b int) bool {
	link := LinkBetween(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bad[link]; !ok {
		return false
	}
	delete(s.bad, link)
	return true
}

// IsBad reports whether the link between a and b is marked down.
func (s *Set) IsBad(a, b int) bool {
	link := LinkBetween(a, b)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bad[link]
	return ok
}

// Bad returns the links currently marked down, sorted.
func (s *Set) Bad() []Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links := make([]Link, 0, len(s.bad))
	for link := range s.bad {
		links = append(links, link)
	}
	slices.SortFunc(links, Link.Compare)
	return links
}

// Len reports how many links are marked down.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bad)
}
