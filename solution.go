package cruncher

import (
	"sort"
	"sync"
)

// RefutedSet is the shared pool of refuted annotation ids. Engines union
// candidate ids in as they falsify them; ids are never removed, so a
// snapshot taken at any point stays valid for the rest of the run.
type RefutedSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewRefutedSet returns an empty set.
func NewRefutedSet() *RefutedSet {
	return &RefutedSet{ids: make(map[string]struct{})}
}

// Add unions an annotation id into the set. Returns true if the id was not
// already present.
func (s *RefutedSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Contains reports whether an annotation id has been refuted.
func (s *RefutedSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of refuted ids.
func (s *RefutedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Snapshot returns the refuted ids sorted by name.
func (s *RefutedSet) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Assignment is the final truth assignment over annotation ids: true means
// the candidate annotation was retained, false means it was refuted.
type Assignment map[string]bool

// NewAssignment builds the assignment for a candidate universe given the
// refuted ids.
func NewAssignment(candidates []string, refuted *RefutedSet) Assignment {
	a := make(Assignment, len(candidates))
	for _, id := range candidates {
		a[id] = !refuted.Contains(id)
	}
	return a
}

// Retained returns the retained annotation ids sorted by name.
func (a Assignment) Retained() []string {
	ids := make([]string, 0, len(a))
	for id, kept := range a {
		if kept {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
