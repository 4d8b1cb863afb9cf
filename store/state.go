package store

import "sync"

// State is the per-event-lifetime bag the store threads across paired hook
// invocations. The slots carry the update-many hand-off: the before hook has
// access to the intended filter (and can still observe the pre-write rows),
// the after hook does not. The slots are typed rather than a free-form map
// so the hand-off cannot be clobbered by unrelated hook code.
type State struct {
	mu            sync.Mutex
	updateFilters map[string]any
	hasFilters    bool
	updateTargets []string
	hasTargets    bool
}

// NewState creates an empty per-event bag.
func NewState() *State {
	return &State{}
}

// SetUpdateFilters records the filter observed by a beforeUpdateMany hook.
func (s *State) SetUpdateFilters(filters map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateFilters = filters
	s.hasFilters = true
}

// UpdateFilters returns the filter captured by the paired before hook,
// false when no before hook ran for this event.
func (s *State) UpdateFilters() (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateFilters, s.hasFilters
}

// SetUpdateTargets records the document ids observed to match the filter
// before the write ran. Updating a filtered field would otherwise make the
// post-commit read-back miss the affected rows.
func (s *State) SetUpdateTargets(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateTargets = ids
	s.hasTargets = true
}

// UpdateTargets returns the pre-write document ids, false when the before
// hook could not snapshot them.
func (s *State) UpdateTargets() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTargets, s.hasTargets
}
