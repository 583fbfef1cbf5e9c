package progression

import "sync"

// Store holds one learner's State for the lifetime of a session. It is safe
// for concurrent use.
type Store struct {
	mu    sync.RWMutex
	state State
}

// NewStore returns a Store seeded with a copy of initial.
func NewStore(initial State) *Store {
	return &Store{state: initial.Clone()}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Reward applies ApplyMessageReward atomically and returns the new state.
func (s *Store) Reward(personaID, topicID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = ApplyMessageReward(s.state, personaID, topicID)
	return s.state.Clone()
}

// Level returns the current derived level.
func (s *Store) Level() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Level()
}

// RelationshipLevel returns the floored relationship with personaID.
func (s *Store) RelationshipLevel(personaID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RelationshipLevel(personaID)
}

// MasteryPercent returns the mastery of topicID.
func (s *Store) MasteryPercent(topicID string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.MasteryPercent(topicID)
}

// IsMaster reports whether topicID has reached full mastery.
func (s *Store) IsMaster(topicID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsMaster(topicID)
}
