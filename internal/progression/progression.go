// Package progression holds a learner's XP, per-persona relationship and
// per-topic mastery, and the pure transitions that evolve them.
//
// Every operation on State is a pure function: it returns a new State and
// never mutates its input. Store wraps one State for a session and applies
// transitions under a lock so readers observe a reward completely or not at
// all.
package progression

import (
	"maps"
	"math"
)

// Progression constants.
const (
	XPPerLevel       = 150
	MessageXP        = 25
	RelationshipStep = 0.1
	RelationshipCap  = 10.0
	MasteryStep      = 5.0
	MasteryCap       = 100.0
)

// State is a learner's progression.
type State struct {
	TotalXP int

	// Streak is carried for display; no transition updates it.
	Streak int

	// Relationships maps persona id to a value in [0, RelationshipCap]. The
	// fractional part accumulates; consumers use the floor.
	Relationships map[string]float64

	// Mastery maps topic id to a percentage in [0, MasteryCap].
	Mastery map[string]float64
}

// Initial returns the state a new learner starts with.
func Initial() State {
	return State{
		TotalXP:       120,
		Streak:        3,
		Relationships: map[string]float64{"chloe": 1},
		Mastery:       map[string]float64{},
	}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Relationships = maps.Clone(s.Relationships)
	out.Mastery = maps.Clone(s.Mastery)
	if out.Relationships == nil {
		out.Relationships = map[string]float64{}
	}
	if out.Mastery == nil {
		out.Mastery = map[string]float64{}
	}
	return out
}

// Level returns the 1-based level for totalXP. Level N spans
// [(N-1)*XPPerLevel, N*XPPerLevel). Negative input is treated as zero.
func Level(totalXP int) int {
	if totalXP < 0 {
		totalXP = 0
	}
	return totalXP/XPPerLevel + 1
}

// LevelProgressPercent returns how far totalXP is through its level, in
// [0, 100).
func LevelProgressPercent(totalXP int) float64 {
	if totalXP < 0 {
		totalXP = 0
	}
	return float64(totalXP%XPPerLevel) / XPPerLevel * 100
}

// ApplyMessageReward returns s after one user chat message to personaID about
// topicID: +MessageXP, relationship +RelationshipStep and mastery
// +MasteryStep, both clamped to their caps. Empty ids skip the matching map.
func ApplyMessageReward(s State, personaID, topicID string) State {
	next := s.Clone()
	next.TotalXP += MessageXP
	if personaID != "" {
		next.Relationships[personaID] = min(quantize(next.Relationships[personaID]+RelationshipStep), RelationshipCap)
	}
	if topicID != "" {
		next.Mastery[topicID] = min(next.Mastery[topicID]+MasteryStep, MasteryCap)
	}
	return next
}

// Level returns the derived level of s.
func (s State) Level() int { return Level(s.TotalXP) }

// LevelProgressPercent returns the derived progress of s through its level.
func (s State) LevelProgressPercent() float64 { return LevelProgressPercent(s.TotalXP) }

// Relationship returns the raw relationship value for personaID.
func (s State) Relationship(personaID string) float64 { return s.Relationships[personaID] }

// RelationshipLevel returns the floor of the relationship with personaID.
// This is the value prompts and displays use.
func (s State) RelationshipLevel(personaID string) int {
	return int(s.Relationships[personaID])
}

// MasteryPercent returns the mastery of topicID.
func (s State) MasteryPercent(topicID string) float64 { return s.Mastery[topicID] }

// IsMaster reports whether topicID has reached full mastery.
func (s State) IsMaster(topicID string) bool { return s.Mastery[topicID] >= MasteryCap }

// quantize drops binary rounding drift so ten RelationshipStep increments
// land exactly on the next whole level.
func quantize(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
