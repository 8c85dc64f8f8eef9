// Package order tracks per-call business state: the order lifecycle
// stage and the fitting-booked flag. Tool handlers advance the state
// as a side effect of successful store calls; the orchestrator only
// reads it to decide which tools the model may see.
package order

import (
	"fmt"
	"sync"
)

// Stage is the order lifecycle position within one call.
type Stage int

const (
	// StageNone means no order has been started.
	StageNone Stage = iota
	// StageDraft means a draft order exists but has no delivery details.
	StageDraft
	// StageDeliverySet means delivery details are recorded; the order
	// can now be confirmed.
	StageDeliverySet
	// StageConfirmed means the order is final. No further order
	// mutation tools apply.
	StageConfirmed
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageDraft:
		return "draft"
	case StageDeliverySet:
		return "delivery_set"
	case StageConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// ParseStage converts a stage name back to a Stage. Used when
// restoring call state from the archive.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "none", "":
		return StageNone, nil
	case "draft":
		return StageDraft, nil
	case "delivery_set":
		return StageDeliverySet, nil
	case "confirmed":
		return StageConfirmed, nil
	default:
		return StageNone, fmt.Errorf("unknown order stage %q", s)
	}
}

// State is the mutable business state of one call. Safe for concurrent
// use: handlers may run in parallel within a tool round.
type State struct {
	mu            sync.Mutex
	stage         Stage
	fittingBooked bool
}

// NewState returns the initial state for a fresh call.
func NewState() *State {
	return &State{}
}

// Stage returns the current order stage.
func (s *State) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// SetStage records a stage transition reported by a tool side effect.
func (s *State) SetStage(st Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = st
}

// FittingBooked reports whether a fitting appointment exists.
func (s *State) FittingBooked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fittingBooked
}

// MarkFittingBooked sets the fitting flag. The transition is monotonic:
// once booked, the flag never resets within a call.
func (s *State) MarkFittingBooked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fittingBooked = true
}

// Snapshot returns a consistent view of both fields for tool-visibility
// filtering at the start of a round.
func (s *State) Snapshot() (Stage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage, s.fittingBooked
}
