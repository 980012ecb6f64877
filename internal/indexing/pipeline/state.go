package pipeline

import (
	"errors"
	"slices"
	"time"
)

// State is the position of a source's run in the pipeline.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateFiltering  State = "filtering"
	StateAnalyzing  State = "analyzing"
	StateCommitting State = "committing"
	StateAborted    State = "aborted"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateIdle:       {StateFetching},
	StateFetching:   {StateFiltering, StateIdle, StateAborted},
	StateFiltering:  {StateAnalyzing, StateAborted},
	StateAnalyzing:  {StateCommitting, StateAborted},
	StateCommitting: {StateFetching, StateIdle, StateAborted},
	StateAborted:    {StateFetching},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// Transition represents a state change with metadata.
type Transition struct {
	SourceID  string
	RunID     string
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(sourceID, runID string, from, to State, reason string) Transition {
	return Transition{
		SourceID:  sourceID,
		RunID:     runID,
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateIdle:
		return "Idle - waiting for the next run"
	case StateFetching:
		return "Fetching - pulling new items after the cursor"
	case StateFiltering:
		return "Filtering - applying the keyword gate"
	case StateAnalyzing:
		return "Analyzing - waiting on analysis providers"
	case StateCommitting:
		return "Committing - emitting records and advancing the cursor"
	case StateAborted:
		return "Aborted - last run stopped on an unrecoverable error"
	default:
		return "Unknown state"
	}
}
