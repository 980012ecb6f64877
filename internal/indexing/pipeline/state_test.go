package pipeline

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateFetching, true},
		{StateFetching, StateFiltering, true},
		{StateFiltering, StateAnalyzing, true},
		{StateAnalyzing, StateCommitting, true},
		{StateCommitting, StateFetching, true},
		{StateCommitting, StateIdle, true},
		{StateAnalyzing, StateAborted, true},
		{StateAborted, StateFetching, true},
		{StateIdle, StateCommitting, false},
		{StateFetching, StateCommitting, false},
		{StateAnalyzing, StateFetching, false},
		{StateAborted, StateIdle, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateDescription(t *testing.T) {
	for state := range ValidTransitions {
		if StateDescription(state) == "Unknown state" {
			t.Errorf("state %s has no description", state)
		}
	}
}
