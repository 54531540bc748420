// Package pipeline drives a run through its stages: every stage sends one
// prompt, validates the returned artifact against its schema, stores it in
// memory, and advances the state machine. Artifact schema violations and
// transport failures are fatal to the run; failures inside generated chart
// code are contained per chart.
package pipeline

import "fmt"

// State names a position in the run lifecycle.
type State string

const (
	StateInitiated       State = "INITIATED"
	StateInterpreting    State = "INTERPRETING"
	StateWrangling       State = "WRANGLING"
	StateAnalyzing       State = "ANALYZING"
	StateVisualizing     State = "VISUALIZING"
	StateExecutingCharts State = "EXECUTING_CHARTS"
	StateQAReview        State = "QA_REVIEW"
	StateNarrating       State = "NARRATING"
	StateComplete        State = "COMPLETE"
	StateFailed          State = "FAILED"
)

// transitions is the full lifecycle graph. EXECUTING_CHARTS cannot fail:
// chart execution errors are recorded per chart, never escalated.
var transitions = map[State][]State{
	StateInitiated:       {StateInterpreting, StateFailed},
	StateInterpreting:    {StateWrangling, StateFailed},
	StateWrangling:       {StateAnalyzing, StateFailed},
	StateAnalyzing:       {StateVisualizing, StateFailed},
	StateVisualizing:     {StateExecutingCharts, StateFailed},
	StateExecutingCharts: {StateQAReview},
	StateQAReview:        {StateNarrating, StateFailed},
	StateNarrating:       {StateComplete, StateFailed},
	StateComplete:        nil,
	StateFailed:          nil,
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// StageError is the fatal failure surface of a run: it names the stage the
// run died in and wraps the underlying cause.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
