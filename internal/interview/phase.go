package interview

import (
	"fmt"
	"slices"
)

// Phase is the single authority for what a session is doing right now.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseMicCheck         Phase = "mic_check"
	PhaseIntroPlayback    Phase = "intro_playback"
	PhaseQuestionPlayback Phase = "question_playback"
	PhaseListening        Phase = "listening"
	PhaseProcessing       Phase = "processing"
	PhaseClosing          Phase = "closing"
	PhasePaused           Phase = "paused"
	PhaseCompleted        Phase = "completed"
	PhaseCancelled        Phase = "cancelled"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseFailed
}

// transitions lists the allowed targets for each phase. Cancelled and Failed
// are reachable from every non-terminal phase and are not repeated here.
var transitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseMicCheck},
	PhaseMicCheck:         {PhaseIntroPlayback, PhasePaused},
	PhaseIntroPlayback:    {PhaseQuestionPlayback, PhaseClosing, PhasePaused},
	PhaseQuestionPlayback: {PhaseListening, PhasePaused},
	PhaseListening:        {PhaseProcessing, PhasePaused},
	PhaseProcessing:       {PhaseQuestionPlayback, PhaseListening, PhaseClosing, PhaseCompleted, PhasePaused},
	PhaseClosing:          {PhaseCompleted, PhasePaused},
	PhasePaused:           {PhaseMicCheck, PhaseIntroPlayback, PhaseQuestionPlayback, PhaseListening, PhaseClosing},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Phase) bool {
	if from.Terminal() {
		return false
	}
	if to == PhaseCancelled || to == PhaseFailed {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// StateMachine holds the current phase and rejects illegal transitions.
// It is owned by the session loop and is not safe for concurrent use.
type StateMachine struct {
	phase    Phase
	onChange func(from, to Phase)
}

// NewStateMachine returns a machine in PhaseIdle. onChange may be nil.
func NewStateMachine(onChange func(from, to Phase)) *StateMachine {
	return &StateMachine{phase: PhaseIdle, onChange: onChange}
}

// Phase returns the current phase.
func (m *StateMachine) Phase() Phase {
	return m.phase
}

// Transition moves to the given phase or returns ErrInvalidTransition.
func (m *StateMachine) Transition(to Phase) error {
	from := m.phase
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.phase = to
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}
