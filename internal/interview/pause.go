package interview

import "fmt"

// ResumeAction is the one corrective step taken when a session resumes.
type ResumeAction int

const (
	// ResumeReplay plays the prompt of the recorded phase again.
	ResumeReplay ResumeAction = iota
	// ResumeListening reopens recognition and keeps the partial answer.
	ResumeListening
)

// PauseResumeCoordinator freezes every live operation of a session and
// later thaws it with exactly one action.
type PauseResumeCoordinator struct {
	sm       *StateMachine
	freeze   []func()
	recorded Phase
}

// NewPauseResumeCoordinator takes the cancel functions run on pause, in order.
func NewPauseResumeCoordinator(sm *StateMachine, freeze ...func()) *PauseResumeCoordinator {
	return &PauseResumeCoordinator{sm: sm, freeze: freeze}
}

// Paused reports whether the session is paused.
func (c *PauseResumeCoordinator) Paused() bool {
	return c.sm.Phase() == PhasePaused
}

// Recorded returns the phase the session was paused in.
func (c *PauseResumeCoordinator) Recorded() Phase {
	return c.recorded
}

// Pause cancels timers, playback, recognition and outstanding calls, then
// moves to PhasePaused. Pausing twice is a no-op.
func (c *PauseResumeCoordinator) Pause() error {
	from := c.sm.Phase()
	if from == PhasePaused {
		return nil
	}
	if !CanTransition(from, PhasePaused) {
		return fmt.Errorf("%w: cannot pause in %s", ErrInvalidTransition, from)
	}
	for _, f := range c.freeze {
		f()
	}
	c.recorded = from
	return c.sm.Transition(PhasePaused)
}

// Resume re-enters the recorded phase and reports which action to take.
// A session paused while processing resumes to listening so the pipeline
// call is not issued twice.
func (c *PauseResumeCoordinator) Resume() (Phase, ResumeAction, error) {
	if c.sm.Phase() != PhasePaused {
		return c.sm.Phase(), 0, ErrNotPaused
	}
	target, action := c.recorded, ResumeReplay
	switch c.recorded {
	case PhaseListening, PhaseProcessing:
		target, action = PhaseListening, ResumeListening
	}
	if err := c.sm.Transition(target); err != nil {
		return c.sm.Phase(), 0, err
	}
	return target, action, nil
}
