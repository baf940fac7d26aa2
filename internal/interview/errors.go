package interview

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a phase change is not allowed.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrPlanExhausted means no eligible question remains. The session treats
	// it as normal completion.
	ErrPlanExhausted = errors.New("question plan exhausted")

	// ErrDeviceUnavailable means the respondent has no usable audio input.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrPermissionDenied means microphone access was refused.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrMicCheckFailed is returned after too many consecutive failed mic checks.
	ErrMicCheckFailed = errors.New("microphone check failed")

	// ErrNotPaused is returned by Resume when the session is not paused.
	ErrNotPaused = errors.New("session is not paused")

	// ErrSessionEnded is returned by commands sent after the session loop exited.
	ErrSessionEnded = errors.New("session has ended")
)

// SynthesisError reports a failed text-to-speech request. TextLength helps
// diagnose payload size related failures.
type SynthesisError struct {
	TextLength int
	Err        error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis failed (%d chars): %v", e.TextLength, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// RecognitionError is a failure reported by the recognizer, tagged with its kind.
type RecognitionError struct {
	Kind RecognitionErrorKind
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("speech recognition error: %s", e.Kind)
	}
	return fmt.Sprintf("speech recognition error: %s: %v", e.Kind, e.Err)
}

func (e *RecognitionError) Unwrap() error {
	if e.Kind == RecognitionPermissionDenied {
		return ErrPermissionDenied
	}
	return e.Err
}

// UserMessage maps a fatal session error to text that can be shown to the respondent.
func UserMessage(err error) string {
	var synth *SynthesisError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone access was denied. Allow microphone access in your browser settings and start again."
	case errors.Is(err, ErrDeviceUnavailable):
		return "No microphone was found. Connect a microphone and start again."
	case errors.Is(err, ErrMicCheckFailed):
		return "We could not hear you during the microphone check. Check your microphone and start again."
	case errors.As(err, &synth):
		return "The interviewer voice could not be generated. Please try again in a moment."
	default:
		return "The interview stopped because of an unexpected error. Please try again."
	}
}
