package interview

import (
	"context"
	"time"
)

// Role identifies who spoke a turn.
type Role string

const (
	RoleInterviewer Role = "interviewer"
	RoleInterviewee Role = "interviewee"
)

// Turn is one recorded utterance.
type Turn struct {
	Sequence    int       `json:"sequence"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	AudioRef    string    `json:"audio_ref,omitempty"`
	Interrupted bool      `json:"interrupted"`
}

// VoiceProfile selects the synthesized interviewer voice.
type VoiceProfile struct {
	VoiceID    string  `yaml:"voice_id"`
	Stability  float64 `yaml:"stability"`
	Similarity float64 `yaml:"similarity"`
}

// Synthesizer turns text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice VoiceProfile) ([]byte, error)
}

type RecognitionEventKind int

const (
	RecognitionStarted RecognitionEventKind = iota
	RecognitionResult
	RecognitionFailed
	RecognitionEnded
)

type RecognitionErrorKind string

const (
	RecognitionNoSpeech         RecognitionErrorKind = "no-speech"
	RecognitionAborted          RecognitionErrorKind = "aborted"
	RecognitionPermissionDenied RecognitionErrorKind = "permission-denied"
	RecognitionAudioCapture     RecognitionErrorKind = "audio-capture"
	RecognitionNetwork          RecognitionErrorKind = "network"
)

// RecognitionEvent is one item of a recognizer's event stream.
type RecognitionEvent struct {
	Kind    RecognitionEventKind
	Text    string
	IsFinal bool
	ErrKind RecognitionErrorKind
	Err     error
}

// Recognizer opens continuous recognition sessions. ctx bounds the
// connection setup only; the stream lives until Stop.
type Recognizer interface {
	Start(ctx context.Context, locale string) (RecognitionStream, error)
}

// RecognitionStream is one live recognition session. Events is closed after
// the stream ends.
type RecognitionStream interface {
	Feed(audio []byte) error
	Events() <-chan RecognitionEvent
	Stop() error
}

type ReactionRequest struct {
	LastAnswer string
	Persona    string
	History    []Turn
}

// ReactionGenerator produces a short acknowledgement of the last answer.
type ReactionGenerator interface {
	GenerateReaction(ctx context.Context, req ReactionRequest) (string, error)
}

type EvaluationRequest struct {
	Question         string
	Answer           string
	Objective        string
	History          []Turn
	RequiredElements []string
}

type Evaluation struct {
	IsSufficient     bool     `json:"isSufficient"`
	FollowUpQuestion string   `json:"followUpQuestion,omitempty"`
	UserStopIntent   bool     `json:"userStopIntent"`
	MissingElements  []string `json:"missingElements,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	Score            int      `json:"score,omitempty"`
}

// SufficiencyEvaluator judges whether the interview has obtained what a
// question was after.
type SufficiencyEvaluator interface {
	EvaluateSufficiency(ctx context.Context, req EvaluationRequest) (Evaluation, error)
}

// AudioSink is the respondent's output device. Play blocks until the clip
// has finished playing, was stopped, or ctx is done.
type AudioSink interface {
	Play(ctx context.Context, clipID string, audio []byte) error
	Stop(clipID string)
	Cue(name string)
}

// Persistence stores session state outside the engine.
type Persistence interface {
	AppendTurn(ctx context.Context, sessionID string, t Turn) error
	UpdateSessionPhase(ctx context.Context, sessionID string, phase Phase) error
	GetQuestionPlanSeed(ctx context.Context, sessionID string) (PlanSeed, error)
}

// Observer receives live session updates for display and diagnostics.
// Calls are made from the session loop and must not block.
type Observer interface {
	PhaseChanged(from, to Phase)
	TranscriptUpdated(final, interim string)
	TurnCommitted(t Turn)
	Event(name string, data map[string]any)
	UserError(message string)
}

// NopObserver ignores every update.
type NopObserver struct{}

func (NopObserver) PhaseChanged(Phase, Phase)        {}
func (NopObserver) TranscriptUpdated(string, string) {}
func (NopObserver) TurnCommitted(Turn)               {}
func (NopObserver) Event(string, map[string]any)     {}
func (NopObserver) UserError(string)                 {}

// Clock abstracts time so timers can be driven manually in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}
