package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MicPermission string

const (
	MicGranted MicPermission = "granted"
	MicDenied  MicPermission = "denied"
	MicPrompt  MicPermission = "prompt"
)

// MicStatus is what the client knows about its microphone at start.
type MicStatus struct {
	Available  bool          `json:"available"`
	Permission MicPermission `json:"permission"`
}

// Deps are the capabilities a session runs on.
type Deps struct {
	Synthesizer Synthesizer
	Recognizer  Recognizer
	Reactions   ReactionGenerator
	Evaluator   SufficiencyEvaluator
	Sink        AudioSink
	Store       Persistence
	Observer    Observer
	Clock       Clock
	Logger      *log.Logger
}

// Usage summarizes vendor consumption of a session.
type Usage struct {
	StartedAt        time.Time
	EndedAt          time.Time
	SynthesizedChars int64
	AudioBytes       int64
}

// events handled by the session loop

type event interface{}

type startEvent struct{ mic MicStatus }

type seedEvent struct {
	seed PlanSeed
	err  error
}

type pauseEvent struct{ reply chan error }

type resumeEvent struct{ reply chan error }

type stopEvent struct{}

type micErrorEvent struct {
	kind RecognitionErrorKind
	err  error
}

type playbackStartedEvent struct{ handle uint64 }

type playbackEvent struct {
	handle uint64
	res    PlaybackResult
}

type recognitionEvent struct {
	stream uint64
	ev     RecognitionEvent
}

type streamStartedEvent struct {
	token  uint64
	stream RecognitionStream
	err    error
}

type endpointEvent struct{ id uint64 }

type restartEvent struct{ token uint64 }

type micCheckTimeoutEvent struct{ token uint64 }

type reactionEvent struct {
	token uint64
	text  string
}

type pipelineEvent struct {
	token uint64
	out   PipelineOutcome
}

type promptKind int

const (
	promptNone promptKind = iota
	promptMicCheck
	promptIntro
	promptQuestion
	promptReaction
	promptClosing
)

func (k promptKind) String() string {
	return [...]string{"none", "mic_check", "intro", "question", "reaction", "closing"}[k]
}

// activePrompt is the interviewer speech owned by the current phase.
// replay prompts are not committed to the transcript again.
type activePrompt struct {
	kind   promptKind
	handle *PlaybackHandle
	text   string
	replay bool
}

// Session runs one interview. All state below the mutex-protected
// snapshot is owned by the goroutine executing Run; everything else talks
// to it by posting events.
type Session struct {
	id       string
	cfg      Config
	deps     Deps
	logger   *log.Logger
	clock    Clock
	observer Observer

	events chan event
	done   chan struct{}
	ctx    context.Context

	sm         *StateMachine
	pauser     *PauseResumeCoordinator
	playback   *PlaybackController
	capture    *SpeechCaptureController
	pipeline   *ResponsePipeline
	conditions *ConditionCache
	journal    *journal

	seed     PlanSeed
	plan     *Plan
	seq      int
	starting bool

	prompt        activePrompt
	pausedPrompt  activePrompt
	awaitingReply bool
	micFailures   int
	micTimer      Timer
	micToken      uint64

	pipelineToken  uint64
	pipelineCancel context.CancelFunc
	pending        *PipelineOutcome
	processing     string
	carried        string

	err error

	mu         sync.Mutex
	phase      Phase
	transcript []Turn
	startedAt  time.Time
	endedAt    time.Time
}

// NewSession wires a session. An empty id gets a random one.
func NewSession(id string, cfg Config, deps Deps) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	cfg = cfg.normalized()

	s := &Session{
		id:       id,
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger,
		clock:    deps.Clock,
		observer: deps.Observer,
		events:   make(chan event, 64),
		done:     make(chan struct{}),
		phase:    PhaseIdle,
	}
	s.sm = NewStateMachine(s.phaseChanged)
	s.playback = NewPlaybackController(deps.Synthesizer, deps.Sink, cfg.Voice, cfg.Synthesis, deps.Logger)
	s.capture = NewSpeechCaptureController(deps.Recognizer, deps.Clock, CaptureConfig{
		Locale:          cfg.Locale,
		EndpointSilence: cfg.EndpointSilence,
		MinAnswerRunes:  cfg.MinAnswerRunes,
		BargeInMinRunes: cfg.BargeInMinRunes,
		Restart:         cfg.RecognitionRestart,
	}, s.post, deps.Logger)
	s.conditions = NewConditionCache(deps.Evaluator, cfg.ConditionTimeout)
	s.pipeline = NewResponsePipeline(deps.Reactions, deps.Evaluator, s.conditions, PipelineConfig{
		ReactionTimeout:   cfg.ReactionTimeout,
		EvaluationTimeout: cfg.EvaluationTimeout,
	}, deps.Logger)
	s.pauser = NewPauseResumeCoordinator(s.sm,
		s.freezePlayback,
		s.freezeCapture,
		s.freezePipeline,
		s.freezeMicCheck,
	)
	s.journal = newJournal(deps.Store, id, deps.Logger)
	return s
}

func (s *Session) ID() string { return s.id }

// Phase returns the current phase. Safe for concurrent use.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Transcript returns a copy of the committed turns. Safe for concurrent use.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.transcript...)
}

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that failed the session, if any. Valid after Done.
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Usage returns vendor consumption so far.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	u := Usage{StartedAt: s.startedAt, EndedAt: s.endedAt}
	s.mu.Unlock()
	u.SynthesizedChars = s.playback.SynthesizedChars()
	u.AudioBytes = s.capture.FedBytes()
	return u
}

// Start begins the interview with the client's microphone status.
func (s *Session) Start(mic MicStatus) { s.post(startEvent{mic: mic}) }

// Stop cancels the interview.
func (s *Session) Stop() { s.post(stopEvent{}) }

// Pause freezes the session.
func (s *Session) Pause() error { return s.request(func(reply chan error) event { return pauseEvent{reply} }) }

// Resume thaws a paused session.
func (s *Session) Resume() error { return s.request(func(reply chan error) event { return resumeEvent{reply} }) }

// FeedAudio forwards microphone audio to recognition. Safe for concurrent use.
func (s *Session) FeedAudio(audio []byte) error { return s.capture.Feed(audio) }

// ReportMicError passes a client-side capture error into recognition handling.
func (s *Session) ReportMicError(kind RecognitionErrorKind, err error) {
	s.post(micErrorEvent{kind: kind, err: err})
}

func (s *Session) request(mk func(chan error) event) error {
	reply := make(chan error, 1)
	s.post(mk(reply))
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionEnded
	}
}

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run executes the session loop until a terminal phase is reached or ctx
// is done. It returns the error that failed the session, if any.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx = ctx
	defer func() {
		cancel()
		close(s.done)
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.journal.close(drainCtx)
		drainCancel()
	}()

	for !s.sm.Phase().Terminal() {
		select {
		case <-ctx.Done():
			s.finish(PhaseCancelled, nil)
		case ev := <-s.events:
			s.handle(ev)
		}
	}
	return s.err
}

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case startEvent:
		s.onStart(e)
	case seedEvent:
		s.onSeed(e)
	case pauseEvent:
		e.reply <- s.onPause()
	case resumeEvent:
		e.reply <- s.onResume()
	case stopEvent:
		s.logger.Printf("interview: session %s: stopped by user in %s", s.id, s.sm.Phase())
		s.finish(PhaseCancelled, nil)
	case micErrorEvent:
		s.onRecognition(s.capture.currentStream(), RecognitionEvent{Kind: RecognitionFailed, ErrKind: e.kind, Err: e.err})
	case playbackStartedEvent:
		s.onPlaybackStarted(e)
	case playbackEvent:
		s.onPlayback(e)
	case streamStartedEvent:
		s.onCaptureSignal(s.capture.StreamStarted(e))
	case recognitionEvent:
		s.onRecognition(e.stream, e.ev)
	case endpointEvent:
		s.onEndpoint(e)
	case restartEvent:
		s.onRestart(e)
	case micCheckTimeoutEvent:
		if e.token == s.micToken && s.awaitingReply && s.sm.Phase() == PhaseMicCheck {
			s.micCheckFailed("timeout")
		}
	case reactionEvent:
		s.onReaction(e)
	case pipelineEvent:
		s.onPipeline(e)
	}
}

func (s *Session) onStart(e startEvent) {
	if s.sm.Phase() != PhaseIdle || s.starting {
		s.logger.Printf("interview: session %s: start ignored in %s", s.id, s.sm.Phase())
		return
	}
	switch {
	case !e.mic.Available:
		s.fail(ErrDeviceUnavailable)
		return
	case e.mic.Permission == MicDenied:
		s.fail(ErrPermissionDenied)
		return
	}
	s.starting = true
	s.mu.Lock()
	s.startedAt = s.clock.Now().UTC()
	s.mu.Unlock()

	ctx := s.ctx
	go func() {
		ctx, cancel := withTimeout(ctx, s.cfg.SeedTimeout)
		defer cancel()
		seed, err := s.deps.Store.GetQuestionPlanSeed(ctx, s.id)
		s.post(seedEvent{seed: seed, err: err})
	}()
}

func (s *Session) onSeed(e seedEvent) {
	if s.sm.Phase() != PhaseIdle {
		return
	}
	if e.err != nil {
		s.fail(fmt.Errorf("load question plan: %w", e.err))
		return
	}
	plan, err := NewPlan(e.seed.Questions)
	if err != nil {
		s.fail(fmt.Errorf("build question plan: %w", err))
		return
	}
	s.seed = e.seed
	s.plan = plan
	s.observer.Event("session_started", map[string]any{"questions": plan.Len()})
	if s.enter(PhaseMicCheck) {
		s.beginMicCheck()
	}
}

// Mic check

func (s *Session) beginMicCheck() {
	s.capture.Stop()
	s.capture.HoldGuard(true)
	s.awaitingReply = false
	s.speak(promptMicCheck, s.cfg.MicCheckPrompt, false)
}

func (s *Session) micCheckPassed() {
	s.freezeMicCheck()
	s.capture.Stop()
	s.capture.ResetBuffer()
	s.micFailures = 0
	s.observer.Event("mic_check_passed", nil)
	if !s.enter(PhaseIntroPlayback) {
		return
	}
	if strings.TrimSpace(s.seed.Intro) == "" {
		s.askNext()
		return
	}
	s.speak(promptIntro, s.seed.Intro, false)
}

func (s *Session) micCheckFailed(reason string) {
	s.freezeMicCheck()
	s.capture.Stop()
	s.micFailures++
	s.observer.Event("mic_check_failed", map[string]any{"reason": reason, "attempt": s.micFailures})
	if s.micFailures >= s.cfg.MicCheckMaxFailures {
		s.fail(fmt.Errorf("%w after %d attempts (last: %s)", ErrMicCheckFailed, s.micFailures, reason))
		return
	}
	s.beginMicCheck()
}

// Playback

func (s *Session) speak(kind promptKind, text string, replay bool) {
	h := s.playback.Play(s.ctx, text)
	s.prompt = activePrompt{kind: kind, handle: h, text: text, replay: replay}
	go func() {
		var res PlaybackResult
		select {
		case <-h.Started():
			s.post(playbackStartedEvent{handle: h.ID()})
			res = <-h.Done()
		case res = <-h.Done():
			select {
			case <-h.Started():
				s.post(playbackStartedEvent{handle: h.ID()})
			default:
			}
		}
		s.post(playbackEvent{handle: h.ID(), res: res})
	}()
}

// onPlaybackStarted opens the guard window of a prompt once its audio is
// actually playing, so synthesis time does not shorten it.
func (s *Session) onPlaybackStarted(e playbackStartedEvent) {
	p := s.prompt
	if p.handle == nil || p.handle.ID() != e.handle {
		return
	}
	switch p.kind {
	case promptMicCheck:
		s.capture.OpenGuard(s.cfg.MicCheckGuard)
	case promptQuestion:
		s.capture.OpenGuard(s.cfg.QuestionGuard)
		s.observer.Event("question_started", map[string]any{"replay": p.replay})
	}
}

func (s *Session) onPlayback(e playbackEvent) {
	p := s.prompt
	if p.handle == nil || p.handle.ID() != e.handle {
		return
	}
	s.prompt = activePrompt{}
	if e.res.Outcome == PlaybackCancelled {
		return
	}
	failed := e.res.Outcome == PlaybackFailed
	if failed {
		s.observer.Event("tts_error", map[string]any{"prompt": p.kind.String(), "error": e.res.Err.Error()})
	}

	switch p.kind {
	case promptMicCheck:
		if failed {
			s.micCheckFailed("synthesis")
			return
		}
		s.capture.Start(s.ctx)
		s.awaitingReply = true
		s.micToken++
		token := s.micToken
		s.micTimer = s.clock.AfterFunc(s.cfg.MicCheckTimeout, func() {
			s.post(micCheckTimeoutEvent{token: token})
		})

	case promptIntro:
		if !failed {
			s.commit(RoleInterviewer, p.text, false)
		}
		s.askNext()

	case promptQuestion:
		if failed {
			s.fail(e.res.Err)
			return
		}
		if !p.replay {
			s.commit(RoleInterviewer, p.text, false)
		}
		s.enter(PhaseListening)

	case promptReaction:
		if !failed {
			s.commit(RoleInterviewer, p.text, false)
		}
		if s.pending != nil {
			out := *s.pending
			s.pending = nil
			s.apply(out)
		}

	case promptClosing:
		if failed {
			s.observer.UserError(UserMessage(e.res.Err))
		} else {
			s.commit(RoleInterviewer, p.text, false)
		}
		s.finish(PhaseCompleted, nil)
	}
}

// Recognition

func (s *Session) captureMode() (CaptureMode, uint64) {
	switch s.sm.Phase() {
	case PhaseMicCheck:
		if s.awaitingReply {
			return CaptureMicCheck, 0
		}
	case PhaseQuestionPlayback:
		if s.prompt.kind == promptQuestion && s.prompt.handle != nil {
			return CaptureMonitor, s.prompt.handle.ID()
		}
	case PhaseListening:
		return CaptureListen, 0
	}
	return CaptureIgnore, 0
}

func (s *Session) onRecognition(stream uint64, ev RecognitionEvent) {
	if ev.Kind == RecognitionFailed {
		s.observer.Event("recognition_error", map[string]any{"kind": string(ev.ErrKind)})
	}
	mode, handle := s.captureMode()
	s.onCaptureSignal(s.capture.HandleEvent(stream, ev, mode, handle))
}

func (s *Session) onCaptureSignal(sig CaptureSignal) {
	switch sig.Kind {
	case SignalTranscript:
		s.observer.TranscriptUpdated(s.capture.Transcript(), s.capture.Interim())
	case SignalBargeIn:
		s.onBargeIn()
	case SignalReply:
		s.micCheckPassed()
	case SignalFatal:
		s.fail(sig.Err)
	case SignalUnavailable:
		if s.sm.Phase() == PhaseMicCheck {
			s.micCheckFailed("recognition")
			return
		}
		s.logger.Printf("interview: session %s: recognition unavailable: %v", s.id, sig.Err)
		s.observer.UserError("Speech recognition stopped working. Pause and resume the interview to try again.")
	}
}

func (s *Session) onBargeIn() {
	p := s.prompt
	s.prompt = activePrompt{}
	s.playback.Stop()
	if !p.replay {
		s.commit(RoleInterviewer, p.text, true)
	}
	s.observer.Event("barge_in", map[string]any{"question_chars": len([]rune(p.text))})
	if s.enter(PhaseListening) {
		s.observer.TranscriptUpdated(s.capture.Transcript(), s.capture.Interim())
	}
}

func (s *Session) onRestart(e restartEvent) {
	mode, _ := s.captureMode()
	if s.capture.RestartDue(s.ctx, e.token, mode != CaptureIgnore) {
		s.observer.Event("recognition_restarted", nil)
	}
}

func (s *Session) onEndpoint(e endpointEvent) {
	if !s.capture.EndpointFired(e.id) || s.sm.Phase() != PhaseListening {
		return
	}
	s.beginProcessing()
}

// Processing

func (s *Session) beginProcessing() {
	answer := s.capture.Transcript()
	s.capture.Stop()
	s.capture.ResetBuffer()
	if !s.enter(PhaseProcessing) {
		return
	}
	if s.cfg.KnockCue != "" {
		s.deps.Sink.Cue(s.cfg.KnockCue)
	}
	s.observer.Event("endpoint_fired", map[string]any{"chars": len([]rune(answer))})

	fresh := answer
	if s.carried != "" {
		fresh = strings.TrimSpace(strings.TrimPrefix(answer, s.carried))
		s.carried = ""
	}
	s.commit(RoleInterviewee, fresh, false)

	if MatchesRepeatRequest(answer, s.cfg.RepeatPhrases) {
		s.observer.Event("repeat_requested", nil)
		s.replayCurrent()
		return
	}

	s.plan.RecordAnswer(fresh)
	s.processing = answer
	s.runPipeline(answer)
}

func (s *Session) runPipeline(answer string) {
	s.pipelineToken++
	token := s.pipelineToken
	ctx, cancel := context.WithCancel(s.ctx)
	s.pipelineCancel = cancel

	current, _ := s.plan.Current()
	req := PipelineRequest{
		Question:   current,
		Answer:     answer,
		Objective:  s.seed.Objective,
		Persona:    s.seed.Persona,
		History:    s.Transcript(),
		Conditions: s.plan.PendingConditions(),
	}
	go func() {
		defer cancel()
		out := s.pipeline.Run(ctx, req, func(text string) {
			s.post(reactionEvent{token: token, text: text})
		})
		s.post(pipelineEvent{token: token, out: out})
	}()
}

func (s *Session) onReaction(e reactionEvent) {
	if e.token != s.pipelineToken || s.sm.Phase() != PhaseProcessing || s.prompt.handle != nil {
		return
	}
	s.observer.Event("reaction_played", map[string]any{"chars": len([]rune(e.text))})
	s.speak(promptReaction, e.text, false)
}

func (s *Session) onPipeline(e pipelineEvent) {
	if e.token != s.pipelineToken || s.sm.Phase() != PhaseProcessing {
		return
	}
	s.pipelineCancel = nil
	data := map[string]any{"decision": e.out.Decision.String(), "degraded": e.out.Degraded}
	if e.out.Evaluation != nil {
		data["sufficient"] = e.out.Evaluation.IsSufficient
		data["missing"] = e.out.Evaluation.MissingElements
	}
	s.observer.Event("evaluation_completed", data)

	if s.prompt.kind == promptReaction {
		out := e.out
		s.pending = &out
		return
	}
	s.apply(e.out)
}

func (s *Session) apply(out PipelineOutcome) {
	s.processing = ""
	switch out.Decision {
	case DecisionStop:
		s.observer.Event("stop_intent", nil)
		s.beginClosing()
	case DecisionFollowUp:
		current, _ := s.plan.Current()
		if s.plan.FollowUps(current.Root) >= s.cfg.MaxFollowUpsPerQuestion {
			s.observer.Event("follow_up_limited", map[string]any{"question": current.Root + 1})
		} else if s.plan.InsertFollowUp(out.FollowUp) {
			s.observer.Event("follow_up_inserted", map[string]any{"question": current.Root + 1})
		}
		s.askNext()
	default:
		s.askNext()
	}
}

// askNext advances the plan and asks the next question, or closes the
// interview when none is left.
func (s *Session) askNext() {
	item, err := s.plan.Advance(s.conditions.Eligible)
	if errors.Is(err, ErrPlanExhausted) {
		s.beginClosing()
		return
	}
	if s.enter(PhaseQuestionPlayback) {
		s.askQuestion(item.Text, false)
	}
}

func (s *Session) replayCurrent() {
	current, ok := s.plan.Current()
	if !ok {
		s.askNext()
		return
	}
	if s.enter(PhaseQuestionPlayback) {
		s.askQuestion(current.Text, true)
	}
}

func (s *Session) askQuestion(text string, replay bool) {
	s.capture.HoldGuard(true)
	s.capture.EnsureRunning(s.ctx)
	s.speak(promptQuestion, text, replay)
}

func (s *Session) beginClosing() {
	s.capture.Stop()
	if !s.enter(PhaseClosing) {
		return
	}
	s.speakClosing()
}

func (s *Session) speakClosing() {
	text := s.seed.Closing
	if strings.TrimSpace(text) == "" {
		text = s.cfg.ClosingText
	}
	if strings.TrimSpace(text) == "" {
		s.finish(PhaseCompleted, nil)
		return
	}
	s.speak(promptClosing, text, false)
}

// Pause and resume

func (s *Session) freezePlayback() {
	s.pausedPrompt = s.prompt
	s.prompt = activePrompt{}
	s.playback.Stop()
}

func (s *Session) freezeCapture() {
	s.capture.Stop()
	if s.sm.Phase() == PhaseProcessing && s.processing != "" {
		s.capture.Restore(s.processing)
		s.carried = s.processing
	}
}

func (s *Session) freezePipeline() {
	if s.pipelineCancel != nil {
		s.pipelineCancel()
		s.pipelineCancel = nil
	}
	s.pipelineToken++
	s.pending = nil
	s.processing = ""
}

func (s *Session) freezeMicCheck() {
	if s.micTimer != nil {
		s.micTimer.Stop()
		s.micTimer = nil
	}
	s.micToken++
	s.awaitingReply = false
}

func (s *Session) onPause() error {
	if err := s.pauser.Pause(); err != nil {
		return err
	}
	s.observer.Event("paused", map[string]any{"phase": string(s.pauser.Recorded())})
	return nil
}

func (s *Session) onResume() error {
	target, action, err := s.pauser.Resume()
	if err != nil {
		return err
	}
	s.observer.Event("resumed", map[string]any{"phase": string(target)})

	if action == ResumeListening {
		s.capture.Start(s.ctx)
		s.capture.Rearm()
		s.observer.TranscriptUpdated(s.capture.Transcript(), s.capture.Interim())
		return nil
	}

	paused := s.pausedPrompt
	s.pausedPrompt = activePrompt{}
	switch target {
	case PhaseMicCheck:
		s.beginMicCheck()
	case PhaseIntroPlayback:
		if strings.TrimSpace(s.seed.Intro) == "" {
			s.askNext()
			return nil
		}
		s.speak(promptIntro, s.seed.Intro, false)
	case PhaseQuestionPlayback:
		text, replay := paused.text, paused.replay
		if paused.kind != promptQuestion || text == "" {
			current, _ := s.plan.Current()
			text, replay = current.Text, false
		}
		s.askQuestion(text, replay)
	case PhaseClosing:
		s.speakClosing()
	}
	return nil
}

// Transitions and bookkeeping

func (s *Session) enter(p Phase) bool {
	if err := s.sm.Transition(p); err != nil {
		s.logger.Printf("interview: session %s: %v", s.id, err)
		return false
	}
	return true
}

func (s *Session) phaseChanged(from, to Phase) {
	s.mu.Lock()
	s.phase = to
	if to.Terminal() {
		s.endedAt = s.clock.Now().UTC()
	}
	s.mu.Unlock()
	s.logger.Printf("interview: session %s: %s -> %s", s.id, from, to)
	s.journal.updatePhase(to)
	s.observer.PhaseChanged(from, to)
}

func (s *Session) fail(err error) {
	s.finish(PhaseFailed, err)
}

// finish stops every live operation and enters a terminal phase. Nothing
// is written or played afterwards.
func (s *Session) finish(p Phase, err error) {
	if s.sm.Phase().Terminal() {
		return
	}
	s.freezePlayback()
	s.capture.Stop()
	s.freezePipeline()
	s.freezeMicCheck()
	if err != nil {
		s.err = err
		s.logger.Printf("interview: session %s failed: %v", s.id, err)
		s.observer.UserError(UserMessage(err))
	}
	if err := s.sm.Transition(p); err != nil {
		s.logger.Printf("interview: session %s: %v", s.id, err)
	}
}

func (s *Session) commit(role Role, text string, interrupted bool) {
	text = strings.TrimSpace(text)
	if text == "" || s.sm.Phase().Terminal() {
		return
	}
	s.seq++
	t := Turn{
		Sequence:    s.seq,
		Role:        role,
		Content:     text,
		Timestamp:   s.clock.Now().UTC(),
		Interrupted: interrupted,
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, t)
	s.mu.Unlock()
	s.journal.appendTurn(t)
	s.observer.TurnCommitted(t)
}
