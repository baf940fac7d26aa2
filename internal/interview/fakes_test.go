package interview

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

// Advance moves time forward and runs the timers that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of live timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeSynth returns the text itself as audio. Texts in block wait for
// their channel to close.
type fakeSynth struct {
	mu      sync.Mutex
	fail    map[string]bool
	block   map[string]chan struct{}
	calls   int
	blocked int
}

// Blocked returns how many calls have waited on a block channel.
func (s *fakeSynth) Blocked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string, _ VoiceProfile) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	if gate := s.block[text]; gate != nil {
		s.blocked++
		s.mu.Unlock()
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		s.mu.Lock()
	}
	defer s.mu.Unlock()
	if s.fail[text] {
		return nil, errors.New("elevenlabs: 500")
	}
	return []byte(text), nil
}

// fakeSink plays instantly unless hold is set, in which case each clip
// plays until release or Stop.
type fakeSink struct {
	hold bool
	gate chan struct{}

	mu      sync.Mutex
	played  []string
	stopped []string
	cues    []string
	waiting int
}

func newFakeSink(hold bool) *fakeSink {
	return &fakeSink{hold: hold, gate: make(chan struct{})}
}

func (s *fakeSink) Play(ctx context.Context, clipID string, audio []byte) error {
	s.mu.Lock()
	s.played = append(s.played, string(audio))
	if !s.hold {
		s.mu.Unlock()
		return nil
	}
	s.waiting++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.waiting--
		s.mu.Unlock()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.gate:
		return nil
	}
}

func (s *fakeSink) Stop(clipID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, clipID)
}

func (s *fakeSink) Cue(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cues = append(s.cues, name)
}

func (s *fakeSink) release(t *testing.T) {
	t.Helper()
	select {
	case s.gate <- struct{}{}:
	case <-time.After(2 * time.Second):
		t.Fatal("no clip was playing")
	}
}

func (s *fakeSink) Played() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.played...)
}

// Waiting returns the number of clips currently held.
func (s *fakeSink) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

func (s *fakeSink) Stopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stopped)
}

func (s *fakeSink) Cues() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cues...)
}

type fakeStream struct {
	events chan RecognitionEvent
	once   sync.Once

	mu      sync.Mutex
	fed     int
	stopped bool
}

func (s *fakeStream) Feed(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fed += len(audio)
	return nil
}

func (s *fakeStream) Events() <-chan RecognitionEvent { return s.events }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.end()
	return nil
}

func (s *fakeStream) end() {
	s.once.Do(func() { close(s.events) })
}

func (s *fakeStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// emit delivers an event unless the stream has already ended.
func (s *fakeStream) emit(ev RecognitionEvent) {
	defer func() { _ = recover() }()
	s.events <- ev
}

// fakeRecognizer opens fake streams. With gate set, the gateAt-th Start
// (1-based) blocks until gate is closed, ignoring ctx like a slow handshake.
type fakeRecognizer struct {
	gate   chan struct{}
	gateAt int

	mu       sync.Mutex
	starts   int
	streams  []*fakeStream
	startErr error
}

func (r *fakeRecognizer) Start(ctx context.Context, locale string) (RecognitionStream, error) {
	r.mu.Lock()
	r.starts++
	if r.gate != nil && r.starts == r.gateAt {
		r.mu.Unlock()
		<-r.gate
		r.mu.Lock()
	}
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	st := &fakeStream{events: make(chan RecognitionEvent, 16)}
	r.streams = append(r.streams, st)
	return st, nil
}

// Live returns the newest stream if it is still open.
func (r *fakeRecognizer) Live() *fakeStream {
	st := r.Last()
	if st == nil || st.Stopped() {
		return nil
	}
	return st
}

func (r *fakeRecognizer) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

func (r *fakeRecognizer) Last() *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

type fakeReactions struct {
	text string
	err  error
}

func (r *fakeReactions) GenerateReaction(ctx context.Context, req ReactionRequest) (string, error) {
	return r.text, r.err
}

// fakeEvaluator answers sufficiency requests with eval and condition
// checks (requests carrying required elements) with cond.
type fakeEvaluator struct {
	mu        sync.Mutex
	eval      func(ctx context.Context, req EvaluationRequest) (Evaluation, error)
	cond      func(ctx context.Context, req EvaluationRequest) (Evaluation, error)
	requests  []EvaluationRequest
	condReqs  []EvaluationRequest
	condCalls int
}

func (e *fakeEvaluator) EvaluateSufficiency(ctx context.Context, req EvaluationRequest) (Evaluation, error) {
	e.mu.Lock()
	if len(req.RequiredElements) > 0 {
		e.condCalls++
		e.condReqs = append(e.condReqs, req)
		f := e.cond
		e.mu.Unlock()
		if f == nil {
			return Evaluation{IsSufficient: false}, nil
		}
		return f(ctx, req)
	}
	e.requests = append(e.requests, req)
	f := e.eval
	e.mu.Unlock()
	if f == nil {
		return Evaluation{IsSufficient: true}, nil
	}
	return f(ctx, req)
}

// ConditionRequests returns the condition checks seen so far.
func (e *fakeEvaluator) ConditionRequests() []EvaluationRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EvaluationRequest(nil), e.condReqs...)
}

func (e *fakeEvaluator) Requests() []EvaluationRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]EvaluationRequest(nil), e.requests...)
}

type fakeStore struct {
	seed    PlanSeed
	seedErr error

	mu     sync.Mutex
	turns  []Turn
	phases []Phase
}

func (s *fakeStore) AppendTurn(ctx context.Context, sessionID string, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	return nil
}

func (s *fakeStore) UpdateSessionPhase(ctx context.Context, sessionID string, p Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, p)
	return nil
}

func (s *fakeStore) GetQuestionPlanSeed(ctx context.Context, sessionID string) (PlanSeed, error) {
	return s.seed, s.seedErr
}

func (s *fakeStore) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

func (s *fakeStore) Phases() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Phase(nil), s.phases...)
}

type recordingObserver struct {
	mu         sync.Mutex
	phases     []Phase
	events     []string
	errors     []string
	transcript string
}

func (o *recordingObserver) PhaseChanged(from, to Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, to)
}

func (o *recordingObserver) TranscriptUpdated(final, interim string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transcript = strings.TrimSpace(final + " " + interim)
}

func (o *recordingObserver) TurnCommitted(Turn) {}

func (o *recordingObserver) Event(name string, data map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, name)
}

func (o *recordingObserver) UserError(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, message)
}

func (o *recordingObserver) Transcript() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transcript
}

func (o *recordingObserver) HasEvent(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, e := range o.events {
		if e == name {
			return true
		}
	}
	return false
}

func (o *recordingObserver) Errors() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.errors...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
