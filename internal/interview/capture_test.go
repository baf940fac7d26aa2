package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type postRecorder struct {
	mu     sync.Mutex
	events []event
}

func (r *postRecorder) post(ev event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *postRecorder) endpoints() []endpointEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []endpointEvent
	for _, ev := range r.events {
		if e, ok := ev.(endpointEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *postRecorder) restarts() []restartEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []restartEvent
	for _, ev := range r.events {
		if e, ok := ev.(restartEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

func (r *postRecorder) started() []streamStartedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []streamStartedEvent
	for _, ev := range r.events {
		if e, ok := ev.(streamStartedEvent); ok {
			out = append(out, e)
		}
	}
	return out
}

// awaitDial waits for the dial after the first `before` ones and hands it
// to the controller the way the session loop does.
func awaitDial(t *testing.T, c *SpeechCaptureController, posts *postRecorder, before int) CaptureSignal {
	t.Helper()
	waitFor(t, "dial result", func() bool { return len(posts.started()) > before })
	return c.StreamStarted(posts.started()[before])
}

func newTestCapture(t *testing.T) (*SpeechCaptureController, *fakeClock, *fakeRecognizer, *postRecorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &fakeRecognizer{}
	posts := &postRecorder{}
	c := NewSpeechCaptureController(rec, clock, CaptureConfig{
		Locale:          "en-US",
		EndpointSilence: 3 * time.Second,
		MinAnswerRunes:  10,
		BargeInMinRunes: 2,
		Restart:         RetryPolicy{MaxAttempts: 1, Delay: time.Second},
	}, posts.post, discardLogger())
	c.Start(context.Background())
	if sig := awaitDial(t, c, posts, 0); sig.Kind != SignalNone {
		t.Fatalf("StreamStarted() = %v", sig.Kind)
	}
	t.Cleanup(c.Stop)
	return c, clock, rec, posts
}

func result(text string, final bool) RecognitionEvent {
	return RecognitionEvent{Kind: RecognitionResult, Text: text, IsFinal: final}
}

func TestCapture_GuardWindowIgnoresResults(t *testing.T) {
	c, clock, _, _ := newTestCapture(t)
	id := c.currentStream()
	c.HoldGuard(true)

	// Held while the prompt is synthesized, however long that takes.
	clock.Advance(10 * time.Second)
	if sig := c.HandleEvent(id, result("hello there", false), CaptureMonitor, 1); sig.Kind != SignalNone {
		t.Errorf("signal while held = %v, want none", sig.Kind)
	}

	c.OpenGuard(3 * time.Second)
	clock.Advance(2 * time.Second)
	if sig := c.HandleEvent(id, result("hello there", false), CaptureMonitor, 1); sig.Kind != SignalNone {
		t.Errorf("signal inside guard = %v, want none", sig.Kind)
	}
	clock.Advance(3 * time.Second)
	if sig := c.HandleEvent(id, result("hello there", false), CaptureMonitor, 1); sig.Kind != SignalBargeIn {
		t.Errorf("signal after guard = %v, want barge-in", sig.Kind)
	}
}

func TestCapture_BargeInOncePerHandle(t *testing.T) {
	c, _, _, _ := newTestCapture(t)
	id := c.currentStream()

	if sig := c.HandleEvent(id, result("a", false), CaptureMonitor, 7); sig.Kind != SignalNone {
		t.Errorf("one-rune result triggered %v", sig.Kind)
	}
	if sig := c.HandleEvent(id, result("wait", false), CaptureMonitor, 7); sig.Kind != SignalBargeIn {
		t.Errorf("signal = %v, want barge-in", sig.Kind)
	}
	if sig := c.HandleEvent(id, result("wait wait", false), CaptureMonitor, 7); sig.Kind != SignalNone {
		t.Errorf("second barge-in for same handle = %v", sig.Kind)
	}
	if sig := c.HandleEvent(id, result("hold on", false), CaptureMonitor, 8); sig.Kind != SignalBargeIn {
		t.Errorf("barge-in for new handle = %v", sig.Kind)
	}
}

func TestCapture_EndpointArmsAfterMinimumLength(t *testing.T) {
	c, clock, _, posts := newTestCapture(t)
	id := c.currentStream()

	c.HandleEvent(id, result("yes", true), CaptureListen, 0)
	if c.EndpointArmed() {
		t.Fatal("endpoint armed for a short answer")
	}
	c.HandleEvent(id, result("I work in finance", true), CaptureListen, 0)
	if !c.EndpointArmed() {
		t.Fatal("endpoint not armed")
	}
	if got := c.Transcript(); got != "yes I work in finance" {
		t.Errorf("Transcript() = %q", got)
	}

	clock.Advance(2 * time.Second)
	c.HandleEvent(id, result("mostly", true), CaptureListen, 0)
	clock.Advance(2 * time.Second)
	if n := len(posts.endpoints()); n != 0 {
		t.Fatalf("endpoint fired %d times before silence elapsed", n)
	}
	clock.Advance(time.Second)
	eps := posts.endpoints()
	if len(eps) != 1 {
		t.Fatalf("endpoint fired %d times, want 1", len(eps))
	}
	if !c.EndpointFired(eps[0].id) {
		t.Error("EndpointFired() = false for the live timer")
	}
	if c.EndpointFired(eps[0].id) {
		t.Error("EndpointFired() consumed twice")
	}
}

func TestCapture_StaleEndpointIgnored(t *testing.T) {
	c, clock, _, posts := newTestCapture(t)
	id := c.currentStream()
	c.HandleEvent(id, result("a long enough answer", true), CaptureListen, 0)
	clock.Advance(3 * time.Second)
	eps := posts.endpoints()
	if len(eps) != 1 {
		t.Fatalf("endpoints = %d", len(eps))
	}
	c.ResetBuffer()
	if c.EndpointFired(eps[0].id) {
		t.Error("endpoint consumed after the buffer was reset")
	}
}

func TestCapture_InterimNotCommitted(t *testing.T) {
	c, _, _, _ := newTestCapture(t)
	id := c.currentStream()
	c.HandleEvent(id, result("partial words here", false), CaptureListen, 0)
	if c.Transcript() != "" || c.Interim() != "partial words here" {
		t.Errorf("Transcript() = %q, Interim() = %q", c.Transcript(), c.Interim())
	}
	if c.EndpointArmed() {
		t.Error("interim result armed the endpoint")
	}
}

func TestCapture_MicCheckReply(t *testing.T) {
	c, _, _, _ := newTestCapture(t)
	id := c.currentStream()
	if sig := c.HandleEvent(id, result("hel", false), CaptureMicCheck, 0); sig.Kind != SignalTranscript {
		t.Errorf("interim signal = %v, want transcript", sig.Kind)
	}
	if sig := c.HandleEvent(id, result("hello", true), CaptureMicCheck, 0); sig.Kind != SignalReply {
		t.Errorf("final signal = %v, want reply", sig.Kind)
	}
}

func TestCapture_StaleStreamEventsDropped(t *testing.T) {
	c, _, rec, posts := newTestCapture(t)
	old := c.currentStream()
	c.Start(context.Background())
	awaitDial(t, c, posts, 1)
	if rec.Count() != 2 {
		t.Fatalf("streams = %d, want 2", rec.Count())
	}
	if sig := c.HandleEvent(old, result("from the old stream", true), CaptureListen, 0); sig.Kind != SignalNone {
		t.Errorf("stale event produced %v", sig.Kind)
	}
	if c.Transcript() != "" {
		t.Errorf("Transcript() = %q, want empty", c.Transcript())
	}
}

func TestCapture_ErrorHandling(t *testing.T) {
	tests := []struct {
		name string
		kind RecognitionErrorKind
		want SignalKind
	}{
		{"no speech ignored", RecognitionNoSpeech, SignalNone},
		{"aborted ignored", RecognitionAborted, SignalNone},
		{"permission fatal", RecognitionPermissionDenied, SignalFatal},
		{"network retried", RecognitionNetwork, SignalNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _, _ := newTestCapture(t)
			sig := c.HandleEvent(c.currentStream(), RecognitionEvent{Kind: RecognitionFailed, ErrKind: tt.kind}, CaptureListen, 0)
			if sig.Kind != tt.want {
				t.Errorf("signal = %v, want %v", sig.Kind, tt.want)
			}
			if tt.want == SignalFatal && !errors.Is(sig.Err, ErrPermissionDenied) {
				t.Errorf("fatal error = %v, want ErrPermissionDenied", sig.Err)
			}
		})
	}
}

func TestCapture_RestartBudget(t *testing.T) {
	c, clock, rec, posts := newTestCapture(t)
	fail := RecognitionEvent{Kind: RecognitionFailed, ErrKind: RecognitionNetwork, Err: errors.New("reset")}

	if sig := c.HandleEvent(c.currentStream(), fail, CaptureListen, 0); sig.Kind != SignalNone {
		t.Fatalf("first failure = %v, want retry", sig.Kind)
	}
	if c.Running() {
		t.Error("stream still open after failure")
	}
	clock.Advance(time.Second)
	rs := posts.restarts()
	if len(rs) != 1 {
		t.Fatalf("restarts = %d, want 1", len(rs))
	}
	if !c.RestartDue(context.Background(), rs[0].token, true) {
		t.Fatal("RestartDue() = false, want a new dial")
	}
	awaitDial(t, c, posts, 1)
	if rec.Count() != 2 || !c.Running() {
		t.Fatalf("restart did not open a stream (count %d)", rec.Count())
	}

	sig := c.HandleEvent(c.currentStream(), fail, CaptureListen, 0)
	if sig.Kind != SignalUnavailable {
		t.Errorf("second failure = %v, want unavailable", sig.Kind)
	}
}

func TestCapture_ResultResetsRestartBudget(t *testing.T) {
	c, clock, _, posts := newTestCapture(t)
	fail := RecognitionEvent{Kind: RecognitionFailed, ErrKind: RecognitionNetwork}

	c.HandleEvent(c.currentStream(), fail, CaptureListen, 0)
	clock.Advance(time.Second)
	c.RestartDue(context.Background(), posts.restarts()[0].token, true)
	awaitDial(t, c, posts, 1)
	c.HandleEvent(c.currentStream(), result("still talking here", true), CaptureListen, 0)

	if sig := c.HandleEvent(c.currentStream(), fail, CaptureListen, 0); sig.Kind != SignalNone {
		t.Errorf("failure after a result = %v, want retry", sig.Kind)
	}
}

func TestCapture_EndedSchedulesOneRestart(t *testing.T) {
	c, clock, rec, posts := newTestCapture(t)
	id := c.currentStream()
	c.HandleEvent(id, RecognitionEvent{Kind: RecognitionEnded}, CaptureListen, 0)
	c.HandleEvent(id, RecognitionEvent{Kind: RecognitionEnded}, CaptureListen, 0)
	clock.Advance(time.Second)

	rs := posts.restarts()
	if len(rs) != 1 {
		t.Fatalf("restarts = %d, want 1", len(rs))
	}
	if c.RestartDue(context.Background(), rs[0].token, false) {
		t.Error("RestartDue() = true while not listening")
	}
	if rec.Count() != 1 {
		t.Errorf("restart opened a stream while not listening")
	}
}

func TestCapture_StartErrors(t *testing.T) {
	rec := &fakeRecognizer{startErr: &RecognitionError{Kind: RecognitionPermissionDenied}}
	posts := &postRecorder{}
	c := NewSpeechCaptureController(rec, newFakeClock(), CaptureConfig{Restart: RetryPolicy{MaxAttempts: 1}}, posts.post, discardLogger())

	c.Start(context.Background())
	if sig := awaitDial(t, c, posts, 0); sig.Kind != SignalFatal || !errors.Is(sig.Err, ErrPermissionDenied) {
		t.Errorf("permission denied = %v %v, want fatal ErrPermissionDenied", sig.Kind, sig.Err)
	}

	rec.startErr = errors.New("dial tcp: refused")
	c.Start(context.Background())
	if sig := awaitDial(t, c, posts, 1); sig.Kind != SignalNone {
		t.Errorf("first dial failure = %v, want restart scheduled", sig.Kind)
	}
	if c.Running() {
		t.Error("Running() = true after a failed dial")
	}

	c.Start(context.Background())
	if sig := awaitDial(t, c, posts, 2); sig.Kind != SignalUnavailable {
		t.Errorf("dial failure without budget = %v, want unavailable", sig.Kind)
	}
}

func TestCapture_StopAbandonsDial(t *testing.T) {
	gate := make(chan struct{})
	rec := &fakeRecognizer{gate: gate, gateAt: 1}
	posts := &postRecorder{}
	c := NewSpeechCaptureController(rec, newFakeClock(), CaptureConfig{}, posts.post, discardLogger())

	c.Start(context.Background())
	if !c.Running() {
		t.Fatal("Running() = false while dialing")
	}
	c.EnsureRunning(context.Background())
	c.Stop()
	if c.Running() {
		t.Error("Running() = true after Stop")
	}

	close(gate)
	waitFor(t, "abandoned stream closed", func() bool {
		st := rec.Last()
		return st != nil && st.Stopped()
	})
	if rec.Count() != 1 {
		t.Errorf("recognizer started %d times, want 1", rec.Count())
	}
	if n := len(posts.started()); n != 0 {
		t.Errorf("abandoned dial posted %d results", n)
	}
}

func TestCapture_SupersededDialIsClosed(t *testing.T) {
	c, _, rec, posts := newTestCapture(t)
	c.Start(context.Background())
	waitFor(t, "dial result", func() bool { return len(posts.started()) == 2 })
	stale := posts.started()[1]
	c.Start(context.Background())
	awaitDial(t, c, posts, 2)

	if sig := c.StreamStarted(stale); sig.Kind != SignalNone {
		t.Errorf("superseded dial = %v", sig.Kind)
	}
	if !rec.streams[1].Stopped() {
		t.Error("superseded stream not closed")
	}
	if rec.Last().Stopped() || !c.Running() {
		t.Error("current stream was closed")
	}
}

func TestCapture_RestoreAndFeed(t *testing.T) {
	c, _, rec, _ := newTestCapture(t)
	c.Restore("  earlier answer text ")
	if c.Transcript() != "earlier answer text" {
		t.Errorf("Transcript() = %q", c.Transcript())
	}
	c.Rearm()
	if !c.EndpointArmed() {
		t.Error("Rearm() did not arm for a restored answer")
	}

	if err := c.Feed(make([]byte, 320)); err != nil {
		t.Fatal(err)
	}
	if c.FedBytes() != 320 {
		t.Errorf("FedBytes() = %d, want 320", c.FedBytes())
	}
	c.Stop()
	if err := c.Feed(make([]byte, 320)); err != nil {
		t.Fatal(err)
	}
	if c.FedBytes() != 320 {
		t.Errorf("FedBytes() = %d after Stop, want 320", c.FedBytes())
	}
	if !rec.Last().Stopped() {
		t.Error("stream not stopped")
	}
}
