package interview

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"
)

// CaptureMode tells the capture controller what recognition results mean
// in the current phase.
type CaptureMode int

const (
	// CaptureIgnore drops results.
	CaptureIgnore CaptureMode = iota
	// CaptureMonitor watches for barge-in while a question is playing.
	CaptureMonitor
	// CaptureListen accumulates an answer and runs endpoint detection.
	CaptureListen
	// CaptureMicCheck waits for any short reply.
	CaptureMicCheck
)

type SignalKind int

const (
	SignalNone SignalKind = iota
	// SignalTranscript means the live transcript changed.
	SignalTranscript
	SignalBargeIn
	// SignalReply is a final result during a mic check.
	SignalReply
	// SignalFatal carries an error that ends the session.
	SignalFatal
	// SignalUnavailable means recognition failed and no restart is left.
	SignalUnavailable
)

type CaptureSignal struct {
	Kind SignalKind
	Err  error
}

// EndpointTimer is the single live silence timer of a listening period.
type EndpointTimer struct {
	id    uint64
	timer Timer
}

type CaptureConfig struct {
	Locale          string
	EndpointSilence time.Duration
	MinAnswerRunes  int
	BargeInMinRunes int
	Restart         RetryPolicy
}

// SpeechCaptureController wraps continuous recognition: guard windows,
// answer accumulation, endpointing, barge-in and restarts. Apart from Feed
// its methods are called from the session loop only.
type SpeechCaptureController struct {
	recognizer Recognizer
	clock      Clock
	cfg        CaptureConfig
	post       func(event)
	logger     *log.Logger

	feedMu   sync.Mutex
	stream   RecognitionStream
	streamID uint64
	fedBytes int64

	dialToken  uint64
	dialCancel context.CancelFunc

	guardHeld   bool
	guardUntil  time.Time
	finals      []string
	interim     string
	endpoint    *EndpointTimer
	endpointSeq uint64
	bargeInFor  uint64

	restart      Timer
	restartToken uint64
	retry        RetryPolicy
}

func NewSpeechCaptureController(rec Recognizer, clock Clock, cfg CaptureConfig, post func(event), logger *log.Logger) *SpeechCaptureController {
	return &SpeechCaptureController{
		recognizer: rec,
		clock:      clock,
		cfg:        cfg,
		post:       post,
		logger:     logger,
		retry:      cfg.Restart,
	}
}

// Start dials a new recognition stream in the background, stopping any
// previous one first. The result comes back to the session loop as a
// streamStartedEvent and must be passed to StreamStarted.
func (c *SpeechCaptureController) Start(ctx context.Context) {
	c.stopStream()
	c.cancelRestart()

	c.dialToken++
	token := c.dialToken
	dctx, cancel := context.WithCancel(ctx)
	c.dialCancel = cancel
	go func() {
		st, err := c.recognizer.Start(dctx, c.cfg.Locale)
		if dctx.Err() != nil {
			// Abandoned by stopStream while dialing.
			if st != nil {
				st.Stop()
			}
			return
		}
		c.post(streamStartedEvent{token: token, stream: st, err: err})
	}()
}

// StreamStarted installs a dialed stream. Results of superseded dials are
// closed and dropped. A permission error is fatal; other failures spend a
// restart attempt.
func (c *SpeechCaptureController) StreamStarted(e streamStartedEvent) CaptureSignal {
	if c.dialCancel == nil || e.token != c.dialToken {
		if e.stream != nil {
			if err := e.stream.Stop(); err != nil {
				c.logger.Printf("interview: recognizer stop: %v", err)
			}
		}
		return CaptureSignal{}
	}
	c.dialCancel()
	c.dialCancel = nil

	if e.err != nil {
		if errors.Is(e.err, ErrPermissionDenied) {
			return CaptureSignal{Kind: SignalFatal, Err: e.err}
		}
		c.logger.Printf("interview: recognizer start failed: %v", e.err)
		if !c.retryLater() {
			return CaptureSignal{Kind: SignalUnavailable, Err: &RecognitionError{Kind: RecognitionNetwork, Err: e.err}}
		}
		return CaptureSignal{}
	}

	st := e.stream
	c.feedMu.Lock()
	c.streamID++
	id := c.streamID
	c.stream = st
	c.feedMu.Unlock()

	go func() {
		for ev := range st.Events() {
			c.post(recognitionEvent{stream: id, ev: ev})
		}
		c.post(recognitionEvent{stream: id, ev: RecognitionEvent{Kind: RecognitionEnded}})
	}()
	return CaptureSignal{}
}

// EnsureRunning starts recognition unless a stream, dial or restart is
// pending.
func (c *SpeechCaptureController) EnsureRunning(ctx context.Context) {
	if c.Running() || c.restart != nil {
		return
	}
	c.Start(ctx)
}

// Stop ends recognition and cancels its timers. The accumulated answer is kept.
func (c *SpeechCaptureController) Stop() {
	c.stopStream()
	c.cancelEndpoint()
	c.cancelRestart()
}

// Running reports whether a recognition stream is open or being dialed.
func (c *SpeechCaptureController) Running() bool {
	if c.dialCancel != nil {
		return true
	}
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	return c.stream != nil
}

// Feed forwards microphone audio to the open stream. Safe for concurrent use.
func (c *SpeechCaptureController) Feed(audio []byte) error {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	if c.stream == nil {
		return nil
	}
	c.fedBytes += int64(len(audio))
	return c.stream.Feed(audio)
}

// FedBytes returns the number of audio bytes sent to recognition.
func (c *SpeechCaptureController) FedBytes() int64 {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	return c.fedBytes
}

// HoldGuard ignores results until OpenGuard is called. It covers a prompt
// that is still being synthesized. With reset the previous answer is
// discarded.
func (c *SpeechCaptureController) HoldGuard(reset bool) {
	c.guardHeld = true
	if reset {
		c.ResetBuffer()
	}
}

// OpenGuard ends a hold and ignores results for guard from now. It is
// called when the prompt audio starts playing.
func (c *SpeechCaptureController) OpenGuard(guard time.Duration) {
	c.guardHeld = false
	c.guardUntil = c.clock.Now().Add(guard)
}

// Guarded reports whether results are currently ignored.
func (c *SpeechCaptureController) Guarded() bool {
	return c.guardHeld || c.clock.Now().Before(c.guardUntil)
}

func (c *SpeechCaptureController) ResetBuffer() {
	c.finals = nil
	c.interim = ""
	c.cancelEndpoint()
}

// Restore replaces the buffer with an answer that was taken for processing
// and then interrupted by a pause.
func (c *SpeechCaptureController) Restore(text string) {
	c.ResetBuffer()
	if text = strings.TrimSpace(text); text != "" {
		c.finals = []string{text}
	}
}

// Transcript returns the accumulated final text.
func (c *SpeechCaptureController) Transcript() string {
	return strings.TrimSpace(strings.Join(c.finals, " "))
}

// Interim returns the latest unconfirmed text, for display only.
func (c *SpeechCaptureController) Interim() string {
	return c.interim
}

// Rearm restarts the endpoint timer if the accumulated answer is long enough.
func (c *SpeechCaptureController) Rearm() {
	if runeLen(c.Transcript()) >= c.cfg.MinAnswerRunes {
		c.armEndpoint()
	}
}

// EndpointArmed reports whether a silence timer is live.
func (c *SpeechCaptureController) EndpointArmed() bool {
	return c.endpoint != nil
}

// EndpointFired consumes the timer with the given id. It returns true at
// most once per armed timer.
func (c *SpeechCaptureController) EndpointFired(id uint64) bool {
	if c.endpoint == nil || c.endpoint.id != id {
		return false
	}
	c.endpoint = nil
	return true
}

// RestartDue handles a scheduled restart and reports whether a new dial
// began. allowed is false when the current phase does not listen.
func (c *SpeechCaptureController) RestartDue(ctx context.Context, token uint64, allowed bool) bool {
	if c.restart == nil || token != c.restartToken {
		return false
	}
	c.restart = nil
	if !allowed {
		return false
	}
	c.Start(ctx)
	return true
}

// HandleEvent interprets one recognizer event. handle is the ID of the
// playback handle being monitored for barge-in.
func (c *SpeechCaptureController) HandleEvent(stream uint64, ev RecognitionEvent, mode CaptureMode, handle uint64) CaptureSignal {
	if stream != c.currentStream() {
		return CaptureSignal{}
	}

	switch ev.Kind {
	case RecognitionEnded:
		c.feedMu.Lock()
		c.stream = nil
		c.feedMu.Unlock()
		if mode != CaptureIgnore {
			c.scheduleRestart(c.cfg.Restart.Delay)
		}
		return CaptureSignal{}

	case RecognitionFailed:
		return c.handleError(ev)

	case RecognitionResult:
		return c.handleResult(ev, mode, handle)
	}
	return CaptureSignal{}
}

func (c *SpeechCaptureController) handleError(ev RecognitionEvent) CaptureSignal {
	switch ev.ErrKind {
	case RecognitionNoSpeech, RecognitionAborted:
		return CaptureSignal{}
	case RecognitionPermissionDenied:
		c.Stop()
		return CaptureSignal{Kind: SignalFatal, Err: &RecognitionError{Kind: ev.ErrKind, Err: ev.Err}}
	}
	c.logger.Printf("interview: recognition error (%s): %v", ev.ErrKind, ev.Err)
	if !c.retryLater() {
		c.stopStream()
		return CaptureSignal{Kind: SignalUnavailable, Err: &RecognitionError{Kind: ev.ErrKind, Err: ev.Err}}
	}
	return CaptureSignal{}
}

func (c *SpeechCaptureController) handleResult(ev RecognitionEvent, mode CaptureMode, handle uint64) CaptureSignal {
	text := strings.TrimSpace(ev.Text)
	if text == "" || mode == CaptureIgnore || c.Guarded() {
		return CaptureSignal{}
	}
	c.retry.Reset()

	switch mode {
	case CaptureMonitor:
		if runeLen(text) < c.cfg.BargeInMinRunes || c.bargeInFor == handle {
			return CaptureSignal{}
		}
		c.bargeInFor = handle
		c.addResult(text, ev.IsFinal)
		return CaptureSignal{Kind: SignalBargeIn}

	case CaptureListen:
		c.addResult(text, ev.IsFinal)
		return CaptureSignal{Kind: SignalTranscript}

	case CaptureMicCheck:
		if ev.IsFinal {
			return CaptureSignal{Kind: SignalReply}
		}
		c.interim = text
		return CaptureSignal{Kind: SignalTranscript}
	}
	return CaptureSignal{}
}

func (c *SpeechCaptureController) addResult(text string, final bool) {
	if !final {
		c.interim = text
		return
	}
	c.finals = append(c.finals, text)
	c.interim = ""
	if runeLen(c.Transcript()) >= c.cfg.MinAnswerRunes {
		c.armEndpoint()
	}
}

func (c *SpeechCaptureController) armEndpoint() {
	c.cancelEndpoint()
	c.endpointSeq++
	id := c.endpointSeq
	c.endpoint = &EndpointTimer{
		id: id,
		timer: c.clock.AfterFunc(c.cfg.EndpointSilence, func() {
			c.post(endpointEvent{id: id})
		}),
	}
}

func (c *SpeechCaptureController) cancelEndpoint() {
	if c.endpoint != nil {
		c.endpoint.timer.Stop()
		c.endpoint = nil
	}
}

// retryLater spends one restart attempt. It returns false when none is left.
func (c *SpeechCaptureController) retryLater() bool {
	delay, ok := c.retry.Next()
	if !ok {
		return false
	}
	c.stopStream()
	c.scheduleRestart(delay)
	return true
}

// scheduleRestart keeps at most one restart pending.
func (c *SpeechCaptureController) scheduleRestart(delay time.Duration) {
	if c.restart != nil {
		return
	}
	c.restartToken++
	token := c.restartToken
	c.restart = c.clock.AfterFunc(delay, func() {
		c.post(restartEvent{token: token})
	})
}

func (c *SpeechCaptureController) cancelRestart() {
	if c.restart != nil {
		c.restart.Stop()
		c.restart = nil
	}
}

func (c *SpeechCaptureController) currentStream() uint64 {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	return c.streamID
}

// stopStream closes the open stream, abandons a dial in flight and
// invalidates pending events of both.
func (c *SpeechCaptureController) stopStream() {
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.dialToken++

	c.feedMu.Lock()
	st := c.stream
	c.stream = nil
	c.streamID++
	c.feedMu.Unlock()
	if st != nil {
		if err := st.Stop(); err != nil {
			c.logger.Printf("interview: recognizer stop: %v", err)
		}
	}
}
