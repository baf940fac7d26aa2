package interview

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type PlaybackOutcome int

const (
	PlaybackCompleted PlaybackOutcome = iota
	PlaybackCancelled
	PlaybackFailed
)

func (o PlaybackOutcome) String() string {
	switch o {
	case PlaybackCompleted:
		return "completed"
	case PlaybackCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// PlaybackResult is the single outcome of a PlaybackHandle.
type PlaybackResult struct {
	Outcome PlaybackOutcome
	Err     error
}

// PlaybackHandle owns the one clip that may be audible. It yields exactly
// one result on Done.
type PlaybackHandle struct {
	id     uint64
	clipID string
	text   string
	cancel context.CancelFunc
	sink   AudioSink

	startOnce sync.Once
	started   chan struct{}

	once sync.Once
	done chan PlaybackResult
}

func (h *PlaybackHandle) ID() uint64     { return h.id }
func (h *PlaybackHandle) ClipID() string { return h.clipID }
func (h *PlaybackHandle) Text() string   { return h.text }

// Started is closed when the audio is handed to the sink. It stays open
// if the handle ends before that.
func (h *PlaybackHandle) Started() <-chan struct{} { return h.started }

func (h *PlaybackHandle) markStarted() {
	h.startOnce.Do(func() { close(h.started) })
}

// Done delivers the outcome once.
func (h *PlaybackHandle) Done() <-chan PlaybackResult { return h.done }

// Cancel stops the clip. It is a no-op after the handle has finished.
func (h *PlaybackHandle) Cancel() {
	h.finish(PlaybackResult{Outcome: PlaybackCancelled})
}

// finish records the outcome. The first call wins.
func (h *PlaybackHandle) finish(r PlaybackResult) bool {
	won := false
	h.once.Do(func() {
		won = true
		h.cancel()
		if r.Outcome == PlaybackCancelled {
			h.sink.Stop(h.clipID)
		}
		h.done <- r
		close(h.done)
	})
	return won
}

// PlaybackController synthesizes and plays interviewer speech, one clip at
// a time.
type PlaybackController struct {
	synth  Synthesizer
	sink   AudioSink
	voice  VoiceProfile
	retry  RetryPolicy
	logger *log.Logger

	mu      sync.Mutex
	current *PlaybackHandle
	nextID  uint64

	// Characters sent to the synthesizer, for cost accounting.
	chars atomic.Int64
}

func NewPlaybackController(synth Synthesizer, sink AudioSink, voice VoiceProfile, retry RetryPolicy, logger *log.Logger) *PlaybackController {
	return &PlaybackController{
		synth:  synth,
		sink:   sink,
		voice:  voice,
		retry:  retry,
		logger: logger,
	}
}

// Play cancels any open handle and starts synthesizing and playing text.
func (c *PlaybackController) Play(ctx context.Context, text string) *PlaybackHandle {
	c.mu.Lock()
	if c.current != nil {
		c.current.Cancel()
	}
	c.nextID++
	pctx, cancel := context.WithCancel(ctx)
	h := &PlaybackHandle{
		id:      c.nextID,
		clipID:  uuid.NewString(),
		text:    text,
		cancel:  cancel,
		sink:    c.sink,
		started: make(chan struct{}),
		done:    make(chan PlaybackResult, 1),
	}
	c.current = h
	c.mu.Unlock()

	go c.run(pctx, h)
	return h
}

// Stop cancels the open handle, if any.
func (c *PlaybackController) Stop() {
	c.mu.Lock()
	h := c.current
	c.current = nil
	c.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// Active reports whether a handle is open and unfinished.
func (c *PlaybackController) Active() bool {
	c.mu.Lock()
	h := c.current
	c.mu.Unlock()
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// SynthesizedChars returns the number of characters sent for synthesis.
func (c *PlaybackController) SynthesizedChars() int64 {
	return c.chars.Load()
}

func (c *PlaybackController) run(ctx context.Context, h *PlaybackHandle) {
	defer c.release(h)

	var audio []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		c.chars.Add(int64(len([]rune(h.text))))
		var err error
		audio, err = c.synth.Synthesize(ctx, h.text, c.voice)
		return err
	})
	if ctx.Err() != nil {
		h.finish(PlaybackResult{Outcome: PlaybackCancelled})
		return
	}
	if err != nil {
		c.logger.Printf("interview: synthesis failed for clip %s: %v", h.clipID, err)
		h.finish(PlaybackResult{
			Outcome: PlaybackFailed,
			Err:     &SynthesisError{TextLength: len([]rune(h.text)), Err: err},
		})
		return
	}

	h.markStarted()
	err = c.sink.Play(ctx, h.clipID, audio)
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		h.finish(PlaybackResult{Outcome: PlaybackCancelled})
	case err != nil:
		c.logger.Printf("interview: playback failed for clip %s: %v", h.clipID, err)
		h.finish(PlaybackResult{Outcome: PlaybackFailed, Err: err})
	default:
		h.finish(PlaybackResult{Outcome: PlaybackCompleted})
	}
}

func (c *PlaybackController) release(h *PlaybackHandle) {
	c.mu.Lock()
	if c.current == h {
		c.current = nil
	}
	c.mu.Unlock()
}
