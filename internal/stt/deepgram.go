package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lukasbauer/interviewer/internal/interview"
)

const deepgramWSURL = "wss://api.deepgram.com/v1/listen"

// keepAliveInterval is below Deepgram's 10 second idle timeout.
const keepAliveInterval = 5 * time.Second

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	APIKey     string
	Model      string // e.g., "nova-2"
	SampleRate int    // e.g., 16000 for browser PCM
	Encoding   string // e.g., "linear16"
	Channels   int    // e.g., 1 for mono
	Punctuate  bool
	BaseURL    string // overrides the listen endpoint, for tests
}

// Deepgram opens streaming recognition sessions. It implements
// interview.Recognizer.
type Deepgram struct {
	cfg    DeepgramConfig
	dialer *websocket.Dialer
}

// NewDeepgram creates a Deepgram recognizer, filling in defaults.
func NewDeepgram(cfg DeepgramConfig) *Deepgram {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = deepgramWSURL
	}
	return &Deepgram{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (d *Deepgram) listenURL(locale string) string {
	q := url.Values{}
	q.Set("model", d.cfg.Model)
	q.Set("encoding", d.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(d.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(d.cfg.Channels))
	q.Set("punctuate", strconv.FormatBool(d.cfg.Punctuate))
	q.Set("interim_results", "true")
	if locale != "" {
		q.Set("language", locale)
	}
	return d.cfg.BaseURL + "?" + q.Encode()
}

// deepgramResponse represents a Deepgram WebSocket response.
type deepgramResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal bool `json:"is_final"`
}

// Start connects a new streaming session for the given locale.
func (d *Deepgram) Start(ctx context.Context, locale string) (interview.RecognitionStream, error) {
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	conn, resp, err := d.dialer.DialContext(ctx, d.listenURL(locale), headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, &interview.RecognitionError{
			Kind: interview.RecognitionNetwork,
			Err:  fmt.Errorf("failed to connect to Deepgram: %w", err),
		}
	}

	s := &deepgramStream{
		conn:   conn,
		events: make(chan interview.RecognitionEvent, 100),
		done:   make(chan struct{}),
	}
	s.wg.Add(2)
	go s.readLoop()
	go s.keepAlive()
	return s, nil
}

// deepgramStream is one live Deepgram connection. Events is closed once
// the read loop has exited.
type deepgramStream struct {
	conn      *websocket.Conn
	events    chan interview.RecognitionEvent
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex // serializes writes
	wg        sync.WaitGroup
}

// Feed sends audio data to Deepgram.
func (s *deepgramStream) Feed(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return errors.New("deepgram: stream is closed")
	default:
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (s *deepgramStream) Events() <-chan interview.RecognitionEvent {
	return s.events
}

// Stop asks Deepgram to flush and closes the connection.
func (s *deepgramStream) Stop() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		_ = s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "CloseStream"}`))
		s.mu.Unlock()

		err = s.conn.Close()
		s.wg.Wait()
	})
	return err
}

func (s *deepgramStream) keepAlive() {
	defer s.wg.Done()
	t := time.NewTicker(keepAliveInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			s.mu.Lock()
			err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "KeepAlive"}`))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *deepgramStream) emit(ev interview.RecognitionEvent) bool {
	select {
	case <-s.done:
		return false
	case s.events <- ev:
		return true
	}
}

// readLoop turns Deepgram responses into recognition events.
func (s *deepgramStream) readLoop() {
	defer s.wg.Done()
	defer close(s.events)

	if !s.emit(interview.RecognitionEvent{Kind: interview.RecognitionStarted}) {
		return
	}
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			s.emit(interview.RecognitionEvent{
				Kind:    interview.RecognitionFailed,
				ErrKind: interview.RecognitionNetwork,
				Err:     fmt.Errorf("read error: %w", err),
			})
			return
		}

		var resp deepgramResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			log.Printf("deepgram: failed to parse response: %v", err)
			continue
		}
		if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
			continue
		}
		text := resp.Channel.Alternatives[0].Transcript
		if text == "" {
			continue
		}
		if !s.emit(interview.RecognitionEvent{
			Kind:    interview.RecognitionResult,
			Text:    text,
			IsFinal: resp.IsFinal,
		}) {
			return
		}
	}
}
