package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lukasbauer/interviewer/internal/costs"
	"github.com/lukasbauer/interviewer/internal/eventlog"
	"github.com/lukasbauer/interviewer/internal/interview"
	"github.com/lukasbauer/interviewer/internal/notifications"
	"github.com/lukasbauer/interviewer/internal/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var (
	errVoiceNotConfigured = errors.New("voice AI not configured: missing API keys")
	errConnClosed         = errors.New("session socket closed")
)

const (
	writeWait      = 10 * time.Second
	outboundBuffer = 256
	maxFrameBytes  = 1 << 20
)

// clientMessage is a control message from the respondent's client.
type clientMessage struct {
	Type    string               `json:"type"`
	Mic     *interview.MicStatus `json:"mic,omitempty"`
	Clip    string               `json:"clip,omitempty"`
	Kind    string               `json:"kind,omitempty"`
	Message string               `json:"message,omitempty"`
}

type audioMessage struct {
	Type    string `json:"type"`
	Clip    string `json:"clip"`
	Format  string `json:"format"`
	Payload string `json:"payload"`
}

// clipMessage is a mark or clear for one clip.
type clipMessage struct {
	Type string `json:"type"`
	Clip string `json:"clip"`
}

type cueMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type phaseMessage struct {
	Type  string          `json:"type"`
	From  interview.Phase `json:"from"`
	Phase interview.Phase `json:"phase"`
}

type transcriptMessage struct {
	Type    string `json:"type"`
	Final   string `json:"final"`
	Interim string `json:"interim"`
}

type turnMessage struct {
	Type string         `json:"type"`
	Turn interview.Turn `json:"turn"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type endedMessage struct {
	Type    string          `json:"type"`
	Session string          `json:"session"`
	Phase   interview.Phase `json:"phase"`
}

// sessionConn is one respondent's socket. It is the session's audio sink and
// observer. All writes go through out so that observer calls never block the
// session loop.
type sessionConn struct {
	id          string
	interviewID string
	format      string

	conn      *websocket.Conn
	out       chan any
	ending    chan struct{}
	endOnce   sync.Once
	closed    chan struct{}
	closeOnce sync.Once

	clipsMu sync.Mutex
	clips   map[string]chan struct{}

	logger   *log.Logger
	eventLog *eventlog.Logger
}

func newSessionConn(conn *websocket.Conn, id, interviewID, format string, logger *log.Logger, eventLog *eventlog.Logger) *sessionConn {
	return &sessionConn{
		id:          id,
		interviewID: interviewID,
		format:      format,
		conn:        conn,
		out:         make(chan any, outboundBuffer),
		ending:      make(chan struct{}),
		closed:      make(chan struct{}),
		clips:       make(map[string]chan struct{}),
		logger:      logger,
		eventLog:    eventLog,
	}
}

func (r *Router) handleSessionWS(w http.ResponseWriter, req *http.Request) {
	interviewID := req.PathValue("id")
	if err := r.verifyJoinToken(req.URL.Query().Get("token"), interviewID); err != nil {
		http.Error(w, `{"error": "invalid join token"}`, http.StatusUnauthorized)
		return
	}

	iv, err := r.store.GetInterview(req.Context(), interviewID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, `{"error": "interview not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		r.logger.Printf("session_ws: failed to load interview %s: %v", interviewID, err)
		captureError(req, err, "session_ws: load interview")
		http.Error(w, `{"error": "failed to load interview"}`, http.StatusInternalServerError)
		return
	}

	voice, err := r.voice()
	if err != nil {
		r.logger.Printf("session_ws: %v", err)
		captureError(req, err, "session_ws: configuration error")
		http.Error(w, "voice AI not configured", http.StatusServiceUnavailable)
		return
	}

	if r.sessions.IsDraining() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("session_ws: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sessionID := uuid.NewString()
	ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
	err = r.store.CreateSession(ctx, iv.ID, sessionID)
	cancel()
	if err != nil {
		r.logger.Printf("session_ws: failed to create session: %v", err)
		conn.WriteJSON(errorMessage{Type: "error", Message: "The interview could not be started. Please try again."})
		conn.Close()
		return
	}

	c := newSessionConn(conn, sessionID, iv.ID, audioFormat(r.cfg.TTSOutputFormat), r.logger, r.eventLog)
	sess := interview.NewSession(sessionID, r.cfg.Interview, interview.Deps{
		Synthesizer: voice.Synthesizer,
		Recognizer:  voice.Recognizer,
		Reactions:   voice.Reactions,
		Evaluator:   voice.Evaluator,
		Sink:        c,
		Store:       r.store,
		Observer:    c,
		Logger:      r.logger,
	})
	if !r.sessions.Add(iv.ID, sess) {
		conn.WriteJSON(errorMessage{Type: "error", Message: "The service is restarting. Please try again in a minute."})
		conn.Close()
		return
	}
	defer r.sessions.Done(sessionID)

	r.logger.Printf("session_ws: session %s started for interview %s", sessionID, iv.ID)
	r.runSession(c, sess)
	r.finishSession(iv, sess, voice)
}

// runSession drives the socket until the session ends or the client leaves.
func (r *Router) runSession(c *sessionConn, sess *interview.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.writeLoop()
	go sess.Run(ctx)
	go func() {
		select {
		case <-sess.Done():
			c.send(endedMessage{Type: "ended", Session: sess.ID(), Phase: sess.Phase()})
			c.end()
		case <-c.closed:
		}
	}()

	c.readLoop(sess)

	// The client is gone; a live session is cancelled.
	cancel()
	<-sess.Done()
	c.close()
}

func (c *sessionConn) readLoop(sess *interview.Session) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Printf("session_ws: connection closed for session %s", c.id)
				} else {
					c.logger.Printf("session_ws: read error for session %s: %v", c.id, err)
				}
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.FeedAudio(data); err != nil {
				c.logger.Printf("session_ws: feed error for session %s: %v", c.id, err)
			}
		case websocket.TextMessage:
			c.handleControl(sess, data)
		}
	}
}

func (c *sessionConn) handleControl(sess *interview.Session, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Printf("session_ws: failed to parse message: %v", err)
		return
	}

	switch msg.Type {
	case "start":
		mic := interview.MicStatus{Available: true, Permission: interview.MicGranted}
		if msg.Mic != nil {
			mic = *msg.Mic
		}
		sess.Start(mic)

	case "pause":
		if err := sess.Pause(); err != nil {
			c.logger.Printf("session_ws: pause rejected for session %s: %v", c.id, err)
			c.send(errorMessage{Type: "error", Message: "The interview cannot be paused right now."})
		}

	case "resume":
		if err := sess.Resume(); err != nil {
			c.logger.Printf("session_ws: resume rejected for session %s: %v", c.id, err)
			c.send(errorMessage{Type: "error", Message: "The interview cannot be resumed right now."})
		}

	case "stop":
		sess.Stop()

	case "playback_ended":
		c.clipEnded(msg.Clip)

	case "mic_error":
		detail := msg.Message
		if detail == "" {
			detail = msg.Kind
		}
		sess.ReportMicError(interview.RecognitionErrorKind(msg.Kind), errors.New(detail))

	default:
		c.logger.Printf("session_ws: unknown message type %q", msg.Type)
	}
}

func (c *sessionConn) writeLoop() {
	defer c.close()
	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				c.logger.Printf("session_ws: write error for session %s: %v", c.id, err)
				return
			}
		case <-c.ending:
			// Flush what is queued, then say goodbye.
			for {
				select {
				case msg := <-c.out:
					if err := c.write(msg); err != nil {
						return
					}
				default:
					c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "interview ended"),
						time.Now().Add(time.Second))
					return
				}
			}
		case <-c.closed:
			return
		}
	}
}

func (c *sessionConn) write(msg any) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// send queues msg without blocking. Messages are dropped when the client
// cannot keep up.
func (c *sessionConn) send(msg any) {
	select {
	case c.out <- msg:
	case <-c.closed:
	default:
		c.logger.Printf("session_ws: outbound queue full for session %s, dropping %T", c.id, msg)
	}
}

// sendWait queues msg, waiting for room.
func (c *sessionConn) sendWait(ctx context.Context, msg any) error {
	select {
	case c.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errConnClosed
	}
}

func (c *sessionConn) end() {
	c.endOnce.Do(func() { close(c.ending) })
}

func (c *sessionConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}

// Play sends a clip and waits for the client to report it finished.
func (c *sessionConn) Play(ctx context.Context, clipID string, audio []byte) error {
	done := make(chan struct{})
	c.clipsMu.Lock()
	c.clips[clipID] = done
	c.clipsMu.Unlock()
	defer func() {
		c.clipsMu.Lock()
		delete(c.clips, clipID)
		c.clipsMu.Unlock()
	}()

	err := c.sendWait(ctx, audioMessage{
		Type:    "audio",
		Clip:    clipID,
		Format:  c.format,
		Payload: base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return err
	}
	if err := c.sendWait(ctx, clipMessage{Type: "mark", Clip: clipID}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errConnClosed
	}
}

// Stop tells the client to drop a clip.
func (c *sessionConn) Stop(clipID string) {
	c.send(clipMessage{Type: "clear", Clip: clipID})
}

// Cue asks the client to play a local sound.
func (c *sessionConn) Cue(name string) {
	c.send(cueMessage{Type: "cue", Name: name})
}

func (c *sessionConn) clipEnded(clipID string) {
	c.clipsMu.Lock()
	done, ok := c.clips[clipID]
	if ok {
		delete(c.clips, clipID)
	}
	c.clipsMu.Unlock()
	if ok {
		close(done)
	}
}

func (c *sessionConn) PhaseChanged(from, to interview.Phase) {
	c.send(phaseMessage{Type: "phase", From: from, Phase: to})
	c.eventLog.LogAsync(c.id, eventlog.EventPhaseChanged, map[string]any{"from": string(from), "to": string(to)})
}

func (c *sessionConn) TranscriptUpdated(final, interim string) {
	c.send(transcriptMessage{Type: "transcript", Final: final, Interim: interim})
}

func (c *sessionConn) TurnCommitted(t interview.Turn) {
	c.send(turnMessage{Type: "turn", Turn: t})
	c.eventLog.LogAsync(c.id, eventlog.EventTurnCommitted, map[string]any{
		"sequence":    t.Sequence,
		"role":        string(t.Role),
		"chars":       len([]rune(t.Content)),
		"interrupted": t.Interrupted,
	})
}

func (c *sessionConn) Event(name string, data map[string]any) {
	c.eventLog.LogAsync(c.id, eventlog.EventType(name), data)
}

func (c *sessionConn) UserError(message string) {
	c.send(errorMessage{Type: "error", Message: message})
	c.eventLog.LogAsync(c.id, eventlog.EventUserError, map[string]any{"message": message})
}

// finishSession records costs and sends notifications for an ended session.
func (r *Router) finishSession(iv *store.Interview, sess *interview.Session, voice SessionVoice) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	phase := sess.Phase()
	metrics := r.sessionMetrics(sess, voice)
	sc := costs.CalculateSessionCosts(metrics)
	if err := r.store.RecordSessionCosts(ctx, sess.ID(), metrics, sc); err != nil {
		r.logger.Printf("session_ws: failed to record costs for session %s: %v", sess.ID(), err)
	}

	answers := 0
	for _, t := range sess.Transcript() {
		if t.Role == interview.RoleInterviewee {
			answers++
		}
	}
	summary := notifications.SessionSummary{
		SessionID:   sess.ID(),
		InterviewID: iv.ID,
		Title:       iv.Title,
		Phase:       string(phase),
		Answers:     answers,
		Duration:    time.Duration(metrics.SessionDurationSeconds) * time.Second,
		CostCents:   sc.TotalCostCents,
	}

	data := map[string]any{"phase": string(phase), "answers": answers, "total_cost_cents": sc.TotalCostCents}
	if err := sess.Err(); err != nil {
		summary.Error = err.Error()
		data["error"] = err.Error()
	}
	r.eventLog.LogAsync(sess.ID(), eventlog.EventSessionEnded, data)

	switch phase {
	case interview.PhaseCompleted:
		r.notifyOwner(ctx, summary)
		r.discord.NotifySessionCompleted(context.Background(), summary)
	case interview.PhaseFailed:
		captureSessionError(sess.ID(), iv.ID, phase, sess.Err())
		r.discord.NotifySessionFailed(context.Background(), summary)
	}
	r.logger.Printf("session_ws: session %s ended (%s, %d answers, %d¢)", sess.ID(), phase, answers, sc.TotalCostCents)
}

func (r *Router) sessionMetrics(sess *interview.Session, voice SessionVoice) costs.SessionMetrics {
	usage := sess.Usage()
	sampleRate := r.cfg.STTSampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	m := costs.SessionMetrics{
		STTDurationSeconds: int(costs.AudioDuration(usage.AudioBytes, sampleRate).Seconds()),
		TTSCharacters:      int(usage.SynthesizedChars),
	}
	if !usage.StartedAt.IsZero() && usage.EndedAt.After(usage.StartedAt) {
		m.SessionDurationSeconds = int(usage.EndedAt.Sub(usage.StartedAt).Seconds())
	}
	if voice.LLMUsage != nil {
		u := voice.LLMUsage()
		m.LLMInputTokens = int(u.PromptTokens)
		m.LLMOutputTokens = int(u.CompletionTokens)
	}
	return m
}

// notifyOwner pushes a completion notice to the interview owner's devices.
func (r *Router) notifyOwner(ctx context.Context, summary notifications.SessionSummary) {
	if r.apns == nil {
		return
	}
	devices, err := r.store.InterviewOwnerDevices(ctx, summary.InterviewID)
	if err != nil {
		r.logger.Printf("session_ws: failed to load owner devices: %v", err)
		return
	}
	r.pushToDevices(ctx, devices, func(token string) error {
		return r.apns.SendInterviewCompleted(token, summary)
	})
}

// audioFormat maps an ElevenLabs output format to the client's codec name.
func audioFormat(outputFormat string) string {
	switch {
	case strings.HasPrefix(outputFormat, "pcm"):
		return "pcm"
	case strings.HasPrefix(outputFormat, "ulaw"):
		return "ulaw"
	default:
		return "mp3"
	}
}
