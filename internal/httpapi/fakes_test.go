package httpapi

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/lukasbauer/interviewer/internal/costs"
	"github.com/lukasbauer/interviewer/internal/eventlog"
	"github.com/lukasbauer/interviewer/internal/interview"
	"github.com/lukasbauer/interviewer/internal/llm"
	"github.com/lukasbauer/interviewer/internal/notifications"
	"github.com/lukasbauer/interviewer/internal/store"
)

const testSecret = "test-secret"

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// memStore is an in-memory Store.
type memStore struct {
	mu         sync.Mutex
	interviews map[string]*store.Interview
	sessions   map[string]*store.Session
	turns      map[string][]interview.Turn
	costs      map[string]costs.SessionCosts
	metrics    map[string]costs.SessionMetrics
	devices    []store.OwnerDevice
	nextID     int
}

func newMemStore() *memStore {
	return &memStore{
		interviews: make(map[string]*store.Interview),
		sessions:   make(map[string]*store.Session),
		turns:      make(map[string][]interview.Turn),
		costs:      make(map[string]costs.SessionCosts),
		metrics:    make(map[string]costs.SessionMetrics),
	}
}

func (m *memStore) addInterview(iv store.Interview) *store.Interview {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := iv
	m.interviews[iv.ID] = &cp
	return &cp
}

func (m *memStore) GetInterview(ctx context.Context, id string) (*store.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	iv, ok := m.interviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *iv
	return &cp, nil
}

func (m *memStore) CreateInterview(ctx context.Context, iv store.Interview) (*store.Interview, error) {
	m.mu.Lock()
	m.nextID++
	iv.ID = fmt.Sprintf("iv-%d", m.nextID)
	iv.CreatedAt = time.Now()
	m.mu.Unlock()
	return m.addInterview(iv), nil
}

func (m *memStore) CreateSession(ctx context.Context, interviewID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = &store.Session{ID: sessionID, InterviewID: interviewID, Phase: string(interview.PhaseIdle), StartedAt: time.Now()}
	return nil
}

func (m *memStore) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListSessions(ctx context.Context, interviewID string, limit int) ([]store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Session
	for _, s := range m.sessions {
		if s.InterviewID == interviewID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) ListTurns(ctx context.Context, sessionID string) ([]interview.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interview.Turn(nil), m.turns[sessionID]...), nil
}

func (m *memStore) AppendTurn(ctx context.Context, sessionID string, t interview.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[sessionID] = append(m.turns[sessionID], t)
	return nil
}

func (m *memStore) UpdateSessionPhase(ctx context.Context, sessionID string, phase interview.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	s.Phase = string(phase)
	return nil
}

func (m *memStore) GetQuestionPlanSeed(ctx context.Context, sessionID string) (interview.PlanSeed, error) {
	s, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return interview.PlanSeed{}, err
	}
	iv, err := m.GetInterview(ctx, s.InterviewID)
	if err != nil {
		return interview.PlanSeed{}, err
	}
	return iv.Seed()
}

func (m *memStore) RecordSessionCosts(ctx context.Context, sessionID string, sm costs.SessionMetrics, c costs.SessionCosts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.costs[sessionID] = c
	m.metrics[sessionID] = sm
	return nil
}

func (m *memStore) SaveOwnerDevice(ctx context.Context, ownerID, token string) (*store.OwnerDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if d.OwnerID == ownerID && d.Token == token {
			return &d, nil
		}
	}
	m.nextID++
	d := store.OwnerDevice{ID: fmt.Sprintf("dev-%d", m.nextID), OwnerID: ownerID, Token: token, Platform: store.PlatformIOS, CreatedAt: time.Now()}
	m.devices = append(m.devices, d)
	return &d, nil
}

func (m *memStore) RemoveOwnerDevice(ctx context.Context, ownerID, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropDevices(func(d store.OwnerDevice) bool { return d.OwnerID == ownerID && d.Token == token }), nil
}

func (m *memStore) ForgetDeviceToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropDevices(func(d store.OwnerDevice) bool { return d.Token == token })
	return nil
}

func (m *memStore) dropDevices(match func(store.OwnerDevice) bool) bool {
	kept := m.devices[:0]
	for _, d := range m.devices {
		if !match(d) {
			kept = append(kept, d)
		}
	}
	dropped := len(kept) < len(m.devices)
	m.devices = kept
	return dropped
}

func (m *memStore) ListOwnerDevices(ctx context.Context, ownerID string) ([]store.OwnerDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.OwnerDevice
	for _, d := range m.devices {
		if d.OwnerID == ownerID && d.Platform == store.PlatformIOS {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memStore) InterviewOwnerDevices(ctx context.Context, interviewID string) ([]store.OwnerDevice, error) {
	iv, err := m.GetInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	return m.ListOwnerDevices(ctx, iv.OwnerID)
}

// fakePusher records deliveries; tokens in gone are reported as retired.
type fakePusher struct {
	mu        sync.Mutex
	gone      map[string]bool
	completed []string
	tests     []string
}

func (p *fakePusher) SendInterviewCompleted(token string, s notifications.SessionSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone[token] {
		return fmt.Errorf("%w: Unregistered", notifications.ErrDeviceGone)
	}
	p.completed = append(p.completed, token+" "+s.InterviewID)
	return nil
}

func (p *fakePusher) SendTestNotification(token, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gone[token] {
		return fmt.Errorf("%w: BadDeviceToken", notifications.ErrDeviceGone)
	}
	p.tests = append(p.tests, token)
	return nil
}

func (p *fakePusher) Completed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.completed...)
}

func (m *memStore) sessionPhase(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.Phase
	}
	return ""
}

func (m *memStore) sessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// echoSynth returns the text itself as audio.
type echoSynth struct{}

func (echoSynth) Synthesize(ctx context.Context, text string, voice interview.VoiceProfile) ([]byte, error) {
	return []byte(text), nil
}

type fakeStream struct {
	events chan interview.RecognitionEvent
	once   sync.Once

	mu  sync.Mutex
	fed int
}

func (s *fakeStream) Feed(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fed += len(audio)
	return nil
}

func (s *fakeStream) Events() <-chan interview.RecognitionEvent { return s.events }

func (s *fakeStream) Stop() error {
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeStream) Fed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed
}

func (s *fakeStream) say(text string) {
	defer func() { _ = recover() }()
	s.events <- interview.RecognitionEvent{Kind: interview.RecognitionResult, Text: text, IsFinal: true}
}

type fakeRecognizer struct {
	mu      sync.Mutex
	streams []*fakeStream
}

func (r *fakeRecognizer) Start(ctx context.Context, locale string) (interview.RecognitionStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &fakeStream{events: make(chan interview.RecognitionEvent, 16)}
	r.streams = append(r.streams, st)
	return st, nil
}

func (r *fakeRecognizer) Last() *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.streams) == 0 {
		return nil
	}
	return r.streams[len(r.streams)-1]
}

type fakeLLM struct{}

func (fakeLLM) GenerateReaction(ctx context.Context, req interview.ReactionRequest) (string, error) {
	return "I see.", nil
}

func (fakeLLM) EvaluateSufficiency(ctx context.Context, req interview.EvaluationRequest) (interview.Evaluation, error) {
	return interview.Evaluation{IsSufficient: true, Score: 90}, nil
}

func fakeVoice(rec *fakeRecognizer) VoiceFactory {
	return func() (SessionVoice, error) {
		return SessionVoice{
			Synthesizer: echoSynth{},
			Recognizer:  rec,
			Reactions:   fakeLLM{},
			Evaluator:   fakeLLM{},
			LLMUsage:    func() llm.Usage { return llm.Usage{PromptTokens: 1000, CompletionTokens: 100} },
		}, nil
	}
}

func noVoice() (SessionVoice, error) { return SessionVoice{}, errVoiceNotConfigured }

// testInterviewConfig keeps the engine fast under a real clock.
func testInterviewConfig() interview.Config {
	cfg := interview.DefaultConfig()
	cfg.MicCheckGuard = 0
	cfg.QuestionGuard = 0
	cfg.EndpointSilence = 100 * time.Millisecond
	cfg.MinAnswerRunes = 1
	cfg.Synthesis = interview.RetryPolicy{}
	return cfg
}

func newTestRouter(t *testing.T, st *memStore, voice VoiceFactory) *Router {
	t.Helper()
	cfg := RouterConfig{
		PublicBaseURL:   "https://interviews.example.com",
		Interview:       testInterviewConfig(),
		JWTSecret:       testSecret,
		JWTExpiry:       time.Hour,
		JoinTokenExpiry: time.Hour,
		AdminUserIDs:    []string{"admin-1"},
	}
	return newRouter(cfg, discardLogger(), st, eventlog.New(nil), NewSessionRegistry(), voice)
}

func ownerToken(t *testing.T, userID string) string {
	t.Helper()
	tok, _, err := IssueOwnerToken(testSecret, time.Hour, userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("IssueOwnerToken() error = %v", err)
	}
	return tok
}

func authed(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func sampleInterview(owner string) store.Interview {
	intro := "Hi, thanks for joining."
	closing := "Thanks, that's all."
	return store.Interview{
		ID:            "iv-sample",
		OwnerID:       owner,
		Title:         "Compiler team",
		QuestionsText: "1. What do you work on?",
		IntroText:     &intro,
		ClosingText:   &closing,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
