package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/interviewer/internal/costs"
	"github.com/lukasbauer/interviewer/internal/eventlog"
	"github.com/lukasbauer/interviewer/internal/interview"
	"github.com/lukasbauer/interviewer/internal/notifications"
	"github.com/lukasbauer/interviewer/internal/store"
)

type RouterConfig struct {
	PublicBaseURL string

	// Voice AI providers
	DeepgramAPIKey   string
	OpenAIAPIKey     string
	ElevenLabsAPIKey string

	// Provider settings
	OpenAIModel           string
	OpenAIEvaluationModel string
	STTModel              string
	STTSampleRate         int
	TTSModelID            string
	TTSOutputFormat       string
	TTSHTTPClient         *http.Client // Shared HTTP client for TTS (connection pooling)

	// Interview timing, wording and default voice
	Interview interview.Config

	// JWT Authentication
	JWTSecret       string
	JWTExpiry       time.Duration
	JoinTokenExpiry time.Duration

	// Admin access (user IDs that have admin privileges)
	AdminUserIDs []string

	// Notifications
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string // Path to .p8 key file
	APNsKeyID      string // Key ID from Apple Developer Portal
	APNsTeamID     string // Team ID from Apple Developer Portal
	APNsBundleID   string // App bundle ID
	APNsProduction bool   // Use production environment
}

// Store is the persistence the HTTP layer needs.
type Store interface {
	interview.Persistence
	GetInterview(ctx context.Context, id string) (*store.Interview, error)
	CreateInterview(ctx context.Context, iv store.Interview) (*store.Interview, error)
	CreateSession(ctx context.Context, interviewID, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	ListSessions(ctx context.Context, interviewID string, limit int) ([]store.Session, error)
	ListTurns(ctx context.Context, sessionID string) ([]interview.Turn, error)
	RecordSessionCosts(ctx context.Context, sessionID string, m costs.SessionMetrics, c costs.SessionCosts) error
	SaveOwnerDevice(ctx context.Context, ownerID, token string) (*store.OwnerDevice, error)
	RemoveOwnerDevice(ctx context.Context, ownerID, token string) (bool, error)
	ForgetDeviceToken(ctx context.Context, token string) error
	ListOwnerDevices(ctx context.Context, ownerID string) ([]store.OwnerDevice, error)
	InterviewOwnerDevices(ctx context.Context, interviewID string) ([]store.OwnerDevice, error)
}

// devicePusher delivers owner notifications; *notifications.APNsClient in production.
type devicePusher interface {
	SendInterviewCompleted(deviceToken string, s notifications.SessionSummary) error
	SendTestNotification(deviceToken, message string) error
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	store    Store
	eventLog *eventlog.Logger
	sessions *SessionRegistry
	voice    VoiceFactory
	discord  *notifications.Discord
	apns     devicePusher
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, logger *log.Logger, s Store, eventLog *eventlog.Logger, sessions *SessionRegistry) http.Handler {
	// Initialize APNs client (may be nil if not configured)
	apnsClient, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		logger.Printf("Warning: APNs client initialization failed: %v", err)
	}

	r := newRouter(cfg, logger, s, eventLog, sessions, vendorVoice(cfg))
	if apnsClient != nil {
		r.apns = apnsClient
	}
	return withSentryRecovery(withCORS(r.mux))
}

func newRouter(cfg RouterConfig, logger *log.Logger, s Store, eventLog *eventlog.Logger, sessions *SessionRegistry, voice VoiceFactory) *Router {
	if sessions == nil {
		sessions = NewSessionRegistry()
	}
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		store:    s,
		eventLog: eventLog,
		sessions: sessions,
		voice:    voice,
		discord:  notifications.NewDiscord(cfg.DiscordWebhookURL, logger),
		mux:      http.NewServeMux(),
	}
	r.routes()
	return r
}

func (r *Router) routes() {
	// Health checks
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)

	// Respondent session socket (join token in query)
	r.mux.HandleFunc("GET /interviews/{id}/ws", r.handleSessionWS)

	// Owner API
	r.mux.HandleFunc("POST /api/interviews", r.withAuth(r.handleCreateInterview))
	r.mux.HandleFunc("GET /api/interviews/{id}", r.withAuth(r.handleGetInterview))
	r.mux.HandleFunc("POST /api/interviews/{id}/join-token", r.withAuth(r.handleCreateJoinToken))
	r.mux.HandleFunc("GET /api/interviews/{id}/sessions", r.withAuth(r.handleListSessions))
	r.mux.HandleFunc("GET /api/sessions/{id}/transcript", r.withAuth(r.handleGetTranscript))

	// Owner devices for completion pushes
	r.mux.HandleFunc("GET /api/push/devices", r.withAuth(r.handleListDevices))
	r.mux.HandleFunc("POST /api/push/register", r.withAuth(r.handleRegisterDevice))
	r.mux.HandleFunc("POST /api/push/unregister", r.withAuth(r.handleUnregisterDevice))
	r.mux.HandleFunc("POST /api/push/test", r.withAuth(r.handleTestPush))

	// Admin
	r.mux.HandleFunc("GET /admin/sessions", r.withAdmin(r.handleAdminListActiveSessions))
	r.mux.HandleFunc("GET /admin/sessions/{id}/events", r.withAdmin(r.handleAdminGetSessionEvents))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(req)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

// captureSessionError reports a failed session to Sentry.
func captureSessionError(sessionID, interviewID string, phase interview.Phase, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", sessionID)
		scope.SetTag("interview_id", interviewID)
		scope.SetTag("phase", string(phase))
		sentry.CaptureException(err)
	})
}
