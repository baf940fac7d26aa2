package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/interviewer/internal/eventlog"
	"github.com/lukasbauer/interviewer/internal/httpapi"
	"github.com/lukasbauer/interviewer/internal/interview"
	"github.com/lukasbauer/interviewer/internal/jobs"
	"github.com/lukasbauer/interviewer/internal/store"
)

type App struct {
	cfg        Config
	interview  interview.Config
	logger     *log.Logger
	db         *pgxpool.Pool
	store      *store.Store
	eventLog   *eventlog.Logger
	httpClient *http.Client // Shared HTTP client with connection pooling for TTS
}

func New(cfg Config, logger *log.Logger) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	icfg, err := cfg.InterviewConfig()
	if err != nil {
		return nil, fmt.Errorf("interview config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Migrations in migrations/ are applied externally before deploy.
	// No automatic migration runner at startup.

	// Keeps TCP connections to ElevenLabs alive across sessions.
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10, // ElevenLabs is single host
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return &App{
		cfg:        cfg,
		interview:  icfg,
		logger:     logger,
		db:         db,
		store:      store.New(db),
		eventLog:   eventlog.New(db),
		httpClient: httpClient,
	}, nil
}

func (a *App) Router(sessions *httpapi.SessionRegistry) http.Handler {
	routerCfg := httpapi.RouterConfig{
		PublicBaseURL:         a.cfg.PublicBaseURL,
		DeepgramAPIKey:        a.cfg.DeepgramAPIKey,
		OpenAIAPIKey:          a.cfg.OpenAIAPIKey,
		ElevenLabsAPIKey:      a.cfg.ElevenLabsAPIKey,
		OpenAIModel:           a.cfg.OpenAIModel,
		OpenAIEvaluationModel: a.cfg.OpenAIEvaluationModel,
		STTModel:              a.cfg.STTModel,
		STTSampleRate:         a.cfg.STTSampleRate,
		TTSModelID:            a.cfg.TTSModelID,
		TTSOutputFormat:       a.cfg.TTSOutputFormat,
		TTSHTTPClient:         a.httpClient,
		Interview:             a.interview,
		JWTSecret:             a.cfg.JWTSecret,
		JWTExpiry:             a.cfg.JWTExpiry,
		JoinTokenExpiry:       a.cfg.JoinTokenExpiry,
		AdminUserIDs:          a.cfg.AdminUserIDs,
		DiscordWebhookURL:     a.cfg.DiscordWebhookURL,
		APNsKeyPath:           a.cfg.APNsKeyPath,
		APNsKeyID:             a.cfg.APNsKeyID,
		APNsTeamID:            a.cfg.APNsTeamID,
		APNsBundleID:          a.cfg.APNsBundleID,
		APNsProduction:        a.cfg.APNsProduction,
	}
	return httpapi.NewRouter(routerCfg, a.logger, a.store, a.eventLog, sessions)
}

// StaleSessionJob returns the job that closes sessions abandoned by a
// previous process. Sessions live in sessions are left alone.
func (a *App) StaleSessionJob(sessions *httpapi.SessionRegistry) *jobs.StaleSessionJob {
	isLive := func(id string) bool {
		_, ok := sessions.Get(id)
		return ok
	}
	return jobs.NewStaleSessionJob(a.store, a.eventLog, isLive, a.logger, a.cfg.StaleSessionInterval, a.cfg.StaleSessionMaxAge)
}

func (a *App) Close() error {
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
