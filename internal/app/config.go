package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lukasbauer/interviewer/internal/interview"
)

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	DatabaseURL   string
	SentryDSN     string
	Environment   string

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
	TTSVoiceID            string  // ElevenLabs voice ID, overrides the interview config file
	TTSStability          float64 // 0.0-1.0, -1 keeps the interview config value
	TTSSimilarity         float64 // 0.0-1.0, -1 keeps the interview config value

	// Interview timing and wording (YAML, optional)
	InterviewConfigPath string

	// JWT Authentication
	JWTSecret       string
	JWTExpiry       time.Duration
	JoinTokenExpiry time.Duration

	// Admin access
	AdminUserIDs []string

	// Graceful shutdown
	DrainTimeout time.Duration

	// Background job closing sessions left open by a crash
	StaleSessionInterval time.Duration
	StaleSessionMaxAge   time.Duration

	// Notifications
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string
	APNsKeyID      string
	APNsTeamID     string
	APNsBundleID   string
	APNsProduction bool
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		SentryDSN:     getenv("SENTRY_DSN", ""),
		Environment:   getenv("ENVIRONMENT", "development"),

		// Voice AI providers
		DeepgramAPIKey:   getenv("DEEPGRAM_API_KEY", ""),
		OpenAIAPIKey:     getenv("OPENAI_API_KEY", ""),
		ElevenLabsAPIKey: getenv("ELEVENLABS_API_KEY", ""),

		// Provider settings
		OpenAIModel:           getenv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIEvaluationModel: getenv("OPENAI_EVALUATION_MODEL", ""),
		STTModel:              getenv("STT_MODEL", "nova-2"),
		STTSampleRate:         getenvIntClamped("STT_SAMPLE_RATE", 16000, 8000, 48000),
		TTSModelID:            getenv("TTS_MODEL_ID", "eleven_multilingual_v2"),
		TTSOutputFormat:       getenv("TTS_OUTPUT_FORMAT", "mp3_44100_128"),
		TTSVoiceID:            getenv("TTS_VOICE_ID", ""),
		TTSStability:          getenvFloatClamped("TTS_STABILITY", -1, -1, 1),
		TTSSimilarity:         getenvFloatClamped("TTS_SIMILARITY", -1, -1, 1),

		InterviewConfigPath: getenv("INTERVIEW_CONFIG_PATH", ""),

		// JWT Authentication
		JWTSecret:       os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry:       getenvDuration("JWT_EXPIRY", 24*time.Hour),
		JoinTokenExpiry: getenvDuration("JOIN_TOKEN_EXPIRY", 72*time.Hour),

		// Admin access
		AdminUserIDs: parseList(os.Getenv("ADMIN_USER_IDS")),

		DrainTimeout: getenvDuration("DRAIN_TIMEOUT", 30*time.Minute),

		StaleSessionInterval: getenvDuration("STALE_SESSION_INTERVAL", 15*time.Minute),
		StaleSessionMaxAge:   getenvDuration("STALE_SESSION_MAX_AGE", 3*time.Hour),

		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),

		APNsKeyPath:    getenv("APNS_KEY_PATH", ""),
		APNsKeyID:      getenv("APNS_KEY_ID", ""),
		APNsTeamID:     getenv("APNS_TEAM_ID", ""),
		APNsBundleID:   getenv("APNS_BUNDLE_ID", ""),
		APNsProduction: getenv("APNS_PRODUCTION", "") == "true",
	}
}

// InterviewConfig loads the interview file, if any, and applies the voice
// overrides from the environment.
func (c Config) InterviewConfig() (interview.Config, error) {
	cfg := interview.DefaultConfig()
	if c.InterviewConfigPath != "" {
		var err error
		if cfg, err = interview.LoadConfigFile(c.InterviewConfigPath); err != nil {
			return cfg, err
		}
	}
	if c.TTSVoiceID != "" {
		cfg.Voice.VoiceID = c.TTSVoiceID
	}
	if c.TTSStability >= 0 {
		cfg.Voice.Stability = c.TTSStability
	}
	if c.TTSSimilarity >= 0 {
		cfg.Voice.Similarity = c.TTSSimilarity
	}
	return cfg, nil
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
