// Package costs provides cost calculation for API usage.
package costs

import (
	"os"
	"strconv"
	"time"
)

// Pricing constants (in cents per unit for precision).
// These are based on 2026 market rates and can be overridden via environment variables.
var (
	// DeepgramCentsPerMinute is the cost per minute for Deepgram Nova streaming STT.
	// Default: $0.0077/min = 0.77 cents/min
	DeepgramCentsPerMinute = getEnvFloat("COST_DEEPGRAM_CENTS_PER_MIN", 0.77)

	// OpenAICentsPerThousandInputTokens is the cost per 1K input tokens for GPT-4o-mini.
	// Default: $0.15/1M = 0.015 cents/1K tokens
	OpenAICentsPerThousandInputTokens = getEnvFloat("COST_OPENAI_INPUT_CENTS_PER_1K", 0.015)

	// OpenAICentsPerThousandOutputTokens is the cost per 1K output tokens for GPT-4o-mini.
	// Default: $0.60/1M = 0.06 cents/1K tokens
	OpenAICentsPerThousandOutputTokens = getEnvFloat("COST_OPENAI_OUTPUT_CENTS_PER_1K", 0.06)

	// ElevenLabsCentsPerThousandChars is the cost per 1K characters for ElevenLabs TTS.
	// Default: $0.18/1K chars = 18 cents/1K chars
	ElevenLabsCentsPerThousandChars = getEnvFloat("COST_ELEVENLABS_CENTS_PER_1K_CHARS", 18.0)
)

// SessionMetrics contains the raw usage of one interview session.
type SessionMetrics struct {
	SessionDurationSeconds int
	STTDurationSeconds     int // Audio streamed to STT
	LLMInputTokens         int
	LLMOutputTokens        int
	TTSCharacters          int
}

// SessionCosts contains the calculated costs for a session in cents.
type SessionCosts struct {
	STTCostCents   int
	LLMCostCents   int
	TTSCostCents   int
	TotalCostCents int
}

// CalculateSessionCosts computes the costs for a session based on usage metrics.
func CalculateSessionCosts(m SessionMetrics) SessionCosts {
	sttMinutes := float64(m.STTDurationSeconds) / 60.0
	sttCents := sttMinutes * DeepgramCentsPerMinute

	// LLM costs: per 1K tokens
	llmInputCents := (float64(m.LLMInputTokens) / 1000.0) * OpenAICentsPerThousandInputTokens
	llmOutputCents := (float64(m.LLMOutputTokens) / 1000.0) * OpenAICentsPerThousandOutputTokens

	// TTS costs: per 1K characters
	ttsCents := (float64(m.TTSCharacters) / 1000.0) * ElevenLabsCentsPerThousandChars

	// Round to nearest cent (we store as integers)
	costs := SessionCosts{
		STTCostCents: roundToInt(sttCents),
		LLMCostCents: roundToInt(llmInputCents + llmOutputCents),
		TTSCostCents: roundToInt(ttsCents),
	}
	costs.TotalCostCents = costs.STTCostCents + costs.LLMCostCents + costs.TTSCostCents

	return costs
}

// AudioDuration converts a count of linear16 mono bytes at sampleRate into a duration.
func AudioDuration(bytes int64, sampleRate int) time.Duration {
	if sampleRate <= 0 || bytes <= 0 {
		return 0
	}
	samples := bytes / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
