package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lukasbauer/interviewer/internal/interview"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1/text-to-speech"

// ElevenLabsClient synthesizes interviewer speech with the ElevenLabs REST API.
// It implements interview.Synthesizer.
type ElevenLabsClient struct {
	apiKey       string
	baseURL      string
	voiceID      string
	modelID      string
	outputFormat string
	stability    float64
	similarity   float64
	httpClient   *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey       string
	VoiceID      string  // ElevenLabs voice ID
	ModelID      string  // e.g., "eleven_multilingual_v2"
	OutputFormat string  // e.g., "mp3_44100_128" for browser playback
	Stability    float64 // 0.0-1.0, -1 for default
	Similarity   float64 // 0.0-1.0, -1 for default
	BaseURL      string  // overrides the API endpoint, for tests

	// HTTPClient is shared across sessions to reuse connections. Optional.
	HTTPClient *http.Client
}

// APIError is a non-200 response from ElevenLabs.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ElevenLabs API error: %d - %s", e.StatusCode, e.Body)
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel - default voice
	}
	format := cfg.OutputFormat
	if format == "" {
		format = "mp3_44100_128"
	}
	stability := cfg.Stability
	if stability < 0 {
		stability = 0.5
	}
	similarity := cfg.Similarity
	if similarity < 0 {
		similarity = 0.75
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsAPIURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ElevenLabsClient{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		voiceID:      voiceID,
		modelID:      modelID,
		outputFormat: format,
		stability:    stability,
		similarity:   similarity,
		httpClient:   httpClient,
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// settings merges a per-interview voice profile over the client defaults.
// Negative profile values mean "not set".
func (c *ElevenLabsClient) settings(voice interview.VoiceProfile) (string, voiceSettings) {
	id := c.voiceID
	if voice.VoiceID != "" {
		id = voice.VoiceID
	}
	vs := voiceSettings{Stability: c.stability, SimilarityBoost: c.similarity}
	if voice.Stability >= 0 && voice.Stability <= 1 {
		vs.Stability = voice.Stability
	}
	if voice.Similarity >= 0 && voice.Similarity <= 1 {
		vs.SimilarityBoost = voice.Similarity
	}
	return id, vs
}

// Synthesize converts text to speech and returns the encoded audio.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string, voice interview.VoiceProfile) ([]byte, error) {
	voiceID, vs := c.settings(voice)
	url := fmt.Sprintf("%s/%s?output_format=%s", c.baseURL, voiceID, c.outputFormat)

	body, err := json.Marshal(ttsRequest{
		Text:          text,
		ModelID:       c.modelID,
		VoiceSettings: vs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("ElevenLabs returned no audio")
	}
	return audio, nil
}
