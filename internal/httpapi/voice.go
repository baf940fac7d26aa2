package httpapi

import (
	"github.com/lukasbauer/interviewer/internal/interview"
	"github.com/lukasbauer/interviewer/internal/llm"
	"github.com/lukasbauer/interviewer/internal/stt"
	"github.com/lukasbauer/interviewer/internal/tts"
)

// SessionVoice is the set of vendor capabilities one session runs on.
type SessionVoice struct {
	Synthesizer interview.Synthesizer
	Recognizer  interview.Recognizer
	Reactions   interview.ReactionGenerator
	Evaluator   interview.SufficiencyEvaluator

	// LLMUsage reports tokens consumed by this session's LLM client.
	LLMUsage func() llm.Usage
}

// VoiceFactory creates the capabilities for a new session.
type VoiceFactory func() (SessionVoice, error)

// vendorVoice builds per-session Deepgram, ElevenLabs and OpenAI clients.
func vendorVoice(cfg RouterConfig) VoiceFactory {
	return func() (SessionVoice, error) {
		if cfg.DeepgramAPIKey == "" || cfg.OpenAIAPIKey == "" || cfg.ElevenLabsAPIKey == "" {
			return SessionVoice{}, errVoiceNotConfigured
		}
		llmClient := llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:          cfg.OpenAIAPIKey,
			Model:           cfg.OpenAIModel,
			EvaluationModel: cfg.OpenAIEvaluationModel,
		})
		return SessionVoice{
			Synthesizer: tts.NewElevenLabsClient(tts.ElevenLabsConfig{
				APIKey:       cfg.ElevenLabsAPIKey,
				VoiceID:      cfg.Interview.Voice.VoiceID,
				ModelID:      cfg.TTSModelID,
				OutputFormat: cfg.TTSOutputFormat,
				Stability:    cfg.Interview.Voice.Stability,
				Similarity:   cfg.Interview.Voice.Similarity,
				HTTPClient:   cfg.TTSHTTPClient,
			}),
			Recognizer: stt.NewDeepgram(stt.DeepgramConfig{
				APIKey:     cfg.DeepgramAPIKey,
				Model:      cfg.STTModel,
				SampleRate: cfg.STTSampleRate,
				Punctuate:  true,
			}),
			Reactions: llmClient,
			Evaluator: llmClient,
			LLMUsage:  llmClient.Usage,
		}, nil
	}
}
