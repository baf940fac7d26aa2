package interview

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the timing and wording knobs of a session.
type Config struct {
	Locale string       `yaml:"locale"`
	Voice  VoiceProfile `yaml:"voice"`

	MicCheckPrompt string `yaml:"mic_check_prompt"`
	ClosingText    string `yaml:"closing_text"`

	// Results are ignored for this long after a prompt starts playing.
	MicCheckGuard time.Duration `yaml:"mic_check_guard"`
	QuestionGuard time.Duration `yaml:"question_guard"`

	// MinAnswerRunes is the floor below which no endpoint fires. It holds
	// for repeat requests too: a bare "もう一度" (4 runes) under the
	// default of 10 waits for more speech, while "もう一度お願いします"
	// reaches the floor and matches.
	EndpointSilence time.Duration `yaml:"endpoint_silence"`
	MinAnswerRunes  int           `yaml:"min_answer_runes"`
	BargeInMinRunes int           `yaml:"barge_in_min_runes"`

	MicCheckTimeout     time.Duration `yaml:"mic_check_timeout"`
	MicCheckMaxFailures int           `yaml:"mic_check_max_failures"`

	RecognitionRestart RetryPolicy `yaml:"recognition_restart"`
	Synthesis          RetryPolicy `yaml:"synthesis_retry"`

	SeedTimeout       time.Duration `yaml:"seed_timeout"`
	ReactionTimeout   time.Duration `yaml:"reaction_timeout"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
	ConditionTimeout  time.Duration `yaml:"condition_timeout"`

	MaxFollowUpsPerQuestion int `yaml:"max_follow_ups_per_question"`

	// RepeatPhrases are matched as substrings of the normalized answer,
	// once the answer has passed MinAnswerRunes.
	RepeatPhrases []string `yaml:"repeat_phrases"`
	KnockCue      string   `yaml:"knock_cue"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Locale:         "en-US",
		Voice:          VoiceProfile{Stability: -1, Similarity: -1},
		MicCheckPrompt: "Before we begin, let's check your microphone. Please say a few words, for example your name.",
		ClosingText:    "That's all of my questions. Thank you very much for your time today.",

		MicCheckGuard: 500 * time.Millisecond,
		QuestionGuard: 3 * time.Second,

		EndpointSilence: 3 * time.Second,
		MinAnswerRunes:  10,
		BargeInMinRunes: 2,

		MicCheckTimeout:     8 * time.Second,
		MicCheckMaxFailures: 3,

		RecognitionRestart: RetryPolicy{MaxAttempts: 1, Delay: time.Second},
		Synthesis:          RetryPolicy{MaxAttempts: 2, Delay: 300 * time.Millisecond, Backoff: 2},

		SeedTimeout:       10 * time.Second,
		ReactionTimeout:   3 * time.Second,
		EvaluationTimeout: 15 * time.Second,
		ConditionTimeout:  10 * time.Second,

		MaxFollowUpsPerQuestion: 2,
		RepeatPhrases:           DefaultRepeatPhrases,
		KnockCue:                "knock",
	}
}

// LoadConfigFile overlays a YAML file on DefaultConfig. Durations are
// written as Go duration strings ("3s", "500ms").
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read interview config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse interview config %s: %w", path, err)
	}
	return cfg.normalized(), nil
}

// normalized replaces out-of-range values with defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.EndpointSilence <= 0 {
		c.EndpointSilence = d.EndpointSilence
	}
	if c.MinAnswerRunes < 1 {
		c.MinAnswerRunes = 1
	}
	if c.BargeInMinRunes < 1 {
		c.BargeInMinRunes = 1
	}
	if c.MicCheckTimeout <= 0 {
		c.MicCheckTimeout = d.MicCheckTimeout
	}
	if c.MicCheckMaxFailures < 1 {
		c.MicCheckMaxFailures = d.MicCheckMaxFailures
	}
	if c.MicCheckGuard < 0 {
		c.MicCheckGuard = 0
	}
	if c.QuestionGuard < 0 {
		c.QuestionGuard = 0
	}
	if c.MaxFollowUpsPerQuestion < 0 {
		c.MaxFollowUpsPerQuestion = 0
	}
	if len(c.RepeatPhrases) == 0 {
		c.RepeatPhrases = d.RepeatPhrases
	}
	return c
}
