package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/lukasbauer/interviewer/internal/interview"
)

const openaiAPIURL = "https://api.openai.com/v1/chat/completions"

// ErrNoChoices is returned when the API answers without a completion.
var ErrNoChoices = errors.New("no choices in response")

// OpenAIClient generates reactions and evaluates answers using OpenAI's API.
type OpenAIClient struct {
	apiKey          string
	model           string
	evaluationModel string
	baseURL         string
	httpClient      *http.Client
	usage           usageCounter
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey          string
	Model           string // e.g., "gpt-4o-mini"
	EvaluationModel string // defaults to Model
	BaseURL         string // optional, for tests and proxies
	Timeout         time.Duration
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	evalModel := cfg.EvaluationModel
	if evalModel == "" {
		evalModel = model
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openaiAPIURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAIClient{
		apiKey:          cfg.APIKey,
		model:           model,
		evaluationModel: evalModel,
		baseURL:         baseURL,
		httpClient:      &http.Client{Timeout: timeout},
	}
}

// Usage returns the tokens consumed so far.
func (c *OpenAIClient) Usage() Usage {
	return c.usage.snapshot()
}

// chatRequest represents an OpenAI chat completion request.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse represents an OpenAI chat completion response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// GenerateReaction returns a short spoken acknowledgement of the last answer.
func (c *OpenAIClient) GenerateReaction(ctx context.Context, req interview.ReactionRequest) (string, error) {
	content, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: ReactionSystemPrompt(req.Persona)},
			{Role: "user", Content: ReactionUserPrompt(historyText(req.History), req.LastAnswer)},
		},
		Temperature: 0.7,
		MaxTokens:   120,
	})
	if err != nil {
		return "", err
	}
	reaction := cleanReaction(content)
	if reaction == "" {
		return "", fmt.Errorf("empty reaction (content: %s)", content)
	}
	return reaction, nil
}

// EvaluateSufficiency judges whether the conversation covers the question's objective.
func (c *OpenAIClient) EvaluateSufficiency(ctx context.Context, req interview.EvaluationRequest) (interview.Evaluation, error) {
	content, err := c.complete(ctx, chatRequest{
		Model: c.evaluationModel,
		Messages: []chatMessage{
			{Role: "system", Content: evaluationInstructions},
			{Role: "user", Content: EvaluationUserPrompt(req.Question, req.Answer, req.Objective, historyText(req.History), req.RequiredElements)},
		},
		Temperature:    0.2,
		MaxTokens:      400,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return interview.Evaluation{}, err
	}
	ev, angle, err := parseEvaluation(content)
	if err != nil {
		return interview.Evaluation{}, err
	}
	if ev.IsSufficient || ev.FollowUpQuestion != "" || angle == "" || len(req.RequiredElements) > 0 {
		return ev, nil
	}
	// Without a phrased question the answer stays insufficient and the
	// session moves on.
	if q, err := c.phraseFollowUp(ctx, req, angle); err == nil {
		ev.FollowUpQuestion = q
	}
	return ev, nil
}

// phraseFollowUp turns an evaluator's angle hint into one spoken question.
func (c *OpenAIClient) phraseFollowUp(ctx context.Context, req interview.EvaluationRequest, angle string) (string, error) {
	content, err := c.complete(ctx, chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SpeechGuardrails},
			{Role: "user", Content: FollowUpUserPrompt(req.Question, req.Answer, angle, historyText(req.History))},
		},
		Temperature: 0.5,
		MaxTokens:   120,
	})
	if err != nil {
		return "", err
	}
	q := cleanReaction(content)
	if q == "" {
		return "", fmt.Errorf("empty follow-up (content: %s)", content)
	}
	return q, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OpenAI API error: %s - %s", resp.Status, string(respBody))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	c.usage.add(chatResp.Usage.PromptTokens, chatResp.Usage.CompletionTokens)

	if len(chatResp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return chatResp.Choices[0].Message.Content, nil
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// evaluationPayload also accepts the older suggestedAngle key, a hint of
// what to ask about rather than a question.
type evaluationPayload struct {
	interview.Evaluation
	SuggestedAngle string `json:"suggestedAngle"`
}

// parseEvaluation returns the evaluation and, when the model gave no
// follow-up question, its suggested angle.
func parseEvaluation(content string) (interview.Evaluation, string, error) {
	// Handle potential markdown code blocks and chatter around the object.
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	raw := jsonObject.FindString(content)
	if raw == "" {
		return interview.Evaluation{}, "", fmt.Errorf("no JSON object in evaluation (content: %s)", content)
	}

	var p evaluationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return interview.Evaluation{}, "", fmt.Errorf("failed to parse evaluation: %w (content: %s)", err, raw)
	}
	ev := p.Evaluation
	ev.FollowUpQuestion = strings.TrimSpace(ev.FollowUpQuestion)
	var angle string
	if ev.FollowUpQuestion == "" && !ev.IsSufficient {
		angle = strings.TrimSpace(p.SuggestedAngle)
	}
	if ev.Score < 0 {
		ev.Score = 0
	} else if ev.Score > 100 {
		ev.Score = 100
	}
	return ev, angle, nil
}

// cleanReaction keeps the first line that reads as speech.
func cleanReaction(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "【") || strings.HasPrefix(line, "#") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "reaction:") {
			line = strings.TrimSpace(line[len("reaction:"):])
		}
		if strings.Contains(lower, "example output") || strings.Contains(line, "出力例") {
			continue
		}
		line = strings.Trim(line, `"'「」“”`)
		if line != "" {
			return line
		}
	}
	return ""
}
