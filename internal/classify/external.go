package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/config"
	"github.com/AkhileshMalthi/modern-sentiment-analysis-platform/internal/models"
)

const (
	maxPromptChars = 2000

	// External APIs rarely return a calibrated confidence; record a fixed one
	externalConfidence = 0.85
)

// ExternalConfig configures the OpenAI-compatible external classifier
type ExternalConfig struct {
	APIURL  string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// LoadExternalConfig reads the external classifier settings from the environment
func LoadExternalConfig() ExternalConfig {
	return ExternalConfig{
		APIURL:  config.GetEnv("LLM_API_URL", "https://api.groq.com/openai/v1"),
		APIKey:  config.GetEnv("LLM_API_KEY", ""),
		Model:   config.GetEnv("LLM_MODEL", "llama-3.1-8b-instant"),
		Timeout: config.GetEnvDuration("LLM_TIMEOUT", 30*time.Second),
	}
}

// ExternalClassifier calls an OpenAI-compatible chat completions endpoint.
// One Classify call issues exactly one HTTP request covering both the
// sentiment label and the emotion.
type ExternalClassifier struct {
	client *http.Client
	apiKey string
	apiURL string
	model  string
}

// NewExternalClassifier creates the external fallback classifier
func NewExternalClassifier(cfg ExternalConfig) *ExternalClassifier {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ExternalClassifier{
		client: &http.Client{Timeout: timeout},
		apiKey: cfg.APIKey,
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		model:  cfg.Model,
	}
}

func (e *ExternalClassifier) Name() string {
	return e.model
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the text to the external model and parses the labels out of
// its reply.
func (e *ExternalClassifier) Classify(ctx context.Context, text string) (Result, error) {
	if e.apiKey == "" {
		return Result{}, errors.New("external classifier: LLM_API_KEY not configured")
	}
	if e.model == "" {
		return Result{}, errors.New("external classifier: model is required")
	}

	if len(text) > maxPromptChars {
		cut := maxPromptChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	reqBody := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: "You are a precise text analysis assistant. Respond with only the requested classification labels in lowercase.",
			},
			{
				Role: "user",
				Content: "Classify the sentiment of the following text as 'positive', 'negative', or 'neutral', " +
					"and the primary emotion as one of 'joy', 'anger', 'sadness', 'fear', 'surprise', or 'neutral'. " +
					"Respond as '<sentiment>, <emotion>':\n\n" + text,
			},
		},
		Temperature: 0.3,
		MaxTokens:   50,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("external classifier: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("external classifier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("external classifier: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("external classifier: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("external classifier: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, errors.New("external classifier: empty response")
	}

	content := strings.ToLower(strings.TrimSpace(parsed.Choices[0].Message.Content))

	return Result{
		SentimentLabel:  parseSentiment(content),
		ConfidenceScore: externalConfidence,
		Emotion:         parseEmotion(content),
		ModelName:       e.model,
	}, nil
}

func parseSentiment(content string) string {
	switch {
	case strings.Contains(content, models.SentimentPositive):
		return models.SentimentPositive
	case strings.Contains(content, models.SentimentNegative):
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func parseEmotion(content string) string {
	for _, emotion := range []string{
		models.EmotionJoy,
		models.EmotionAnger,
		models.EmotionSadness,
		models.EmotionFear,
		models.EmotionSurprise,
	} {
		if strings.Contains(content, emotion) {
			return emotion
		}
	}
	return models.EmotionNeutral
}
