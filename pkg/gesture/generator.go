package gesture

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
)

const (
	DefaultGeneratorURL   = "https://api.openai.com/v1/chat/completions"
	DefaultGeneratorModel = "gpt-4o-mini"

	generatorPrompt = "You turn sign language glosses into one short, natural English sentence. " +
		"Reply with the sentence only."
)

var ErrEmptyCompletion = errors.New("generator returned no text")

type GeneratorConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		URL:     DefaultGeneratorURL,
		Model:   DefaultGeneratorModel,
		Timeout: 10 * time.Second,
	}
}

// HTTPGenerator asks an OpenAI-compatible chat completions endpoint for a
// sentence.
type HTTPGenerator struct {
	cfg    GeneratorConfig
	client *http.Client
}

func NewHTTPGenerator(cfg GeneratorConfig) *HTTPGenerator {
	if cfg.URL == "" {
		cfg.URL = DefaultGeneratorURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeneratorModel
	}
	return &HTTPGenerator{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (g *HTTPGenerator) GenerateSentence(ctx context.Context, words []string) (string, error) {
	if len(words) == 0 {
		return "", errors.New("no words to generate from")
	}
	body, err := json.Marshal(chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: generatorPrompt},
			{Role: "user", Content: strings.Join(words, " ")},
		},
		Temperature: 0.3,
		MaxTokens:   60,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generator returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := cleanGenerated(out.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}
	return text, nil
}
