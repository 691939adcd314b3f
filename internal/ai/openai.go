package ai

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

	"github.com/suPer8Hu/intelliavatar/internal/common"
)

const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultGroqModel  = "llama-3.1-8b-instant"
)

// ChatSummarizer summarizes through any OpenAI-compatible chat completions
// endpoint (Groq, OpenRouter).
type ChatSummarizer struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Client      *http.Client
}

type chatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type chatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewChatSummarizer(baseURL, apiKey, model string) *ChatSummarizer {
	if baseURL == "" {
		baseURL = GroqBaseURL
	}
	if model == "" {
		model = DefaultGroqModel
	}
	return &ChatSummarizer{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		MaxTokens:   200,
		Temperature: 0.3,
		Client:      &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *ChatSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	if p.Client == nil {
		return "", errors.New("summarizer: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", ErrNoCredentials
	}

	b, err := json.Marshal(chatReq{
		Model:       p.Model,
		Messages:    summaryMessages(text),
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", common.Collaborator("summarizer", "chat", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		return "", &common.CollaboratorError{
			Service: "summarizer", Op: "chat", StatusCode: resp.StatusCode,
			Err: errors.New(strings.TrimSpace(string(body))),
		}
	}

	var decoded chatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", common.Collaborator("summarizer", "chat", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", common.Collaborator("summarizer", "chat", errors.New(decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return "", common.Collaborator("summarizer", "chat", errors.New("empty response"))
	}
	return decoded.Choices[0].Message.Content, nil
}
