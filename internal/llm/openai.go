package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI-compatible chat completions wire
// format, which the AI gateway fronts for every model tier.
type OpenAIProvider struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

func NewOpenAIProvider(apiKey, apiBase string, timeout time.Duration) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		apiKey:  apiKey,
		apiBase: strings.TrimRight(apiBase, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	body := chatRequest{Model: req.Model, Messages: messages, Temperature: req.Temperature}

	return retryDo(ctx, func() (string, error) {
		data, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("provider: marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/chat/completions", bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("provider: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("provider: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			return "", &HTTPError{
				Status:     resp.StatusCode,
				Body:       string(respBody),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}

		var out chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("provider: decode response: %w", err)
		}
		if len(out.Choices) == 0 {
			return "", fmt.Errorf("provider: no choices in response")
		}
		return strings.TrimSpace(out.Choices[0].Message.Content), nil
	})
}
