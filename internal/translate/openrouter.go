package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"context"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// OpenRouterProvider completes chats against the OpenRouter chat
// completions API. The fallback model is a second instance with a
// different model name.
type OpenRouterProvider struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

// NewOpenRouterProvider creates a provider for the given model.
func NewOpenRouterProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenRouterProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenRouterProvider{
		apiURL: normalizeAPIURL(baseURL),
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// normalizeAPIURL ensures the API URL ends with /chat/completions.
func normalizeAPIURL(url string) string {
	if url == "" {
		return "https://openrouter.ai/api/v1/chat/completions"
	}
	url = strings.TrimSuffix(url, "/")
	if strings.HasSuffix(url, "/chat/completions") {
		return url
	}
	return url + "/chat/completions"
}

// Name implements Provider.
func (p *OpenRouterProvider) Name() string { return "openrouter:" + p.model }

// ChatCompletionRequest is the request body for the chat completions API.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse is the response from the chat completions API.
type ChatCompletionResponse struct {
	ID      string    `json:"id"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage"`
	Error   *APIError `json:"error,omitempty"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is an error object embedded in the API response.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Complete implements Provider.
func (p *OpenRouterProvider) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if p.apiKey == "" {
		return "", types.NewAppError(types.ErrConfig, "translation API key is not configured", nil)
	}

	reqBody := ChatCompletionRequest{
		Model: p.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", types.NewAppError(types.ErrInternal, "failed to marshal request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", types.NewAppError(types.ErrInternal, "failed to create HTTP request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		logger.Error("translation request failed", err, logger.String("model", p.model))
		return "", types.NewAppError(types.ErrProviderTransient, "translation request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", types.NewAppError(types.ErrProviderTransient, "failed to read API response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", handleHTTPError(resp.StatusCode, body)
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", types.NewAppError(types.ErrProvider, "failed to parse API response", err)
	}
	if chatResp.Error != nil {
		return "", types.NewAppErrorWithDetails(types.ErrProvider, "API returned error",
			chatResp.Error.Message, nil)
	}
	if len(chatResp.Choices) == 0 {
		return "", types.NewAppError(types.ErrProvider, "API returned no choices", nil)
	}

	logger.Debug("translation response received",
		logger.String("model", p.model),
		logger.Int("totalTokens", chatResp.Usage.TotalTokens))

	return chatResp.Choices[0].Message.Content, nil
}

// handleHTTPError classifies an HTTP error status as transient or not.
func handleHTTPError(statusCode int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	details := ""
	if err := json.Unmarshal(body, &errResp); err == nil {
		details = errResp.Error.Message
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		return types.NewAppErrorWithDetails(types.ErrProvider,
			"API authentication failed", "invalid API key or unauthorized access", nil)
	case statusCode == http.StatusBadRequest:
		return types.NewAppErrorWithDetails(types.ErrProvider, "invalid API request", details, nil)
	case statusCode == http.StatusTooManyRequests:
		return types.NewAppErrorWithDetails(types.ErrProviderTransient, "API rate limit exceeded", details, nil)
	case statusCode >= 500:
		return types.NewAppErrorWithDetails(types.ErrProviderTransient, "API server error",
			fmt.Sprintf("status %d: %s", statusCode, details), nil)
	default:
		return types.NewAppErrorWithDetails(types.ErrProvider, "API request failed",
			fmt.Sprintf("status %d: %s", statusCode, details), nil)
	}
}
