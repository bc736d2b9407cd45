package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pdf-translator/internal/logger"
	"pdf-translator/internal/types"
)

// OpenRouterProvider recognizes page text with a vision model through the
// OpenRouter chat completions API.
type OpenRouterProvider struct {
	apiURL string
	apiKey string
	model  string
	client *http.Client
}

// NewOpenRouterProvider creates a vision OCR provider. baseURL is the API
// root, e.g. https://openrouter.ai/api/v1.
func NewOpenRouterProvider(baseURL, apiKey, model string, timeout time.Duration) *OpenRouterProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenRouterProvider{
		apiURL: strings.TrimRight(baseURL, "/") + "/chat/completions",
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *OpenRouterProvider) Name() string { return "openrouter:" + p.model }

const ocrPrompt = `Extract every line of text from this document page image.
Respond with only a JSON array, no prose and no code fences. Each element:
{"text": string, "x0": number, "y0": number, "x1": number, "y1": number, "confidence": number}
Coordinates are pixels with the origin at the top-left of the image.
Confidence is between 0 and 1. Keep the original language (%s). Preserve
diacritics exactly. Return [] if the page has no text.`

type visionRequest struct {
	Model       string          `json:"model"`
	Messages    []visionMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type visionMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type visionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// RecognizePage implements Provider.
func (p *OpenRouterProvider) RecognizePage(ctx context.Context, png []byte, lang string) ([]Span, error) {
	if p.apiKey == "" {
		return nil, types.NewAppError(types.ErrConfig, "OCR API key is not configured", nil)
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	reqBody := visionRequest{
		Model: p.model,
		Messages: []visionMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: fmt.Sprintf(ocrPrompt, languageName(lang))},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
		Temperature: 0,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "failed to marshal OCR request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, types.NewAppError(types.ErrInternal, "failed to create OCR request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrProviderTransient, "OCR request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewAppError(types.ErrProviderTransient, "failed to read OCR response", err)
	}

	if resp.StatusCode != http.StatusOK {
		code := types.ErrProvider
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			code = types.ErrProviderTransient
		}
		return nil, types.NewAppErrorWithDetails(code, "OCR provider returned error status",
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	var chatResp visionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, types.NewAppError(types.ErrProvider, "invalid OCR response format", err)
	}
	if chatResp.Error != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrProvider, "OCR provider error",
			chatResp.Error.Message, nil)
	}
	if len(chatResp.Choices) == 0 {
		return nil, types.NewAppError(types.ErrProvider, "OCR provider returned no choices", nil)
	}

	spans, err := parseSpans(chatResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	logger.Debug("vision OCR completed",
		logger.String("model", p.model),
		logger.Int("spans", len(spans)))
	return spans, nil
}

// parseSpans decodes the model output, tolerating markdown code fences the
// model sometimes wraps around the JSON.
func parseSpans(content string) ([]Span, error) {
	cleaned := stripCodeFence(content)
	var spans []Span
	if err := json.Unmarshal([]byte(cleaned), &spans); err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrProvider,
			"OCR output is not valid JSON", truncate(cleaned, 200), err)
	}
	return spans, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func languageName(code string) string {
	switch code {
	case "tr":
		return "Turkish"
	case "en":
		return "English"
	default:
		return code
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
