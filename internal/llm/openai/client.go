package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"translator-backend/internal/llm"
	"translator-backend/internal/shared/telemetry"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Client talks to the OpenAI REST API. It translates single units through
// Chat Completions and submits whole documents through the Batch API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client. An empty baseURL uses the public API.
func NewClient(apiKey, model, baseURL string) (*Client, error) {
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// APIError is a non-success response from the API.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("openai error: http status %d: %s (%s)", e.StatusCode, e.Message, e.Type)
	}
	return fmt.Sprintf("openai error: http status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatResponseUsage `json:"usage,omitempty"`
	Error *apiErrorBody      `json:"error,omitempty"`
}

type chatResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// TranslateUnit translates one unit with a single chat completion.
func (c *Client) TranslateUnit(ctx context.Context, input llm.TranslateInput) (string, error) {
	req := c.buildChatRequest(input, supportsZeroTemperature(c.model))
	resp, err := c.chat(ctx, req)
	if err != nil && req.Temperature != nil && isTemperatureUnsupported(err) {
		telemetry.Warn("llm.temperature.retry", map[string]any{"model": c.model, "unit_id": input.UnitID})
		req.Temperature = nil
		resp, err = c.chat(ctx, req)
	}
	if err != nil {
		return "", err
	}
	logUsage(c.model, input.UnitID, resp.Usage)
	return completionContent(resp)
}

func (c *Client) buildChatRequest(input llm.TranslateInput, withTemperature bool) chatRequest {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: llm.SystemPrompt(input.SourceLanguage, input.TargetLanguage, input.Style)},
			{Role: "user", Content: llm.UserPrompt(input)},
		},
	}
	if withTemperature {
		temp := float32(0)
		req.Temperature = &temp
	}
	return req
}

func (c *Client) chat(ctx context.Context, reqBody chatRequest) (chatResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return chatResponse{}, err
	}
	body, err := c.do(ctx, http.MethodPost, "/chat/completions", "application/json", bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, err
	}
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return chatResponse{}, errors.Wrap(err, "openai response parse")
	}
	if parsed.Error != nil {
		return chatResponse{}, &APIError{StatusCode: http.StatusOK, Type: parsed.Error.Type, Message: parsed.Error.Message}
	}
	return parsed, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, errors.Wrap(err, "openai request timeout")
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read openai response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var wrapped struct {
			Error *apiErrorBody `json:"error"`
		}
		if json.Unmarshal(data, &wrapped) == nil && wrapped.Error != nil {
			apiErr.Message = wrapped.Error.Message
			apiErr.Type = wrapped.Error.Type
		}
		return nil, apiErr
	}
	return data, nil
}

func completionContent(resp chatResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", errors.New("openai response missing choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("openai response empty content")
	}
	return content, nil
}

func logUsage(model, unitID string, usage *chatResponseUsage) {
	fields := map[string]any{"model": model, "unit_id": unitID}
	if usage != nil {
		fields["prompt_tokens"] = usage.PromptTokens
		fields["completion_tokens"] = usage.CompletionTokens
		fields["total_tokens"] = usage.TotalTokens
	}
	telemetry.Debug("llm.response", fields)
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

// supportsZeroTemperature reports whether temperature=0 may be sent. Models
// listed in LLM_NO_TEMP0_MODELS and the gpt-5 family only accept the default.
func supportsZeroTemperature(model string) bool {
	if isGPT5(model) {
		return false
	}
	normalized := strings.ToLower(strings.TrimSpace(model))
	for _, denied := range strings.Split(os.Getenv("LLM_NO_TEMP0_MODELS"), ",") {
		if strings.ToLower(strings.TrimSpace(denied)) == normalized && normalized != "" {
			return false
		}
	}
	return true
}

func isTemperatureUnsupported(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "temperature") && strings.Contains(msg, "unsupported")
}

var _ llm.Translator = (*Client)(nil)
