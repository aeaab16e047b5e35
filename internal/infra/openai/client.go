// Package openai реализует клиента OpenAI-совместимого completion API.
// Поддерживаются две формы запроса: chat completions и responses.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Client выполняет запросы к completion API.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
}

// NewClient создаёт клиента. baseURL указывает на корень API (без /v1).
func NewClient(apiKey, baseURL string, timeout time.Duration, maxRetries int) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	httpClient := &http.Client{Timeout: timeout + 5*time.Second}
	return &Client{http: httpClient, baseURL: baseURL, apiKey: apiKey, maxRetries: maxRetries}
}

// Configured сообщает, задан ли адрес API.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// APIError описывает ответ API со статусом >= 400.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("openai: статус %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("openai: неожиданный статус %d", e.StatusCode)
}

// retryable — повторяем только 429 и 5xx; остальные 4xx окончательны.
func retryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}

// ChatCompletionRequest описывает тело запроса chat completions.
type ChatCompletionRequest struct {
	Model          string                        `json:"model"`
	Messages       []ChatMessage                 `json:"messages"`
	Temperature    float64                       `json:"temperature,omitempty"`
	MaxTokens      int                           `json:"max_tokens,omitempty"`
	ResponseFormat *ChatCompletionResponseFormat `json:"response_format,omitempty"`
}

// ChatMessage представляет сообщение в диалоге.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	// RoleSystem системная инструкция.
	RoleSystem = "system"
	// RoleUser сообщение пользователя.
	RoleUser = "user"
)

// ChatCompletionResponseFormat задаёт формат ответа.
type ChatCompletionResponseFormat struct {
	Type string `json:"type"`
}

const (
	// ResponseFormatTypeJSONObject просит вернуть объект JSON.
	ResponseFormatTypeJSONObject = "json_object"
)

// ChatCompletionResponse описывает ответ модели.
type ChatCompletionResponse struct {
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *Usage                 `json:"usage,omitempty"`
}

// ChatCompletionChoice содержит сообщение модели.
type ChatCompletionChoice struct {
	Message ChatMessage `json:"message"`
	Delta   ChatMessage `json:"delta"`
}

// Usage описывает статистику использования токенов. Разные провайдеры
// называют поля по-разному, собираем оба варианта.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

// In возвращает входные токены независимо от имени поля.
func (u *Usage) In() int {
	if u == nil {
		return 0
	}
	if u.PromptTokens > 0 {
		return u.PromptTokens
	}
	return u.InputTokens
}

// Out возвращает выходные токены независимо от имени поля.
func (u *Usage) Out() int {
	if u == nil {
		return 0
	}
	if u.CompletionTokens > 0 {
		return u.CompletionTokens
	}
	return u.OutputTokens
}

// ResponsesRequest описывает тело запроса responses API.
type ResponsesRequest struct {
	Model           string        `json:"model"`
	Input           []ChatMessage `json:"input"`
	Temperature     float64       `json:"temperature,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
}

// ResponsesResponse описывает ответ responses API.
type ResponsesResponse struct {
	OutputText string           `json:"output_text"`
	Output     []ResponseOutput `json:"output"`
	Usage      *Usage           `json:"usage,omitempty"`
}

// ResponseOutput — элемент массива output.
type ResponseOutput struct {
	Type    string            `json:"type"`
	Content []ResponseContent `json:"content"`
}

// ResponseContent — фрагмент содержимого сообщения.
type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text собирает итоговый текст ответа из возможных полей.
func (r *ResponsesResponse) Text() string {
	if r.OutputText != "" {
		return r.OutputText
	}
	var parts []string
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" && part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// CreateChatCompletion вызывает /v1/chat/completions.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (ChatCompletionResponse, error) {
	var out ChatCompletionResponse
	if err := c.post(ctx, "/v1/chat/completions", req, &out); err != nil {
		return ChatCompletionResponse{}, err
	}
	return out, nil
}

// CreateResponse вызывает /v1/responses.
func (c *Client) CreateResponse(ctx context.Context, req ResponsesRequest) (ResponsesResponse, error) {
	var out ResponsesResponse
	if err := c.post(ctx, "/v1/responses", req, &out); err != nil {
		return ResponsesResponse{}, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	if !c.Configured() {
		return fmt.Errorf("openai: клиент не сконфигурирован")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("openai: сериализация запроса: %w", err)
	}

	attempt := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("openai: сборка запроса: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return fmt.Errorf("openai: выполнение запроса: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("openai: чтение ответа: %w", err)
		}
		if resp.StatusCode >= 400 {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			var parsed apiErrorResponse
			if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr == nil {
				apiErr.Message = parsed.Error.Message
			}
			if !retryable(apiErr) {
				return backoff.Permanent(apiErr)
			}
			return apiErr
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return backoff.Permanent(fmt.Errorf("openai: разбор ответа: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = 20 * time.Second
	// RandomizationFactor по умолчанию даёт джиттер вокруг каждой паузы.
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
