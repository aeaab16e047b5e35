// Package summarizer строит структурированное резюме поста через
// OpenAI-совместимый completion API. Длинные тексты обрабатываются в два
// прохода map-reduce; при неконфигурированном API строится локальная заглушка.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
	"nodeseek-bot/internal/infra/metrics"
	"nodeseek-bot/internal/infra/openai"
)

// PromptVersion фиксируется в каждом резюме для сопоставимости оценок.
const PromptVersion = "v2-short-zh-longtext"

const (
	maxKeyPoints = 6
	maxActions   = 4
	// localSummaryChars — длина локальной заглушки без вызова API.
	localSummaryChars = 220
)

const systemPrompt = "你是一个中文信息提炼助手。请阅读输入的帖子内容，输出严格的 JSON 对象，不要输出任何额外文本。\n" +
	"JSON 字段：\n" +
	"- summary: 1-3 句的超短总结（更短风格）\n" +
	"- key_points: 最多 6 条要点（每条尽量短）\n" +
	"- actions: 最多 4 条可操作建议/结论（没有就空数组）\n" +
	"要求：尽量保留具体信息（价格/期限/关键步骤/结论/风险/可操作建议）。"

const chunkPromptSuffix = "\n你将收到长文的一部分。请只总结这一部分的关键信息，保留数字/期限/步骤/风险。"

// Options настраивает работу с API.
type Options struct {
	Model               string
	PreferChat          bool
	FallbackToResponses bool
	MaxInputChars       int
	ChunkChars          int
	ChunkOverlapChars   int
}

var _ domain.Summarizer = (*Service)(nil)

// Service реализует domain.Summarizer.
type Service struct {
	logger zerolog.Logger
	client *openai.Client
	opts   Options
}

// NewService создаёт сервис. client может быть несконфигурирован, тогда
// каждое резюме — локальное усечение без сетевых вызовов.
func NewService(logger zerolog.Logger, client *openai.Client, opts Options) *Service {
	if opts.MaxInputChars < 1000 {
		opts.MaxInputChars = 1000
	}
	return &Service{
		logger: logger.With().Str("component", "summarizer").Logger(),
		client: client,
		opts:   opts,
	}
}

// Summarize строит резюме. Для капризов формата провайдера ошибки не
// возвращаются: метод деградирует до простого текста.
func (s *Service) Summarize(ctx context.Context, title, url, text string) (domain.Summary, error) {
	if s.client == nil || !s.client.Configured() || s.opts.Model == "" {
		return s.localSummary(text), nil
	}

	if len([]rune(text)) > s.opts.MaxInputChars {
		return s.summarizeLong(ctx, title, url, text)
	}

	user := fmt.Sprintf("标题：%s\n链接：%s\n内容：\n%s", title, url, text)
	return s.summarizeOnce(ctx, systemPrompt, user)
}

func (s *Service) summarizeLong(ctx context.Context, title, url, text string) (domain.Summary, error) {
	chunks := splitChunks(text, s.opts.ChunkChars, s.opts.ChunkOverlapChars)
	s.logger.Info().
		Int("chars", len([]rune(text))).
		Int("chunks", len(chunks)).
		Msg("длинный текст разбит на куски")

	partials := make([]domain.Summary, 0, len(chunks))
	for i, chunk := range chunks {
		user := fmt.Sprintf("标题：%s\n链接：%s\n片段：%d/%d\n内容：\n%s", title, url, i+1, len(chunks), chunk)
		partial, err := s.summarizeOnce(ctx, systemPrompt+chunkPromptSuffix, user)
		if err != nil {
			return domain.Summary{}, fmt.Errorf("резюме куска %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, partial)
	}

	var lines []string
	for i, p := range partials {
		lines = append(lines, fmt.Sprintf("[片段%d] %s", i+1, p.Text))
		if len(p.KeyPoints) > 0 {
			lines = append(lines, "要点："+strings.Join(p.KeyPoints, " | "))
		}
		if len(p.Actions) > 0 {
			lines = append(lines, "可操作："+strings.Join(p.Actions, " | "))
		}
	}
	mergeUser := fmt.Sprintf("标题：%s\n链接：%s\n以下是各片段的提炼结果，请你合并成最终结论，去重、保留具体信息，输出同样的 JSON。\n%s",
		title, url, strings.Join(lines, "\n"))

	merged, err := s.summarizeOnce(ctx, systemPrompt, mergeUser)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("объединение резюме: %w", err)
	}
	// Токены кусков учитываем в итоговой записи.
	for _, p := range partials {
		merged.TokensIn += p.TokensIn
		merged.TokensOut += p.TokensOut
	}
	return merged, nil
}

func (s *Service) summarizeOnce(ctx context.Context, system, user string) (domain.Summary, error) {
	start := time.Now()
	summary, err := s.callOnce(ctx, system, user)
	metrics.ObserveAICall(start, err)
	return summary, err
}

func (s *Service) callOnce(ctx context.Context, system, user string) (domain.Summary, error) {
	if s.opts.PreferChat {
		summary, err := s.summarizeChat(ctx, system, user)
		if err == nil {
			return summary, nil
		}
		if !s.opts.FallbackToResponses {
			return domain.Summary{}, err
		}
		s.logger.Warn().Err(err).Msg("chat completions не сработал, пробуем responses")
	}
	return s.summarizeResponses(ctx, system, user)
}

func (s *Service) summarizeChat(ctx context.Context, system, user string) (domain.Summary, error) {
	req := openai.ChatCompletionRequest{
		Model: s.opts.Model,
		Messages: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: system},
			{Role: openai.RoleUser, Content: user},
		},
		Temperature: 0.2,
		MaxTokens:   700,
	}

	// Не каждый провайдер понимает response_format: при ошибке статуса
	// повторяем тот же запрос без него.
	withFormat := req
	withFormat.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject}
	resp, err := s.client.CreateChatCompletion(ctx, withFormat)
	if err != nil {
		if _, ok := asAPIError(err); !ok {
			return domain.Summary{}, err
		}
		resp, err = s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return domain.Summary{}, err
		}
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
		if content == "" {
			content = resp.Choices[0].Delta.Content
		}
	}
	return s.normalize(content, resp.Usage), nil
}

func (s *Service) summarizeResponses(ctx context.Context, system, user string) (domain.Summary, error) {
	req := openai.ResponsesRequest{
		Model: s.opts.Model,
		Input: []openai.ChatMessage{
			{Role: openai.RoleSystem, Content: system},
			{Role: openai.RoleUser, Content: user},
		},
		Temperature:     0.2,
		MaxOutputTokens: 900,
	}
	resp, err := s.client.CreateResponse(ctx, req)
	if err != nil {
		return domain.Summary{}, err
	}
	return s.normalize(resp.Text(), resp.Usage), nil
}

// normalize приводит ответ модели к доменной модели. Неразобравшийся JSON
// деградирует до простого текста, а не до ошибки.
func (s *Service) normalize(content string, usage *openai.Usage) domain.Summary {
	payload, ok := extractJSON(content)
	if !ok {
		payload = summaryPayload{Summary: strings.TrimSpace(content)}
	}

	keyPoints := cleanList(payload.KeyPoints, payload.Points, maxKeyPoints)
	actions := cleanList(payload.Actions, payload.Todos, maxActions)

	return domain.Summary{
		Model:         s.opts.Model,
		PromptVersion: PromptVersion,
		Text:          strings.TrimSpace(payload.Summary),
		KeyPoints:     keyPoints,
		Actions:       actions,
		TokensIn:      usage.In(),
		TokensOut:     usage.Out(),
	}
}

func (s *Service) localSummary(text string) domain.Summary {
	return domain.Summary{
		PromptVersion: PromptVersion,
		Text:          truncateRunes(text, localSummaryChars),
	}
}

// cleanList берёт первый непустой из двух синонимичных списков, чистит
// элементы и ограничивает длину.
func cleanList(primary, fallback []string, limit int) []string {
	items := primary
	if len(items) == 0 {
		items = fallback
	}
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func truncateRunes(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars-1]) + "…"
}

func asAPIError(err error) (*openai.APIError, bool) {
	var apiErr *openai.APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
