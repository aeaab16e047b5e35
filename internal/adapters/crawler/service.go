// Package crawler получает полный текст постов в режиме best-effort:
// цепочка методов HTTP → браузер, классификация сбоев и самоотключение
// при антибот-защите или устаревшей авторизации.
package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
	"nodeseek-bot/internal/infra/metrics"
	"nodeseek-bot/internal/infra/ratelimit"
)

// pageFetcher — один способ загрузки страницы.
type pageFetcher interface {
	method() domain.FetchMethod
	confidence() domain.SourceConfidence
	// fetch возвращает разметку и HTTP-статус; ошибка только транспортная.
	fetch(ctx context.Context, url string) (string, int, error)
}

// Options задаёт политику поведения при сбоях.
type Options struct {
	// MaxRetries — дополнительные попытки на метод при временных сбоях.
	MaxRetries int
	// StopOnAntibot — отключаться навсегда при challenge-странице.
	StopOnAntibot bool
	// LoginBackoff — окно самоотключения при устаревшей авторизации.
	LoginBackoff time.Duration
}

var _ domain.Crawler = (*Service)(nil)

// Service реализует domain.Crawler поверх цепочки методов загрузки.
type Service struct {
	logger   zerolog.Logger
	limiter  *ratelimit.MinIntervalLimiter
	fetchers []pageFetcher
	opts     Options

	mu              sync.Mutex
	disabledForever bool
	disabledUntil   time.Time
}

// NewService собирает сервис. browser может быть nil, тогда цепочка
// состоит из одного HTTP-метода.
func NewService(logger zerolog.Logger, limiter *ratelimit.MinIntervalLimiter, http *httpFetcher, browser *browserFetcher, opts Options) *Service {
	fetchers := []pageFetcher{http}
	if browser != nil {
		fetchers = append(fetchers, browser)
	}
	return &Service{
		logger:   logger.With().Str("component", "crawler").Logger(),
		limiter:  limiter,
		fetchers: fetchers,
		opts:     opts,
	}
}

// NewHTTPFetcher создаёт HTTP-метод загрузки.
func NewHTTPFetcher(timeout time.Duration, cookie, userAgent string) *httpFetcher {
	return newHTTPFetcher(timeout, cookie, userAgent)
}

// NewBrowserFetcher создаёт браузерный метод загрузки.
func NewBrowserFetcher(headless bool, navTimeout time.Duration, cookie, userAgent string) *browserFetcher {
	return newBrowserFetcher(headless, navTimeout, cookie, userAgent)
}

// FulltextDisabled сообщает, отключена ли сейчас загрузка полного текста.
func (s *Service) FulltextDisabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabledForever {
		return true
	}
	return time.Now().Before(s.disabledUntil)
}

// EnableFulltext снимает любое самоотключение (ручная команда оператора).
func (s *Service) EnableFulltext() {
	s.mu.Lock()
	s.disabledForever = false
	s.disabledUntil = time.Time{}
	s.mu.Unlock()
	s.logger.Info().Msg("загрузка полного текста включена вручную")
}

// DisableFulltextFor отключает загрузку на окно d с автовосстановлением.
func (s *Service) DisableFulltextFor(d time.Duration) {
	s.mu.Lock()
	until := time.Now().Add(d)
	if until.After(s.disabledUntil) {
		s.disabledUntil = until
	}
	s.mu.Unlock()
	s.logger.Warn().Dur("backoff", d).Msg("загрузка полного текста отключена на время")
}

// DisableFulltextForever отключает загрузку до ручного включения.
// Антибот-стены сами не рассасываются, а упорные повторы рискуют IP.
func (s *Service) DisableFulltextForever() {
	s.mu.Lock()
	s.disabledForever = true
	s.mu.Unlock()
	s.logger.Warn().Msg("загрузка полного текста отключена до ручного включения")
}

// FetchBestEffort пытается получить полный текст поста. Классифицированные
// сбои не покидают метод: в худшем случае вернётся контент уровня ленты.
func (s *Service) FetchBestEffort(ctx context.Context, url, fallbackText string) (domain.Content, []domain.FetchAttempt, error) {
	if s.FulltextDisabled() {
		return feedOnlyContent(fallbackText), nil, nil
	}

	var attempts []domain.FetchAttempt
	for _, fetcher := range s.fetchers {
		for try := 0; try <= s.opts.MaxRetries; try++ {
			content, attempt, escalated := s.fetchOnce(ctx, fetcher, url)
			attempts = append(attempts, attempt)
			metrics.ObserveFetchAttempt(string(attempt.Method), attempt.OK)

			if attempt.OK {
				return content, attempts, nil
			}
			if escalated {
				// Антибот или логин: дальнейшие попытки только вредят.
				return feedOnlyContent(fallbackText), attempts, nil
			}
			if err := ctx.Err(); err != nil {
				return feedOnlyContent(fallbackText), attempts, fmt.Errorf("загрузка прервана: %w", err)
			}
			s.logger.Debug().
				Str("url", url).
				Str("method", string(attempt.Method)).
				Str("kind", string(attempt.ErrorKind)).
				Str("detail", attempt.ErrorDetail).
				Msg("попытка загрузки не удалась")
		}
	}
	return feedOnlyContent(fallbackText), attempts, nil
}

// fetchOnce выполняет одну попытку одним методом. escalated=true, когда
// сработало самоотключение и цепочку надо прервать немедленно.
func (s *Service) fetchOnce(ctx context.Context, fetcher pageFetcher, url string) (domain.Content, domain.FetchAttempt, bool) {
	attempt := domain.FetchAttempt{Method: fetcher.method()}

	if err := s.limiter.Acquire(ctx); err != nil {
		attempt.ErrorKind = domain.FetchErrTimeout
		attempt.ErrorDetail = err.Error()
		return domain.Content{}, attempt, false
	}

	start := time.Now()
	html, status, err := fetcher.fetch(ctx, url)
	attempt.Duration = time.Since(start)
	attempt.HTTPStatus = status

	if err != nil {
		if isTimeout(err) {
			attempt.ErrorKind = domain.FetchErrTimeout
		} else {
			attempt.ErrorKind = domain.FetchErrHTTP
		}
		attempt.ErrorDetail = err.Error()
		return domain.Content{}, attempt, false
	}

	// Challenge-страницы приходят и с кодом 403/503, и с кодом 200,
	// поэтому разметку проверяем до разбора статуса.
	if looksLikeAntibot(html) {
		attempt.ErrorKind = domain.FetchErrAntibot
		attempt.ErrorDetail = "обнаружена challenge-страница"
		if s.opts.StopOnAntibot {
			s.DisableFulltextForever()
			return domain.Content{}, attempt, true
		}
		return domain.Content{}, attempt, false
	}
	if looksLikeLoginWall(html) {
		attempt.ErrorKind = domain.FetchErrLoginRequired
		attempt.ErrorDetail = "страница требует авторизацию"
		if s.opts.StopOnAntibot {
			s.DisableFulltextFor(s.opts.LoginBackoff)
			return domain.Content{}, attempt, true
		}
		return domain.Content{}, attempt, false
	}
	if status >= 400 {
		attempt.ErrorKind = domain.FetchErrHTTP
		attempt.ErrorDetail = fmt.Sprintf("статус %d", status)
		return domain.Content{}, attempt, false
	}

	text := extractText(html)
	if text == "" {
		attempt.ErrorKind = domain.FetchErrParseFail
		attempt.ErrorDetail = "не найден контейнер с текстом"
		return domain.Content{}, attempt, false
	}

	attempt.OK = true
	return domain.Content{
		Text:             text,
		Hash:             hashText(text),
		Length:           len([]rune(text)),
		FetchedAt:        time.Now().UTC(),
		SourceConfidence: fetcher.confidence(),
	}, attempt, false
}

// feedOnlyContent оборачивает описание из ленты как контент низшего доверия.
func feedOnlyContent(fallbackText string) domain.Content {
	return domain.Content{
		Text:             fallbackText,
		Hash:             hashText(fallbackText),
		Length:           len([]rune(fallbackText)),
		FetchedAt:        time.Now().UTC(),
		SourceConfidence: domain.ConfidenceRSSOnly,
	}
}
