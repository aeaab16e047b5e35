// Package pipeline содержит оркестратор конвейера: опрос ленты, обработку
// постов по одному, ретенцию и снимок состояния.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
	"nodeseek-bot/internal/infra/metrics"
)

// minLabelsToAutofilter — до этого числа отметок адаптивный порог не
// включается и доставляется всё, что прошло правила.
const minLabelsToAutofilter = 10000

// thresholdCacheKey и thresholdCacheTTL управляют кэшированием адаптивного
// порога: пересчёт по десяти тысячам отметок не нужен на каждом посте.
const (
	thresholdCacheKey = "adaptive_threshold"
	thresholdCacheTTL = 5 * time.Minute
)

// Политики загрузки полного текста.
const (
	FetchPolicyNever         = "never"
	FetchPolicyAlways        = "always"
	FetchPolicyNearThreshold = "near_threshold"
)

// FeedSource отдаёт свежие записи ленты.
type FeedSource interface {
	Fetch(ctx context.Context) ([]domain.FeedItem, error)
}

// LimiterStatus — наблюдаемость лимитера для снимка состояния.
type LimiterStatus interface {
	NextAllowedIn() time.Duration
}

// Options — настройки оркестратора.
type Options struct {
	TargetChatID int64
	AlertChatSet bool

	FulltextEnabled    bool
	CookieSet          bool
	FetchPolicy        string
	NearThresholdDelta float64

	FeedInterval time.Duration
	FeedJitter   time.Duration

	DataRetention        time.Duration
	FingerprintRetention time.Duration

	StatusPath string

	AlertFetchThreshold int
	AlertLoginThreshold int
	AlertAIThreshold    int
}

// Service — оркестратор конвейера обработки постов.
type Service struct {
	logger     zerolog.Logger
	opts       Options
	storage    domain.Storage
	crawler    domain.Crawler
	summarizer domain.Summarizer
	scorer     domain.Scorer
	notifier   domain.Notifier
	events     domain.EventPublisher
	cache      domain.Cache
	limiter    LimiterStatus
	instanceID string

	mu    sync.Mutex
	state RuntimeState
}

// NewService собирает оркестратор. events и cache могут быть nil-безопасными
// заглушками, limiter нужен только для снимка состояния.
func NewService(
	logger zerolog.Logger,
	opts Options,
	storage domain.Storage,
	crawler domain.Crawler,
	summarizer domain.Summarizer,
	scorer domain.Scorer,
	notifier domain.Notifier,
	events domain.EventPublisher,
	cache domain.Cache,
	limiter LimiterStatus,
	instanceID string,
) *Service {
	if opts.FetchPolicy == "" {
		opts.FetchPolicy = FetchPolicyNearThreshold
	}
	return &Service{
		logger:     logger.With().Str("component", "pipeline").Logger(),
		opts:       opts,
		storage:    storage,
		crawler:    crawler,
		summarizer: summarizer,
		scorer:     scorer,
		notifier:   notifier,
		events:     events,
		cache:      cache,
		limiter:    limiter,
		instanceID: instanceID,
	}
}

// Pause приостанавливает обработку очереди (опрос ленты продолжается).
func (s *Service) Pause() {
	s.mu.Lock()
	s.state.Paused = true
	s.mu.Unlock()
	s.logger.Info().Msg("обработка приостановлена")
}

// Resume возобновляет обработку очереди.
func (s *Service) Resume() {
	s.mu.Lock()
	s.state.Paused = false
	s.mu.Unlock()
	s.logger.Info().Msg("обработка возобновлена")
}

// Paused сообщает, приостановлена ли обработка.
func (s *Service) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Paused
}

// State возвращает копию состояния процесса.
func (s *Service) State() RuntimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

var spaceRe = regexp.MustCompile(`[ \t\f\v]+`)
var blankRe = regexp.MustCompile("\n{3,}")

// collapseWS нормализует переводы строк и повторяющиеся пробелы.
func collapseWS(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = spaceRe.ReplaceAllString(text, " ")
	text = blankRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// PollFeedOnce опрашивает ленту и кладёт записи в хранилище. Битая лента
// не останавливает цикл: poller возвращает пустой список.
func (s *Service) PollFeedOnce(ctx context.Context, feed FeedSource) error {
	metrics.FeedPollsTotal.Inc()

	items, err := feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("опрос ленты: %w", err)
	}

	s.mu.Lock()
	s.state.LastFeedPollAt = time.Now().UTC()
	s.mu.Unlock()

	discovered := 0
	for _, item := range items {
		if _, err := s.storage.UpsertFromFeed(ctx, item); err != nil {
			s.logger.Warn().Err(err).Str("url", item.URL).Msg("не удалось сохранить запись ленты")
			continue
		}
		discovered++
	}
	metrics.PostsDiscoveredTotal.Add(float64(discovered))
	s.logger.Info().Int("items", discovered).Msg("опрос ленты завершён")
	return nil
}

// ProcessNext забирает один пост из очереди и проводит его через весь
// конвейер: загрузка, резюме, оценка, доставка. В полёте всегда не более
// одного поста.
func (s *Service) ProcessNext(ctx context.Context) error {
	if s.Paused() {
		return nil
	}

	postID, ok, err := s.storage.TakeNextForProcessing(ctx)
	if err != nil {
		return fmt.Errorf("выбор поста: %w", err)
	}
	if !ok {
		return nil
	}

	post, err := s.storage.GetPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("чтение поста %d: %w", postID, err)
	}

	s.mu.Lock()
	s.state.LastProcessedPostID = postID
	s.mu.Unlock()

	rssText := collapseWS(post.RSSSummary + "\n" + post.Title)
	contentText := rssText
	confidence := domain.ConfidenceRSSOnly

	var attempts []domain.FetchAttempt
	triedFulltext := false

	if s.shouldAttemptFulltext(post.Title, rssText) {
		triedFulltext = true
		content, fetchAttempts, fetchErr := s.crawler.FetchBestEffort(ctx, post.URL, rssText)
		attempts = fetchAttempts
		if fetchErr != nil {
			// Неожиданный сбой: пост вернётся в очередь после остальных.
			if err := s.storage.SetStatus(ctx, postID, domain.StatusFailed); err != nil {
				return fmt.Errorf("перевод поста %d в FAILED: %w", postID, err)
			}
			s.bumpFetchFailure(ctx)
			s.logger.Warn().Err(fetchErr).Int64("post_id", postID).Msg("сбой загрузки полного текста")
		} else {
			if err := s.storage.SaveContent(ctx, postID, content); err != nil {
				return fmt.Errorf("сохранение контента поста %d: %w", postID, err)
			}
			confidence = content.SourceConfidence
			if content.Text != "" {
				contentText = content.Text
			}
		}
	}

	if triedFulltext {
		s.updateFetchStats(ctx, attempts)
	}
	for i, attempt := range attempts {
		if err := s.storage.AddFetchAttempt(ctx, postID, i+1, attempt); err != nil {
			s.logger.Warn().Err(err).Int64("post_id", postID).Msg("не удалось записать попытку загрузки")
		}
	}

	summary, haveSummary, err := s.storage.LoadSummary(ctx, postID)
	if err != nil {
		return fmt.Errorf("чтение резюме поста %d: %w", postID, err)
	}
	if !haveSummary {
		built, sumErr := s.summarizer.Summarize(ctx, post.Title, post.URL, contentText)
		if sumErr != nil {
			s.bumpAIFailure(ctx)
			s.logger.Warn().Err(sumErr).Int64("post_id", postID).Msg("сбой резюмирования")
		} else {
			if err := s.storage.SaveSummary(ctx, postID, built); err != nil {
				return fmt.Errorf("сохранение резюме поста %d: %w", postID, err)
			}
			summary, haveSummary = built, true
			s.resetAIFailures()
		}
	}

	// В текст для оценки добавляется выжимка модели: она повышает полноту
	// совпадений по ключевым словам.
	scoreInput := contentText
	if haveSummary {
		extra := append(append([]string{}, summary.KeyPoints...), summary.Actions...)
		scoreInput = scoreInput + "\n\n" + summary.Text + "\n" + strings.Join(extra, "\n")
	}

	score := s.scorer.Score(post.Title, scoreInput, confidence)
	if err := s.storage.SaveScore(ctx, postID, score); err != nil {
		return fmt.Errorf("сохранение оценки поста %d: %w", postID, err)
	}

	deliver, err := s.shouldDeliver(ctx, score.Total, score.Decision)
	if err != nil {
		return fmt.Errorf("решение о доставке поста %d: %w", postID, err)
	}

	delivered := false
	if deliver {
		has, err := s.storage.HasDelivery(ctx, postID, s.opts.TargetChatID)
		if err != nil {
			return fmt.Errorf("проверка доставки поста %d: %w", postID, err)
		}
		if !has {
			var summaryPtr *domain.Summary
			if haveSummary {
				summaryPtr = &summary
			}
			messageID, err := s.notifier.SendPost(ctx, post, summaryPtr, score)
			if err != nil {
				return fmt.Errorf("отправка поста %d: %w", postID, err)
			}
			if err := s.storage.RecordDelivery(ctx, postID, s.opts.TargetChatID, messageID); err != nil {
				return fmt.Errorf("фиксация доставки поста %d: %w", postID, err)
			}
			metrics.NotificationsSentTotal.Inc()
			delivered = true
		}
	} else {
		if err := s.storage.SetStatus(ctx, postID, domain.StatusIgnored); err != nil {
			return fmt.Errorf("перевод поста %d в IGNORED: %w", postID, err)
		}
		metrics.NotificationsIgnoredTotal.Inc()
	}

	if err := s.storage.UpdateFingerprintProcessed(ctx, post.URLHash, score.Decision); err != nil {
		s.logger.Warn().Err(err).Int64("post_id", postID).Msg("не удалось отметить отпечаток")
	}

	s.publishProcessed(ctx, domain.ProcessedEvent{
		PostID:    postID,
		URL:       post.URL,
		Decision:  score.Decision,
		Score:     score.Total,
		Delivered: delivered,
		At:        time.Now().UTC(),
	})
	metrics.PostsProcessedTotal.Inc()
	return nil
}

// shouldAttemptFulltext решает, стоит ли ходить за полным текстом.
// Политика near_threshold прогоняет быструю оценку по тексту ленты; эта
// предварительная оценка намеренно выбрасывается и считается заново после
// загрузки: штрафы уровня доверия у двух вызовов разные.
func (s *Service) shouldAttemptFulltext(title, rssText string) bool {
	if !s.opts.FulltextEnabled || !s.opts.CookieSet {
		return false
	}
	if s.crawler.FulltextDisabled() {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(s.opts.FetchPolicy)) {
	case FetchPolicyNever:
		return false
	case FetchPolicyAlways:
		return true
	}

	pre := s.scorer.Score(title, rssText, domain.ConfidenceRSSOnly)
	if pre.Decision == domain.DecisionWhitelist {
		return true
	}
	return pre.Total >= pre.Explain.Threshold-s.opts.NearThresholdDelta
}

// shouldDeliver принимает финальное решение о доставке. До накопления
// достаточного числа отметок доставляется всё, что не в чёрном списке;
// затем включается адаптивный порог по F1.
func (s *Service) shouldDeliver(ctx context.Context, total float64, decision domain.Decision) (bool, error) {
	if decision == domain.DecisionBlacklist {
		return false, nil
	}

	count, err := s.storage.CountLabels(ctx)
	if err != nil {
		return false, fmt.Errorf("подсчёт отметок: %w", err)
	}
	if count < minLabelsToAutofilter {
		return true, nil
	}

	threshold, err := s.adaptiveThreshold(ctx)
	if err != nil {
		return false, err
	}
	if math.IsInf(threshold, 1) {
		return false, nil
	}
	if decision == domain.DecisionWhitelist {
		return true, nil
	}
	return total >= threshold, nil
}

// adaptiveThreshold возвращает адаптивный порог, кэшируя его на короткий
// срок: выборка и сортировка десятков тысяч отметок на каждый пост не нужны.
func (s *Service) adaptiveThreshold(ctx context.Context) (float64, error) {
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, thresholdCacheKey); err == nil && ok {
			if v, parseErr := strconv.ParseFloat(string(raw), 64); parseErr == nil {
				return v, nil
			}
		}
	}

	labeled, err := s.storage.LabeledScores(ctx, minLabelsToAutofilter)
	if err != nil {
		return 0, fmt.Errorf("выборка отмеченных оценок: %w", err)
	}
	threshold := BestThreshold(labeled)

	if s.cache != nil && !math.IsInf(threshold, 1) {
		value := strconv.FormatFloat(threshold, 'g', -1, 64)
		if err := s.cache.Set(ctx, thresholdCacheKey, []byte(value), thresholdCacheTTL); err != nil {
			s.logger.Debug().Err(err).Msg("не удалось закэшировать порог")
		}
	}
	return threshold, nil
}

// updateFetchStats пересчитывает последовательные счётчики сбоев по журналу
// попыток и шлёт edge-алерты.
func (s *Service) updateFetchStats(ctx context.Context, attempts []domain.FetchAttempt) {
	if len(attempts) == 0 {
		return
	}

	anyOK := false
	loginFailed := false
	for _, a := range attempts {
		if a.OK {
			anyOK = true
		}
		if a.ErrorKind == domain.FetchErrLoginRequired {
			loginFailed = true
		}
	}

	s.mu.Lock()
	if anyOK {
		s.state.ConsecutiveFetchFailures = 0
	} else {
		s.state.ConsecutiveFetchFailures++
	}
	if loginFailed {
		s.state.ConsecutiveLoginFailures++
	} else if anyOK {
		s.state.ConsecutiveLoginFailures = 0
	}
	fetchCount := s.state.ConsecutiveFetchFailures
	loginCount := s.state.ConsecutiveLoginFailures
	s.mu.Unlock()

	metrics.SetConsecutive("fetch", fetchCount)
	metrics.SetConsecutive("login", loginCount)

	s.maybeAlert(ctx, "抓取/登录", fetchCount, s.opts.AlertFetchThreshold)
	s.maybeAlert(ctx, "登录/Cookie", loginCount, s.opts.AlertLoginThreshold)
}

func (s *Service) bumpFetchFailure(ctx context.Context) {
	s.mu.Lock()
	s.state.ConsecutiveFetchFailures++
	count := s.state.ConsecutiveFetchFailures
	s.mu.Unlock()

	metrics.SetConsecutive("fetch", count)
	s.maybeAlert(ctx, "抓取/登录", count, s.opts.AlertFetchThreshold)
}

func (s *Service) bumpAIFailure(ctx context.Context) {
	s.mu.Lock()
	s.state.ConsecutiveAIFailures++
	count := s.state.ConsecutiveAIFailures
	s.mu.Unlock()

	metrics.SetConsecutive("ai", count)
	s.maybeAlert(ctx, "AI 总结", count, s.opts.AlertAIThreshold)
}

func (s *Service) resetAIFailures() {
	s.mu.Lock()
	s.state.ConsecutiveAIFailures = 0
	s.mu.Unlock()
	metrics.SetConsecutive("ai", 0)
}

// maybeAlert шлёт уведомление ровно в момент, когда счётчик впервые
// достигает порога. Повторные превышения не спамят чат.
func (s *Service) maybeAlert(ctx context.Context, name string, count, threshold int) {
	if !s.opts.AlertChatSet || threshold <= 0 || count != threshold {
		return
	}
	text := fmt.Sprintf("告警：%s 连续失败达到 %d 次（阈值 %d）。已自动降级/退避，请检查日志与 Cookie/AI 服务。", name, count, threshold)
	if err := s.notifier.SendAlert(ctx, text); err != nil {
		s.logger.Warn().Err(err).Msg("не удалось отправить алерт")
	}
}

// publishProcessed раздаёт событие внешним потребителям. Сбой публикации
// не влияет на конвейер.
func (s *Service) publishProcessed(ctx context.Context, event domain.ProcessedEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishProcessed(ctx, event); err != nil {
		s.logger.Warn().Err(err).Int64("post_id", event.PostID).Msg("не удалось опубликовать событие")
	}
}

// Cleanup запускает ретенцию хранилища.
func (s *Service) Cleanup(ctx context.Context) error {
	return s.storage.Cleanup(ctx, s.opts.DataRetention, s.opts.FingerprintRetention)
}

// statusSnapshot — содержимое status.json.
type statusSnapshot struct {
	InstanceID          string  `json:"instance_id"`
	Paused              bool    `json:"paused"`
	FulltextDisabled    bool    `json:"fulltext_disabled"`
	NextAllowedInSec    float64 `json:"html_next_allowed_in_seconds"`
	LastFeedPollAt      string  `json:"last_rss_poll_at,omitempty"`
	LastProcessedPostID int64   `json:"last_processed_post_id,omitempty"`
	ConsecutiveFailures struct {
		Fetch int `json:"fetch"`
		Login int `json:"login"`
		AI    int `json:"ai"`
	} `json:"consecutive_failures"`
}

// Snapshot собирает текущее состояние процесса.
func (s *Service) Snapshot() ([]byte, error) {
	state := s.State()

	snap := statusSnapshot{
		InstanceID:          s.instanceID,
		Paused:              state.Paused,
		FulltextDisabled:    s.crawler.FulltextDisabled(),
		LastProcessedPostID: state.LastProcessedPostID,
	}
	if s.limiter != nil {
		snap.NextAllowedInSec = s.limiter.NextAllowedIn().Seconds()
	}
	if !state.LastFeedPollAt.IsZero() {
		snap.LastFeedPollAt = state.LastFeedPollAt.Format(time.RFC3339)
	}
	snap.ConsecutiveFailures.Fetch = state.ConsecutiveFetchFailures
	snap.ConsecutiveFailures.Login = state.ConsecutiveLoginFailures
	snap.ConsecutiveFailures.AI = state.ConsecutiveAIFailures

	metrics.SetConsecutive("fetch", state.ConsecutiveFetchFailures)
	metrics.SetConsecutive("login", state.ConsecutiveLoginFailures)
	metrics.SetConsecutive("ai", state.ConsecutiveAIFailures)

	return json.MarshalIndent(snap, "", "  ")
}
