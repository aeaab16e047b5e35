package domain

import (
	"context"
	"errors"
	"time"
)

// ErrPostNotFound возвращается хранилищем, если пост не существует.
var ErrPostNotFound = errors.New("пост не найден")

// Storage — единая точка доступа к персистентному состоянию конвейера.
type Storage interface {
	// UpsertFromFeed создаёт или обновляет пост по guid либо по хэшу
	// канонического URL и возвращает его id. Повторный анонс в ленте
	// никогда не создаёт вторую строку.
	UpsertFromFeed(ctx context.Context, item FeedItem) (int64, error)

	GetPost(ctx context.Context, id int64) (Post, error)
	ListRecentPosts(ctx context.Context, limit int) ([]Post, error)

	// TakeNextForProcessing возвращает id самого старого поста в статусе
	// NEW или FAILED (FIFO по updated_at). ok=false, если очередь пуста.
	TakeNextForProcessing(ctx context.Context) (id int64, ok bool, err error)

	SetStatus(ctx context.Context, id int64, status PostStatus) error
	SaveContent(ctx context.Context, id int64, content Content) error
	AddFetchAttempt(ctx context.Context, id int64, attemptNo int, attempt FetchAttempt) error
	SaveSummary(ctx context.Context, id int64, summary Summary) error
	LoadSummary(ctx context.Context, id int64) (Summary, bool, error)
	SaveScore(ctx context.Context, id int64, score Score) error
	LoadScore(ctx context.Context, id int64) (Score, bool, error)

	// RecordDelivery фиксирует отправку. Уникальность (пост, чат)
	// обеспечивается ограничением в БД, а не состоянием процесса.
	RecordDelivery(ctx context.Context, postID, chatID int64, messageID int) error
	HasDelivery(ctx context.Context, postID, chatID int64) (bool, error)

	UpdateFingerprintProcessed(ctx context.Context, urlHash string, decision Decision) error

	UpsertLabel(ctx context.Context, postID int64, label LabelValue, labeledBy int64) error
	CountLabels(ctx context.Context) (int, error)
	LabeledScores(ctx context.Context, limit int) ([]LabeledScore, error)

	// ResetPost очищает доставки, попытки, контент, резюме и оценку,
	// возвращая пост в статус NEW для повторной обработки.
	ResetPost(ctx context.Context, id int64) error

	// Cleanup выполняет ретенцию: тексты и служебные записи живут
	// dataRetention, отпечатки URL — fingerprintRetention.
	Cleanup(ctx context.Context, dataRetention, fingerprintRetention time.Duration) error
}

// Crawler загружает полный текст поста в режиме best-effort.
type Crawler interface {
	// FetchBestEffort никогда не возвращает ошибку для классифицированных
	// сбоев (антибот, логин, таймаут, HTTP): вместо этого отдаёт контент
	// уровня RSS_ONLY и журнал попыток. Ошибка означает только
	// неожиданный сбой.
	FetchBestEffort(ctx context.Context, url, fallbackText string) (Content, []FetchAttempt, error)

	FulltextDisabled() bool
	EnableFulltext()
	DisableFulltextFor(d time.Duration)
	DisableFulltextForever()
}

// Summarizer строит структурированное резюме произвольно длинного текста.
type Summarizer interface {
	Summarize(ctx context.Context, title, url, text string) (Summary, error)
}

// Scorer вычисляет оценку релевантности по скомпилированным правилам.
type Scorer interface {
	Score(title, text string, confidence SourceConfidence) Score
}

// Notifier отправляет сообщения в канал уведомлений.
type Notifier interface {
	// SendPost отправляет пост с резюме и кнопками обратной связи,
	// возвращая идентификатор исходящего сообщения.
	SendPost(ctx context.Context, post Post, summary *Summary, score Score) (int, error)
	// SendAlert отправляет служебное сообщение администратору.
	SendAlert(ctx context.Context, text string) error
}

// EventPublisher раздаёт события об обработанных постах внешним потребителям.
type EventPublisher interface {
	PublishProcessed(ctx context.Context, event ProcessedEvent) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}
