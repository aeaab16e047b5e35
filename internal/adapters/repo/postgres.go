// Package repo реализует хранилище конвейера на основе pgxpool.
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"nodeseek-bot/internal/adapters/crawler/urlutil"
	"nodeseek-bot/internal/domain"
)

// Postgres реализует domain.Storage.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.Storage = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// UpsertFromFeed реализует дедупликацию анонсов: сперва по guid, затем по
// отпечатку канонического URL. Повторный анонс обновляет заголовок и
// описание, но не трогает updated_at, чтобы не ломать порядок очереди.
func (p *Postgres) UpsertFromFeed(ctx context.Context, item domain.FeedItem) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	urlHash := urlutil.Hash(item.URL)
	guid := strings.TrimSpace(item.GUID)

	if guid != "" {
		var id int64
		err := p.pool.QueryRow(ctx, `
SELECT id FROM posts WHERE guid = $1
`, guid).Scan(&id)
		if err == nil {
			return id, p.touchFingerprint(ctx, urlHash)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("поиск поста по guid: %w", err)
		}
	}

	var id int64
	err := p.pool.QueryRow(ctx, `
INSERT INTO posts (guid, url, url_hash, title, published_at, rss_summary, status, source_confidence)
VALUES (NULLIF($1,''), $2, $3, $4, $5, NULLIF($6,''), $7, $8)
ON CONFLICT (url_hash) DO UPDATE SET
    guid = COALESCE(posts.guid, EXCLUDED.guid),
    title = EXCLUDED.title,
    rss_summary = COALESCE(EXCLUDED.rss_summary, posts.rss_summary)
RETURNING id
`, guid, item.URL, urlHash, item.Title, item.PublishedAt, item.Summary,
		string(domain.StatusNew), string(domain.ConfidenceRSSOnly)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert поста: %w", err)
	}
	return id, p.touchFingerprint(ctx, urlHash)
}

func (p *Postgres) touchFingerprint(ctx context.Context, urlHash string) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO fingerprints (url_hash, last_seen_at)
VALUES ($1, now())
ON CONFLICT (url_hash) DO UPDATE SET last_seen_at = now()
`, urlHash)
	if err != nil {
		return fmt.Errorf("обновление отпечатка: %w", err)
	}
	return nil
}

// GetPost возвращает пост по id.
func (p *Postgres) GetPost(ctx context.Context, id int64) (domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	post, err := scanPost(p.pool.QueryRow(ctx, `
SELECT id, guid, url, url_hash, title, published_at, rss_summary, status, source_confidence, created_at, updated_at
FROM posts WHERE id = $1
`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Post{}, domain.ErrPostNotFound
	}
	if err != nil {
		return domain.Post{}, fmt.Errorf("чтение поста: %w", err)
	}
	return post, nil
}

// ListRecentPosts возвращает последние обнаруженные посты.
func (p *Postgres) ListRecentPosts(ctx context.Context, limit int) ([]domain.Post, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT id, guid, url, url_hash, title, published_at, rss_summary, status, source_confidence, created_at, updated_at
FROM posts ORDER BY created_at DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("выборка постов: %w", err)
	}
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("разбор строки поста: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (domain.Post, error) {
	var (
		post       domain.Post
		guid       sql.NullString
		published  sql.NullTime
		rssSummary sql.NullString
		status     string
		confidence string
	)
	err := row.Scan(&post.ID, &guid, &post.URL, &post.URLHash, &post.Title, &published,
		&rssSummary, &status, &confidence, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return domain.Post{}, err
	}
	post.GUID = guid.String
	post.RSSSummary = rssSummary.String
	post.Status = domain.PostStatus(status)
	post.SourceConfidence = domain.SourceConfidence(confidence)
	if published.Valid {
		ts := published.Time
		post.PublishedAt = &ts
	}
	return post, nil
}

// TakeNextForProcessing отдаёт самый старый пост из очереди {NEW, FAILED}.
// FIFO по updated_at: упавший пост получает новый updated_at и уходит в
// конец очереди, не блокируя остальных.
func (p *Postgres) TakeNextForProcessing(ctx context.Context) (int64, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var id int64
	err := p.pool.QueryRow(ctx, `
SELECT id FROM posts
WHERE status = ANY($1)
ORDER BY updated_at ASC
LIMIT 1
`, []string{string(domain.StatusNew), string(domain.StatusFailed)}).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("выбор поста из очереди: %w", err)
	}
	return id, true, nil
}

// SetStatus переводит пост в новый статус.
func (p *Postgres) SetStatus(ctx context.Context, id int64, status domain.PostStatus) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, `
UPDATE posts SET status = $2, updated_at = now() WHERE id = $1
`, id, string(status))
	if err != nil {
		return fmt.Errorf("смена статуса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// SaveContent сохраняет извлечённый текст (не более одной записи на пост),
// фиксирует уровень доверия источника и переводит пост в FETCHED.
func (p *Postgres) SaveContent(ctx context.Context, id int64, content domain.Content) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO contents (post_id, content_text, content_hash, content_len, fetched_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (post_id) DO UPDATE SET
    content_text = EXCLUDED.content_text,
    content_hash = EXCLUDED.content_hash,
    content_len = EXCLUDED.content_len,
    fetched_at = EXCLUDED.fetched_at
`, id, content.Text, content.Hash, content.Length, content.FetchedAt)
	if err != nil {
		return fmt.Errorf("сохранение контента: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
UPDATE posts SET status = $2, source_confidence = $3, updated_at = now() WHERE id = $1
`, id, string(domain.StatusFetched), string(content.SourceConfidence))
	if err != nil {
		return fmt.Errorf("обновление доверия источника: %w", err)
	}
	return nil
}

// AddFetchAttempt дописывает запись в журнал попыток загрузки.
func (p *Postgres) AddFetchAttempt(ctx context.Context, id int64, attemptNo int, attempt domain.FetchAttempt) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO fetch_attempts (post_id, attempt_no, method, ok, http_status, error_kind, error_detail, duration_ms)
VALUES ($1, $2, $3, $4, NULLIF($5, 0), NULLIF($6,''), NULLIF($7,''), $8)
`, id, attemptNo, string(attempt.Method), attempt.OK, attempt.HTTPStatus,
		string(attempt.ErrorKind), attempt.ErrorDetail, attempt.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("запись попытки загрузки: %w", err)
	}
	return nil
}

// SaveSummary сохраняет резюме поста.
func (p *Postgres) SaveSummary(ctx context.Context, id int64, summary domain.Summary) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	keyPoints, err := json.Marshal(summary.KeyPoints)
	if err != nil {
		return fmt.Errorf("сериализация key_points: %w", err)
	}
	actions, err := json.Marshal(summary.Actions)
	if err != nil {
		return fmt.Errorf("сериализация actions: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO ai_summaries (post_id, model, prompt_version, summary_text, key_points, actions, token_in, token_out)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (post_id) DO UPDATE SET
    model = EXCLUDED.model,
    prompt_version = EXCLUDED.prompt_version,
    summary_text = EXCLUDED.summary_text,
    key_points = EXCLUDED.key_points,
    actions = EXCLUDED.actions,
    token_in = EXCLUDED.token_in,
    token_out = EXCLUDED.token_out
`, id, summary.Model, summary.PromptVersion, summary.Text, keyPoints, actions, summary.TokensIn, summary.TokensOut)
	if err != nil {
		return fmt.Errorf("сохранение резюме: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `
UPDATE posts SET status = $2, updated_at = now() WHERE id = $1
`, id, string(domain.StatusSummarized)); err != nil {
		return fmt.Errorf("перевод в SUMMARIZED: %w", err)
	}
	return nil
}

// LoadSummary возвращает резюме поста, если оно есть.
func (p *Postgres) LoadSummary(ctx context.Context, id int64) (domain.Summary, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		summary   domain.Summary
		keyPoints []byte
		actions   []byte
	)
	err := p.pool.QueryRow(ctx, `
SELECT model, prompt_version, summary_text, key_points, actions, COALESCE(token_in, 0), COALESCE(token_out, 0)
FROM ai_summaries WHERE post_id = $1
`, id).Scan(&summary.Model, &summary.PromptVersion, &summary.Text, &keyPoints, &actions, &summary.TokensIn, &summary.TokensOut)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Summary{}, false, nil
	}
	if err != nil {
		return domain.Summary{}, false, fmt.Errorf("чтение резюме: %w", err)
	}
	if len(keyPoints) > 0 {
		if err := json.Unmarshal(keyPoints, &summary.KeyPoints); err != nil {
			return domain.Summary{}, false, fmt.Errorf("разбор key_points: %w", err)
		}
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &summary.Actions); err != nil {
			return domain.Summary{}, false, fmt.Errorf("разбор actions: %w", err)
		}
	}
	return summary, true, nil
}

// SaveScore сохраняет оценку и её разбор.
func (p *Postgres) SaveScore(ctx context.Context, id int64, score domain.Score) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	explain, err := json.Marshal(score.Explain)
	if err != nil {
		return fmt.Errorf("сериализация explain: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO scores (post_id, score_total, decision, explain)
VALUES ($1, $2, $3, $4)
ON CONFLICT (post_id) DO UPDATE SET
    score_total = EXCLUDED.score_total,
    decision = EXCLUDED.decision,
    explain = EXCLUDED.explain,
    created_at = now()
`, id, score.Total, string(score.Decision), explain)
	if err != nil {
		return fmt.Errorf("сохранение оценки: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `
UPDATE posts SET status = $2, updated_at = now() WHERE id = $1
`, id, string(domain.StatusScored)); err != nil {
		return fmt.Errorf("перевод в SCORED: %w", err)
	}
	return nil
}

// LoadScore возвращает оценку поста, если она есть.
func (p *Postgres) LoadScore(ctx context.Context, id int64) (domain.Score, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		score    domain.Score
		decision string
		explain  []byte
	)
	err := p.pool.QueryRow(ctx, `
SELECT score_total, decision, explain FROM scores WHERE post_id = $1
`, id).Scan(&score.Total, &decision, &explain)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Score{}, false, nil
	}
	if err != nil {
		return domain.Score{}, false, fmt.Errorf("чтение оценки: %w", err)
	}
	score.Decision = domain.Decision(decision)
	if err := json.Unmarshal(explain, &score.Explain); err != nil {
		return domain.Score{}, false, fmt.Errorf("разбор explain: %w", err)
	}
	return score, true, nil
}

// RecordDelivery фиксирует отправку поста в чат. Повторная фиксация той же
// пары (пост, чат) тихо игнорируется: уникальность держит индекс в БД.
func (p *Postgres) RecordDelivery(ctx context.Context, postID, chatID int64, messageID int) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO deliveries (post_id, target_chat_id, message_id)
VALUES ($1, $2, $3)
ON CONFLICT (post_id, target_chat_id) DO NOTHING
`, postID, chatID, messageID)
	if err != nil {
		return fmt.Errorf("запись доставки: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `
UPDATE posts SET status = $2, updated_at = now() WHERE id = $1
`, postID, string(domain.StatusNotified)); err != nil {
		return fmt.Errorf("перевод в NOTIFIED: %w", err)
	}
	return nil
}

// HasDelivery проверяет, отправлялся ли пост в чат.
func (p *Postgres) HasDelivery(ctx context.Context, postID, chatID int64) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var exists bool
	err := p.pool.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM deliveries WHERE post_id = $1 AND target_chat_id = $2)
`, postID, chatID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("проверка доставки: %w", err)
	}
	return exists, nil
}

// UpdateFingerprintProcessed отмечает финальное решение по отпечатку URL.
// Отпечатки живут дольше постов и защищают от повторной обработки после
// ретенции.
func (p *Postgres) UpdateFingerprintProcessed(ctx context.Context, urlHash string, decision domain.Decision) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO fingerprints (url_hash, last_seen_at, last_processed_at, last_decision)
VALUES ($1, now(), now(), $2)
ON CONFLICT (url_hash) DO UPDATE SET last_processed_at = now(), last_decision = EXCLUDED.last_decision
`, urlHash, string(decision))
	if err != nil {
		return fmt.Errorf("отметка отпечатка: %w", err)
	}
	return nil
}

// UpsertLabel сохраняет отметку администратора. Одна отметка на пост,
// последняя побеждает.
func (p *Postgres) UpsertLabel(ctx context.Context, postID int64, label domain.LabelValue, labeledBy int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	_, err := p.pool.Exec(ctx, `
INSERT INTO labels (post_id, label, labeled_by)
VALUES ($1, $2, $3)
ON CONFLICT (post_id) DO UPDATE SET
    label = EXCLUDED.label,
    labeled_by = EXCLUDED.labeled_by,
    labeled_at = now()
`, postID, string(label), labeledBy)
	if err != nil {
		return fmt.Errorf("сохранение отметки: %w", err)
	}
	return nil
}

// CountLabels возвращает суммарное число отметок.
func (p *Postgres) CountLabels(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var count int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM labels`).Scan(&count); err != nil {
		return 0, fmt.Errorf("подсчёт отметок: %w", err)
	}
	return count, nil
}

// LabeledScores возвращает последние пары (оценка, отметка) для расчёта
// адаптивного порога.
func (p *Postgres) LabeledScores(ctx context.Context, limit int) ([]domain.LabeledScore, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	rows, err := p.pool.Query(ctx, `
SELECT s.score_total, l.label
FROM labels l
JOIN scores s ON s.post_id = l.post_id
ORDER BY l.labeled_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("выборка отмеченных оценок: %w", err)
	}
	defer rows.Close()

	var out []domain.LabeledScore
	for rows.Next() {
		var (
			score float64
			label string
		)
		if err := rows.Scan(&score, &label); err != nil {
			return nil, fmt.Errorf("разбор отмеченной оценки: %w", err)
		}
		out = append(out, domain.LabeledScore{
			Score:  score,
			Useful: label == string(domain.LabelUseful),
		})
	}
	return out, rows.Err()
}

// ResetPost стирает производные данные поста и возвращает его в статус NEW.
func (p *Postgres) ResetPost(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("открытие транзакции: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"deliveries", "fetch_attempts", "contents", "ai_summaries", "scores"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE post_id = $1`, id); err != nil {
			return fmt.Errorf("очистка %s: %w", table, err)
		}
	}

	tag, err := tx.Exec(ctx, `
UPDATE posts SET status = $2, source_confidence = $3, updated_at = now() WHERE id = $1
`, id, string(domain.StatusNew), string(domain.ConfidenceRSSOnly))
	if err != nil {
		return fmt.Errorf("возврат поста в очередь: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return tx.Commit(ctx)
}

// Cleanup выполняет ретенцию. Тексты контента занимают основной объём и
// зануляются отдельно, строки удаляются только вместе с терминальными
// постами. Отпечатки переживают посты и удерживают дедупликацию.
func (p *Postgres) Cleanup(ctx context.Context, dataRetention, fingerprintRetention time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	dataCutoff := time.Now().Add(-dataRetention)
	fingerprintCutoff := time.Now().Add(-fingerprintRetention)

	if _, err := p.pool.Exec(ctx, `
UPDATE contents SET content_text = NULL
WHERE fetched_at < $1 AND content_text IS NOT NULL
`, dataCutoff); err != nil {
		return fmt.Errorf("зануление старых текстов: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `
DELETE FROM fetch_attempts WHERE created_at < $1
`, dataCutoff); err != nil {
		return fmt.Errorf("очистка журнала попыток: %w", err)
	}

	// Резюме, оценки и доставки живут только внутри окна ретенции, даже если
	// родительский пост ещё не удалён.
	if _, err := p.pool.Exec(ctx, `
DELETE FROM ai_summaries WHERE created_at < $1
`, dataCutoff); err != nil {
		return fmt.Errorf("очистка старых резюме: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `
DELETE FROM scores WHERE created_at < $1
`, dataCutoff); err != nil {
		return fmt.Errorf("очистка старых оценок: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `
DELETE FROM deliveries WHERE delivered_at < $1
`, dataCutoff); err != nil {
		return fmt.Errorf("очистка журнала доставок: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `
DELETE FROM posts
WHERE status = ANY($1) AND updated_at < $2
`, terminalStatuses(), dataCutoff); err != nil {
		return fmt.Errorf("удаление терминальных постов: %w", err)
	}

	if _, err := p.pool.Exec(ctx, `
DELETE FROM fingerprints WHERE last_seen_at < $1
`, fingerprintCutoff); err != nil {
		return fmt.Errorf("очистка отпечатков: %w", err)
	}
	return nil
}

// terminalStatuses — статусы, в которых пост больше не ждёт обработки и
// может быть удалён по окну ретенции. FAILED и NEW остаются в очереди.
func terminalStatuses() []string {
	return []string{
		string(domain.StatusFetched),
		string(domain.StatusSummarized),
		string(domain.StatusScored),
		string(domain.StatusNotified),
		string(domain.StatusIgnored),
	}
}
