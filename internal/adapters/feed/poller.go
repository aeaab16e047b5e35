// Package feed читает RSS-ленту источника и приводит записи к доменной модели.
package feed

import (
	"context"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"nodeseek-bot/internal/adapters/crawler/urlutil"
	"nodeseek-bot/internal/domain"
)

// Poller опрашивает RSS-ленту по HTTP.
type Poller struct {
	logger  zerolog.Logger
	parser  *gofeed.Parser
	url     string
	timeout time.Duration
}

// NewPoller создаёт опросчик ленты.
func NewPoller(logger zerolog.Logger, url string, timeout time.Duration, userAgent string) *Poller {
	parser := gofeed.NewParser()
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	return &Poller{
		logger:  logger.With().Str("component", "feed").Logger(),
		parser:  parser,
		url:     url,
		timeout: timeout,
	}
}

// Fetch загружает и разбирает ленту. Битая лента не считается ошибкой
// конвейера: пишем в лог и возвращаем пустой список.
func (p *Poller) Fetch(ctx context.Context) ([]domain.FeedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	parsed, err := p.parser.ParseURLWithContext(p.url, ctx)
	if err != nil {
		p.logger.Warn().Err(err).Str("url", p.url).Msg("не удалось разобрать ленту")
		return nil, nil
	}

	items := make([]domain.FeedItem, 0, len(parsed.Items))
	for _, raw := range parsed.Items {
		item, ok := p.convert(raw)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (p *Poller) convert(raw *gofeed.Item) (domain.FeedItem, bool) {
	link := strings.TrimSpace(raw.Link)
	if link == "" {
		return domain.FeedItem{}, false
	}
	canonical := urlutil.Canonicalize(link)

	item := domain.FeedItem{
		GUID:    strings.TrimSpace(raw.GUID),
		URL:     canonical,
		Title:   strings.TrimSpace(raw.Title),
		Summary: strings.TrimSpace(raw.Description),
	}
	if item.Summary == "" && raw.Content != "" {
		item.Summary = strings.TrimSpace(raw.Content)
	}
	if raw.PublishedParsed != nil {
		published := raw.PublishedParsed.UTC()
		item.PublishedAt = &published
	}
	return item, true
}
