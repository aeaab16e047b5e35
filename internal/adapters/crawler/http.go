package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"nodeseek-bot/internal/domain"
)

// defaultUserAgent используется, если UA не задан в конфигурации.
const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// maxBodyBytes ограничивает чтение ответа, чтобы аномальная страница
// не съела память процесса.
const maxBodyBytes = 4 << 20

// httpFetcher загружает страницу обычным HTTP-клиентом с cookie сессии.
type httpFetcher struct {
	client    *http.Client
	cookie    string
	userAgent string
}

func newHTTPFetcher(timeout time.Duration, cookie, userAgent string) *httpFetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &httpFetcher{
		client:    &http.Client{Timeout: timeout},
		cookie:    cookie,
		userAgent: userAgent,
	}
}

func (f *httpFetcher) method() domain.FetchMethod { return domain.MethodHTTP }

func (f *httpFetcher) confidence() domain.SourceConfidence { return domain.ConfidenceFulltextHTTP }

// fetch возвращает разметку страницы и HTTP-статус. Ошибка ненулевая
// только при транспортном сбое; статусы 4xx/5xx классифицирует вызывающий.
func (f *httpFetcher) fetch(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("сборка запроса: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if f.cookie != "" {
		req.Header.Set("Cookie", f.cookie)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("чтение ответа: %w", err)
	}
	return string(body), resp.StatusCode, nil
}

// isTimeout распознаёт таймаут запроса среди транспортных ошибок.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
