package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"nodeseek-bot/internal/domain"
)

// browserFetcher загружает страницу через headless-браузер. Нужен для
// страниц, которые отдают контент только после исполнения JavaScript.
type browserFetcher struct {
	allocator   context.Context
	allocCancel context.CancelFunc
	cookie      string
	userAgent   string
	navTimeout  time.Duration
}

func newBrowserFetcher(headless bool, navTimeout time.Duration, cookie, userAgent string) *browserFetcher {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &browserFetcher{
		allocator:   allocCtx,
		allocCancel: allocCancel,
		cookie:      cookie,
		userAgent:   userAgent,
		navTimeout:  navTimeout,
	}
}

// Close останавливает аллокатор браузера.
func (f *browserFetcher) Close() {
	f.allocCancel()
}

func (f *browserFetcher) method() domain.FetchMethod { return domain.MethodBrowser }

func (f *browserFetcher) confidence() domain.SourceConfidence {
	return domain.ConfidenceFulltextBrowser
}

// fetch рендерит страницу и возвращает итоговый DOM. HTTP-статус документа
// снимается из событий network; 0 трактуется вызывающим как успех.
func (f *browserFetcher) fetch(ctx context.Context, url string) (string, int, error) {
	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.navTimeout)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()

	status := 0
	chromedp.ListenTarget(taskCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
			return
		}
		status = int(resp.Response.Status)
	})

	var html string
	actions := []chromedp.Action{
		f.setupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", status, fmt.Errorf("навигация браузера: %w", err)
	}
	return html, status, nil
}

func (f *browserFetcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("включение network: %w", err)
		}
		if err := emulation.SetUserAgentOverride(f.userAgent).Do(ctx); err != nil {
			return fmt.Errorf("установка user-agent: %w", err)
		}
		if f.cookie != "" {
			headers := network.Headers{"Cookie": f.cookie}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("установка cookie: %w", err)
			}
		}
		return nil
	})
}
