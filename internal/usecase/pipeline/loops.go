package pipeline

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	processTick = 10 * time.Second
	cleanupTick = time.Hour
	statusTick  = 30 * time.Second
)

// Run запускает фоновые циклы и блокируется до отмены контекста. Циклы
// независимы: падение одной итерации пишется в лог и не трогает соседей.
func (s *Service) Run(ctx context.Context, feed FeedSource) {
	var wg sync.WaitGroup

	wg.Add(4)
	go func() {
		defer wg.Done()
		s.feedLoop(ctx, feed)
	}()
	go func() {
		defer wg.Done()
		s.processLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.cleanupLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.statusLoop(ctx)
	}()

	wg.Wait()
}

// feedLoop опрашивает ленту с интервалом и случайной задержкой, чтобы
// запросы не приходили к источнику в одну и ту же секунду.
func (s *Service) feedLoop(ctx context.Context, feed FeedSource) {
	for {
		if s.opts.FeedJitter > 0 {
			jitter := time.Duration(rand.Int63n(int64(s.opts.FeedJitter)))
			if !sleepCtx(ctx, jitter) {
				return
			}
		}
		if err := s.PollFeedOnce(ctx, feed); err != nil {
			s.logger.Error().Err(err).Msg("итерация опроса ленты не удалась")
		}
		if !sleepCtx(ctx, s.opts.FeedInterval) {
			return
		}
	}
}

func (s *Service) processLoop(ctx context.Context) {
	ticker := time.NewTicker(processTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessNext(ctx); err != nil {
				s.logger.Error().Err(err).Msg("итерация обработки не удалась")
			}
		}
	}
}

func (s *Service) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Cleanup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("итерация ретенции не удалась")
			}
		}
	}
}

func (s *Service) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.WriteStatus(); err != nil {
				s.logger.Error().Err(err).Msg("не удалось записать снимок состояния")
			}
		}
	}
}

// WriteStatus атомарно пишет снимок состояния: во временный файл с
// последующим rename, чтобы читатель никогда не видел обрезанный JSON.
func (s *Service) WriteStatus() error {
	if s.opts.StatusPath == "" {
		return nil
	}

	data, err := s.Snapshot()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.StatusPath), 0o755); err != nil {
		return err
	}
	tmp := s.opts.StatusPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.opts.StatusPath)
}

// sleepCtx ждёт d или отмену контекста; false — контекст отменён.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
