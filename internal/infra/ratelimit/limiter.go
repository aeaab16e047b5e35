// Package ratelimit ограничивает частоту обращений к защищаемому ресурсу:
// между выдачами проходит не меньше минимального интервала плюс случайный
// джиттер, чтобы не создавать ровный шаблон нагрузки на сайт-источник.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MinIntervalLimiter — общий шлюз для всех способов загрузки одного сайта.
type MinIntervalLimiter struct {
	minInterval time.Duration
	jitter      time.Duration

	mu          sync.Mutex
	nextAllowed time.Time
}

// New создаёт лимитер. Отрицательные значения трактуются как ноль.
func New(minInterval, jitter time.Duration) *MinIntervalLimiter {
	if minInterval < 0 {
		minInterval = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	return &MinIntervalLimiter{minInterval: minInterval, jitter: jitter}
}

// Acquire блокирует вызывающего до следующего разрешённого момента и
// атомарно резервирует слот. При отмене контекста слот считается
// израсходованным: лишняя пауза безопаснее лишнего запроса.
func (l *MinIntervalLimiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	grantAt := l.nextAllowed
	if grantAt.Before(now) {
		grantAt = now
	}
	spacing := l.minInterval
	if l.jitter > 0 {
		spacing += time.Duration(rand.Int63n(int64(l.jitter)))
	}
	l.nextAllowed = grantAt.Add(spacing)
	l.mu.Unlock()

	wait := time.Until(grantAt)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NextAllowedIn возвращает оставшееся время ожидания, не занимая слот.
func (l *MinIntervalLimiter) NextAllowedIn() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	wait := time.Until(l.nextAllowed)
	if wait < 0 {
		return 0
	}
	return wait
}
