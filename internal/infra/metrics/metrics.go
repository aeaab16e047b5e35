package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedPollsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feed_polls_total",
		Help: "Количество опросов RSS-ленты",
	})
	PostsDiscoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "posts_discovered_total",
		Help: "Количество обнаруженных постов",
	})
	PostsProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "posts_processed_total",
		Help: "Количество постов, прошедших конвейер",
	})

	FetchAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_attempts_total",
		Help: "Попытки загрузки полного текста",
	}, []string{"method", "status"})

	AICallsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_calls_total",
		Help: "Вызовы API суммаризации",
	})
	AIFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ai_fail_total",
		Help: "Неудачные вызовы API суммаризации",
	})
	AILatencySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ai_latency_seconds",
		Help:    "Длительность вызова суммаризации",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60, 120, 240},
	})

	NotificationsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Отправленные уведомления",
	})
	NotificationsIgnoredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_ignored_total",
		Help: "Отфильтрованные посты",
	})

	ConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "consecutive_failures",
		Help: "Текущие серии последовательных сбоев",
	}, []string{"type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FeedPollsTotal,
		PostsDiscoveredTotal,
		PostsProcessedTotal,
		FetchAttemptsTotal,
		AICallsTotal,
		AIFailTotal,
		AILatencySeconds,
		NotificationsSentTotal,
		NotificationsIgnoredTotal,
		ConsecutiveFailures,
	)
}

// ObserveFetchAttempt учитывает попытку загрузки.
func ObserveFetchAttempt(method string, ok bool) {
	status := "fail"
	if ok {
		status = "success"
	}
	FetchAttemptsTotal.WithLabelValues(method, status).Inc()
}

// SetConsecutive выставляет серию сбоев указанного типа.
func SetConsecutive(kind string, value int) {
	ConsecutiveFailures.WithLabelValues(kind).Set(float64(value))
}

// ObserveAICall учитывает вызов суммаризации.
func ObserveAICall(start time.Time, err error) {
	AICallsTotal.Inc()
	AILatencySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		AIFailTotal.Inc()
	}
}
