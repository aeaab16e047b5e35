package pipeline

import "time"

// RuntimeState — явное состояние процесса вместо разрозненных глобальных
// счётчиков. Мутируется только под мьютексом сервиса.
type RuntimeState struct {
	Paused                   bool
	LastFeedPollAt           time.Time
	LastProcessedPostID      int64
	ConsecutiveFetchFailures int
	ConsecutiveLoginFailures int
	ConsecutiveAIFailures    int
}
