package domain

import "time"

// PostStatus описывает этап жизненного цикла поста.
type PostStatus string

const (
	// StatusNew — пост обнаружен в ленте и ждёт обработки.
	StatusNew PostStatus = "NEW"
	// StatusFetched — полный текст получен (или зафиксирован откат на ленту).
	StatusFetched PostStatus = "FETCHED"
	// StatusSummarized — резюме построено.
	StatusSummarized PostStatus = "SUMMARIZED"
	// StatusScored — оценка рассчитана.
	StatusScored PostStatus = "SCORED"
	// StatusNotified — пост отправлен в целевой чат.
	StatusNotified PostStatus = "NOTIFIED"
	// StatusIgnored — пост отфильтрован и не отправлен.
	StatusIgnored PostStatus = "IGNORED"
	// StatusFailed — необработанная ошибка при загрузке; пост вернётся в очередь.
	StatusFailed PostStatus = "FAILED"
)

// SourceConfidence описывает происхождение текста поста.
type SourceConfidence string

const (
	// ConfidenceRSSOnly — только краткое описание из ленты, низшее доверие.
	ConfidenceRSSOnly SourceConfidence = "RSS_ONLY"
	// ConfidenceFulltextHTTP — полный текст получен обычным HTTP-запросом.
	ConfidenceFulltextHTTP SourceConfidence = "FULLTEXT_HTTP"
	// ConfidenceFulltextBrowser — полный текст получен через headless-браузер.
	ConfidenceFulltextBrowser SourceConfidence = "FULLTEXT_BROWSER"
)

// FeedItem представляет одну запись из RSS-ленты.
type FeedItem struct {
	GUID        string
	URL         string
	Title       string
	PublishedAt *time.Time
	Summary     string
}

// Post представляет обнаруженный пост форума.
type Post struct {
	ID               int64
	GUID             string
	URL              string
	URLHash          string
	Title            string
	PublishedAt      *time.Time
	RSSSummary       string
	Status           PostStatus
	SourceConfidence SourceConfidence
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Content хранит извлечённый текст поста. Не более одной записи на пост.
type Content struct {
	Text             string
	Hash             string
	Length           int
	FetchedAt        time.Time
	SourceConfidence SourceConfidence
}

// FetchMethod определяет способ загрузки страницы.
type FetchMethod string

const (
	// MethodHTTP — обычный HTTP-клиент.
	MethodHTTP FetchMethod = "HTTP"
	// MethodBrowser — headless-браузер.
	MethodBrowser FetchMethod = "BROWSER"
)

// FetchErrorKind классифицирует ожидаемые ошибки загрузки.
type FetchErrorKind string

const (
	// FetchErrLoginRequired — страница требует авторизацию, cookie устарел.
	FetchErrLoginRequired FetchErrorKind = "LOGIN_REQUIRED"
	// FetchErrAntibot — обнаружена challenge-страница антибот-защиты.
	FetchErrAntibot FetchErrorKind = "ANTIBOT"
	// FetchErrParseFail — разметка получена, но текст извлечь не удалось.
	FetchErrParseFail FetchErrorKind = "PARSE_FAIL"
	// FetchErrTimeout — истёк таймаут запроса или навигации.
	FetchErrTimeout FetchErrorKind = "TIMEOUT"
	// FetchErrHTTP — транспортная ошибка или статус 4xx/5xx.
	FetchErrHTTP FetchErrorKind = "HTTP_ERROR"
	// FetchErrUnknown — всё остальное.
	FetchErrUnknown FetchErrorKind = "UNKNOWN"
)

// FetchAttempt — запись журнала об одной попытке загрузки. Только добавляется.
type FetchAttempt struct {
	Method      FetchMethod
	OK          bool
	HTTPStatus  int
	ErrorKind   FetchErrorKind
	ErrorDetail string
	Duration    time.Duration
}

// Summary содержит структурированное резюме поста.
type Summary struct {
	Model         string
	PromptVersion string
	Text          string
	KeyPoints     []string
	Actions       []string
	TokensIn      int
	TokensOut     int
}

// Decision — итог классификации поста.
type Decision string

const (
	// DecisionWhitelist — сработало ключевое слово белого списка, доставлять всегда.
	DecisionWhitelist Decision = "WHITELIST"
	// DecisionBlacklist — сработал чёрный список, не доставлять никогда.
	DecisionBlacklist Decision = "BLACKLIST"
	// DecisionPush — набрал статический порог.
	DecisionPush Decision = "PUSH"
	// DecisionIgnore — не набрал статический порог.
	DecisionIgnore Decision = "IGNORE"
)

// Contribution описывает один вклад в итоговую оценку.
type Contribution struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

// Explain — разбор оценки для объяснимости.
type Explain struct {
	Threshold        float64          `json:"threshold"`
	RawScore         float64          `json:"raw_score"`
	Confidence       SourceConfidence `json:"confidence"`
	ConfidenceFactor float64          `json:"confidence_factor"`
	RSSOnlyPenalty   float64          `json:"rss_only_penalty"`
	Decision         Decision         `json:"decision"`
	Reason           string           `json:"reason,omitempty"`
	Contributions    []Contribution   `json:"contributions,omitempty"`
}

// Score — результат работы движка правил для поста.
type Score struct {
	Total    float64
	Decision Decision
	Explain  Explain
}

// LabelValue — отметка администратора о полезности поста.
type LabelValue string

const (
	// LabelUseful — пост был полезен.
	LabelUseful LabelValue = "useful"
	// LabelUseless — пост был бесполезен.
	LabelUseless LabelValue = "useless"
)

// LabeledScore — пара (оценка, отметка) для расчёта адаптивного порога.
type LabeledScore struct {
	Score  float64
	Useful bool
}

// ProcessedEvent публикуется после финального решения по посту.
type ProcessedEvent struct {
	PostID    int64     `json:"post_id"`
	URL       string    `json:"url"`
	Decision  Decision  `json:"decision"`
	Score     float64   `json:"score"`
	Delivered bool      `json:"delivered"`
	At        time.Time `json:"at"`
}
