package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию процесса.
type AppConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Telegram struct {
		Token        string `envconfig:"TG_BOT_TOKEN"`
		TargetChatID int64  `envconfig:"TG_TARGET_CHAT_ID"`
		AdminUserID  int64  `envconfig:"TG_ADMIN_USER_ID"`
		AlertChatID  int64  `envconfig:"TG_ALERT_CHAT_ID"`
	} `envconfig:""`

	Feed struct {
		URL      string        `envconfig:"FEED_URL" default:"https://rss.nodeseek.com/"`
		Interval time.Duration `envconfig:"FEED_INTERVAL" default:"60s"`
		Jitter   time.Duration `envconfig:"FEED_JITTER" default:"10s"`
		Timeout  time.Duration `envconfig:"FEED_TIMEOUT" default:"20s"`
	} `envconfig:""`

	Fulltext struct {
		Enabled            bool          `envconfig:"FULLTEXT_ENABLED" default:"true"`
		Cookie             string        `envconfig:"SITE_COOKIE"`
		MinInterval        time.Duration `envconfig:"HTML_MIN_INTERVAL" default:"60s"`
		Jitter             time.Duration `envconfig:"HTML_JITTER" default:"15s"`
		HTTPTimeout        time.Duration `envconfig:"HTML_HTTP_TIMEOUT" default:"30s"`
		MaxRetries         int           `envconfig:"HTML_MAX_RETRIES" default:"2"`
		StopOnAntibot      bool          `envconfig:"STOP_FULLTEXT_ON_ANTIBOT" default:"true"`
		LoginBackoff       time.Duration `envconfig:"LOGIN_BACKOFF" default:"1h"`
		FetchPolicy        string        `envconfig:"FULLTEXT_FETCH_POLICY" default:"near_threshold"`
		NearThresholdDelta float64       `envconfig:"FULLTEXT_NEAR_THRESHOLD_DELTA" default:"4"`
		UserAgent          string        `envconfig:"USER_AGENT" default:"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"`
	} `envconfig:""`

	Browser struct {
		Enabled    bool          `envconfig:"BROWSER_FALLBACK_ENABLED" default:"true"`
		Headless   bool          `envconfig:"BROWSER_HEADLESS" default:"true"`
		NavTimeout time.Duration `envconfig:"BROWSER_NAV_TIMEOUT" default:"45s"`
	} `envconfig:""`

	AI struct {
		BaseURL             string        `envconfig:"AI_BASE_URL"`
		APIKey              string        `envconfig:"AI_API_KEY"`
		Model               string        `envconfig:"AI_MODEL"`
		Timeout             time.Duration `envconfig:"AI_TIMEOUT" default:"180s"`
		MaxRetries          int           `envconfig:"AI_MAX_RETRIES" default:"2"`
		PreferChat          bool          `envconfig:"AI_PREFER_CHAT_COMPLETIONS" default:"true"`
		FallbackToResponses bool          `envconfig:"AI_FALLBACK_TO_RESPONSES" default:"true"`
		MaxInputChars       int           `envconfig:"AI_MAX_INPUT_CHARS" default:"200000"`
		ChunkChars          int           `envconfig:"AI_CHUNK_CHARS" default:"60000"`
		ChunkOverlapChars   int           `envconfig:"AI_CHUNK_OVERLAP_CHARS" default:"1500"`
	} `envconfig:""`

	Rules struct {
		Path          string `envconfig:"RULES_PATH" default:"rules/rules.yaml"`
		OverridesPath string `envconfig:"RULES_OVERRIDES_PATH" default:"rules/overrides.yaml"`
	} `envconfig:""`

	PGDSN            string        `envconfig:"PG_DSN"`
	PGMaxConns       int32         `envconfig:"PG_MAX_CONNS" default:"4"`
	PGConnectTimeout time.Duration `envconfig:"PG_CONNECT_TIMEOUT" default:"10s"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQP struct {
		URL      string `envconfig:"AMQP_URL"`
		Exchange string `envconfig:"AMQP_EXCHANGE" default:"nodeseek.events"`
	} `envconfig:""`

	Retention struct {
		Data         time.Duration `envconfig:"DATA_RETENTION" default:"168h"`
		Fingerprints time.Duration `envconfig:"FINGERPRINT_RETENTION" default:"87600h"`
	} `envconfig:""`

	Ops struct {
		Addr           string `envconfig:"OPS_ADDR" default:"127.0.0.1:9108"`
		StatusJSONPath string `envconfig:"STATUS_JSON_PATH" default:"data/status.json"`
	} `envconfig:""`

	Alerts struct {
		FetchThreshold int `envconfig:"ALERT_N_FETCH" default:"5"`
		LoginThreshold int `envconfig:"ALERT_N_LOGIN" default:"3"`
		AIThreshold    int `envconfig:"ALERT_N_AI" default:"5"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
