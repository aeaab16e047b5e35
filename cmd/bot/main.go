package main

import (
	"context"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"nodeseek-bot/internal/adapters/bot"
	"nodeseek-bot/internal/adapters/crawler"
	"nodeseek-bot/internal/adapters/events"
	"nodeseek-bot/internal/adapters/feed"
	"nodeseek-bot/internal/adapters/repo"
	"nodeseek-bot/internal/adapters/summarizer"
	"nodeseek-bot/internal/domain"
	"nodeseek-bot/internal/infra/cache"
	"nodeseek-bot/internal/infra/config"
	"nodeseek-bot/internal/infra/db"
	applog "nodeseek-bot/internal/infra/log"
	"nodeseek-bot/internal/infra/metrics"
	"nodeseek-bot/internal/infra/openai"
	"nodeseek-bot/internal/infra/ratelimit"
	"nodeseek-bot/internal/usecase/pipeline"
	"nodeseek-bot/internal/usecase/rules"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.PGDSN == "" {
		logger.Fatal().Msg("PG_DSN не задан")
	}
	if err := db.RunMigrations(cfg.PGDSN); err != nil {
		logger.Fatal().Err(err).Msg("миграции не применились")
	}
	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns, cfg.PGConnectTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("нет подключения к БД")
	}
	defer pool.Close()
	storage := repo.NewPostgres(pool)

	var appCache domain.Cache = cache.Noop{}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		appCache = cache.NewRedis(redisClient)
	}

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("TG_BOT_TOKEN не задан")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram api недоступен")
	}
	notifier := bot.NewNotifier(botAPI, logger, cfg.Telegram.TargetChatID, cfg.Telegram.AlertChatID)

	rulesManager, err := rules.NewManager(logger, cfg.Rules.Path, cfg.Rules.OverridesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("правила не загрузились")
	}

	limiter := ratelimit.New(cfg.Fulltext.MinInterval, cfg.Fulltext.Jitter)
	httpFetcher := crawler.NewHTTPFetcher(cfg.Fulltext.HTTPTimeout, cfg.Fulltext.Cookie, cfg.Fulltext.UserAgent)
	crawlOpts := crawler.Options{
		MaxRetries:    cfg.Fulltext.MaxRetries,
		StopOnAntibot: cfg.Fulltext.StopOnAntibot,
		LoginBackoff:  cfg.Fulltext.LoginBackoff,
	}
	var crawlSvc *crawler.Service
	if cfg.Browser.Enabled {
		browser := crawler.NewBrowserFetcher(cfg.Browser.Headless, cfg.Browser.NavTimeout, cfg.Fulltext.Cookie, cfg.Fulltext.UserAgent)
		defer browser.Close()
		crawlSvc = crawler.NewService(logger, limiter, httpFetcher, browser, crawlOpts)
	} else {
		crawlSvc = crawler.NewService(logger, limiter, httpFetcher, nil, crawlOpts)
	}

	aiClient := openai.NewClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Timeout, cfg.AI.MaxRetries)
	summarizerSvc := summarizer.NewService(logger, aiClient, summarizer.Options{
		Model:               cfg.AI.Model,
		PreferChat:          cfg.AI.PreferChat,
		FallbackToResponses: cfg.AI.FallbackToResponses,
		MaxInputChars:       cfg.AI.MaxInputChars,
		ChunkChars:          cfg.AI.ChunkChars,
		ChunkOverlapChars:   cfg.AI.ChunkOverlapChars,
	})

	var eventBus domain.EventPublisher
	if cfg.AMQP.URL != "" {
		publisher, err := events.NewPublisher(logger, cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("нет подключения к amqp")
		}
		defer publisher.Close()
		eventBus = publisher
	}

	pipe := pipeline.NewService(
		logger,
		pipeline.Options{
			TargetChatID:         cfg.Telegram.TargetChatID,
			AlertChatSet:         cfg.Telegram.AlertChatID != 0,
			FulltextEnabled:      cfg.Fulltext.Enabled,
			CookieSet:            cfg.Fulltext.Cookie != "",
			FetchPolicy:          cfg.Fulltext.FetchPolicy,
			NearThresholdDelta:   cfg.Fulltext.NearThresholdDelta,
			FeedInterval:         cfg.Feed.Interval,
			FeedJitter:           cfg.Feed.Jitter,
			DataRetention:        cfg.Retention.Data,
			FingerprintRetention: cfg.Retention.Fingerprints,
			StatusPath:           cfg.Ops.StatusJSONPath,
			AlertFetchThreshold:  cfg.Alerts.FetchThreshold,
			AlertLoginThreshold:  cfg.Alerts.LoginThreshold,
			AlertAIThreshold:     cfg.Alerts.AIThreshold,
		},
		storage,
		crawlSvc,
		summarizerSvc,
		rulesManager,
		notifier,
		eventBus,
		appCache,
		limiter,
		uuid.NewString(),
	)

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, logger, cfg.Ops.Addr, cfg.Ops.StatusJSONPath)

	poller := feed.NewPoller(logger, cfg.Feed.URL, cfg.Feed.Timeout, cfg.Fulltext.UserAgent)
	go pipe.Run(ctx, poller)

	handler := bot.NewHandler(botAPI, logger, pipe, rulesManager, storage, crawlSvc, limiter, cfg.Telegram.AdminUserID)

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = 30
	updates := botAPI.GetUpdatesChan(updateCfg)

	logger.Info().Msg("бот запущен")
	for {
		select {
		case <-ctx.Done():
			botAPI.StopReceivingUpdates()
			logger.Info().Msg("остановка по сигналу")
			return
		case upd := <-updates:
			handler.HandleUpdate(ctx, upd)
		}
	}
}
