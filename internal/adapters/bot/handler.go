package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
	"nodeseek-bot/internal/usecase/pipeline"
	"nodeseek-bot/internal/usecase/rules"
)

// Handler обслуживает административные команды и кнопки обратной связи.
// Все операции доступны только одному пользователю-администратору.
type Handler struct {
	bot     *tgbotapi.BotAPI
	log     zerolog.Logger
	pipe    *pipeline.Service
	rules   *rules.Manager
	storage domain.Storage
	crawler domain.Crawler
	limiter pipeline.LimiterStatus
	adminID int64
}

// NewHandler создаёт обработчик. limiter может быть nil.
func NewHandler(
	bot *tgbotapi.BotAPI,
	log zerolog.Logger,
	pipe *pipeline.Service,
	rulesManager *rules.Manager,
	storage domain.Storage,
	crawler domain.Crawler,
	limiter pipeline.LimiterStatus,
	adminID int64,
) *Handler {
	return &Handler{
		bot:     bot,
		log:     log.With().Str("component", "bot").Logger(),
		pipe:    pipe,
		rules:   rulesManager,
		storage: storage,
		crawler: crawler,
		limiter: limiter,
		adminID: adminID,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) isAdmin(from *tgbotapi.User) bool {
	return from != nil && from.ID == h.adminID
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !h.isAdmin(msg.From) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	switch {
	case strings.HasPrefix(text, "/status"):
		h.handleStatus(msg.Chat.ID)
	case strings.HasPrefix(text, "/pause"):
		h.pipe.Pause()
		h.reply(msg.Chat.ID, "已暂停")
	case strings.HasPrefix(text, "/resume"):
		h.pipe.Resume()
		h.reply(msg.Chat.ID, "已恢复")
	case strings.HasPrefix(text, "/fulltext_on"):
		h.crawler.EnableFulltext()
		h.reply(msg.Chat.ID, "已恢复全文抓取")
	case strings.HasPrefix(text, "/rules_reload"):
		h.handleRulesReload(msg.Chat.ID)
	case strings.HasPrefix(text, "/set_threshold"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/set_threshold"))
		h.handleSetThreshold(msg.Chat.ID, arg)
	case strings.HasPrefix(text, "/whitelist_add"):
		kw := strings.TrimSpace(strings.TrimPrefix(text, "/whitelist_add"))
		h.handleKeywordAdd(msg.Chat.ID, kw, true)
	case strings.HasPrefix(text, "/blacklist_add"):
		kw := strings.TrimSpace(strings.TrimPrefix(text, "/blacklist_add"))
		h.handleKeywordAdd(msg.Chat.ID, kw, false)
	case strings.HasPrefix(text, "/last"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/last"))
		h.handleLast(ctx, msg.Chat.ID, arg)
	case strings.HasPrefix(text, "/reprocess"):
		arg := strings.TrimSpace(strings.TrimPrefix(text, "/reprocess"))
		h.handleReprocess(ctx, msg.Chat.ID, arg)
	}
}

func (h *Handler) handleStatus(chatID int64) {
	state := h.pipe.State()
	nextIn := 0.0
	if h.limiter != nil {
		nextIn = h.limiter.NextAllowedIn().Seconds()
	}
	text := fmt.Sprintf(
		"paused=%v\nfulltext_disabled=%v\nhtml_next_allowed_in=%.0fs\nconsecutive_fetch_failures=%d\nconsecutive_login_failures=%d\nconsecutive_ai_failures=%d",
		state.Paused,
		h.crawler.FulltextDisabled(),
		nextIn,
		state.ConsecutiveFetchFailures,
		state.ConsecutiveLoginFailures,
		state.ConsecutiveAIFailures,
	)
	h.reply(chatID, text)
}

func (h *Handler) handleRulesReload(chatID int64) {
	if err := h.rules.Reload(); err != nil {
		h.reply(chatID, fmt.Sprintf("重载失败：%v", err))
		return
	}
	h.reply(chatID, "规则已重载")
}

func (h *Handler) handleSetThreshold(chatID int64, arg string) {
	if arg == "" {
		h.reply(chatID, "用法：/set_threshold <n>")
		return
	}
	val, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		h.reply(chatID, "阈值必须是数字")
		return
	}
	if err := h.rules.SetThreshold(val); err != nil {
		h.reply(chatID, fmt.Sprintf("保存失败：%v", err))
		return
	}
	h.reply(chatID, fmt.Sprintf("阈值已更新为 %v", val))
}

func (h *Handler) handleKeywordAdd(chatID int64, keyword string, whitelist bool) {
	if keyword == "" {
		if whitelist {
			h.reply(chatID, "用法：/whitelist_add <kw>")
		} else {
			h.reply(chatID, "用法：/blacklist_add <kw>")
		}
		return
	}
	var err error
	if whitelist {
		err = h.rules.AddWhitelist(keyword)
	} else {
		err = h.rules.AddBlacklist(keyword)
	}
	if err != nil {
		h.reply(chatID, fmt.Sprintf("保存失败：%v", err))
		return
	}
	if whitelist {
		h.reply(chatID, fmt.Sprintf("已加入白名单：%s", keyword))
	} else {
		h.reply(chatID, fmt.Sprintf("已加入黑名单：%s", keyword))
	}
}

func (h *Handler) handleLast(ctx context.Context, chatID int64, arg string) {
	limit := 10
	if arg != "" {
		if n, err := strconv.Atoi(arg); err == nil {
			limit = clamp(n, 1, 30)
		}
	}

	posts, err := h.storage.ListRecentPosts(ctx, limit)
	if err != nil {
		h.reply(chatID, fmt.Sprintf("查询失败：%v", err))
		return
	}
	if len(posts) == 0 {
		h.reply(chatID, "暂无记录")
		return
	}

	lines := make([]string, 0, len(posts))
	for _, p := range posts {
		scoreText := "(no score)"
		if score, ok, err := h.storage.LoadScore(ctx, p.ID); err == nil && ok {
			scoreText = fmt.Sprintf("%.1f %s", score.Total, score.Decision)
		}
		lines = append(lines, fmt.Sprintf("#%d %s %s %s", p.ID, scoreText, p.Title, p.URL))
	}
	h.reply(chatID, strings.Join(lines, "\n"))
}

func (h *Handler) handleReprocess(ctx context.Context, chatID int64, arg string) {
	if arg == "" {
		h.reply(chatID, "用法：/reprocess <post_id>")
		return
	}
	postID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		h.reply(chatID, "post_id 必须是整数")
		return
	}
	if err := h.storage.ResetPost(ctx, postID); err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			h.reply(chatID, "post_id 不存在")
			return
		}
		h.reply(chatID, fmt.Sprintf("重置失败：%v", err))
		return
	}
	h.reply(chatID, "已重置并加入队列")
}

// callbackAction — разобранное содержимое callback-кнопки.
type callbackAction struct {
	kind   string // "label", "block_title", "noop"
	label  domain.LabelValue
	postID int64
}

// parseCallback разбирает callback_data кнопок обратной связи. ok=false для
// неизвестных действий.
func parseCallback(data string) (callbackAction, bool) {
	if data == "noop" {
		return callbackAction{kind: "noop"}, true
	}
	if rest, found := strings.CutPrefix(data, "block_title:"); found {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return callbackAction{}, false
		}
		return callbackAction{kind: "block_title", postID: id}, true
	}
	if rest, found := strings.CutPrefix(data, "label:"); found {
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return callbackAction{}, false
		}
		var label domain.LabelValue
		switch parts[0] {
		case "useful":
			label = domain.LabelUseful
		case "useless":
			label = domain.LabelUseless
		default:
			return callbackAction{}, false
		}
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			return callbackAction{}, false
		}
		return callbackAction{kind: "label", label: label, postID: id}, true
	}
	return callbackAction{}, false
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if !h.isAdmin(cb.From) {
		h.answer(cb.ID, "无权限", true)
		return
	}

	action, ok := parseCallback(cb.Data)
	if !ok {
		h.answer(cb.ID, "未知操作", true)
		return
	}

	switch action.kind {
	case "noop":
		h.answer(cb.ID, "已生效", false)
	case "block_title":
		h.handleBlockTitle(ctx, cb, action.postID)
	case "label":
		h.handleLabel(ctx, cb, action.postID, action.label)
	}
}

func (h *Handler) handleBlockTitle(ctx context.Context, cb *tgbotapi.CallbackQuery, postID int64) {
	post, err := h.storage.GetPost(ctx, postID)
	if err != nil {
		h.answer(cb.ID, "帖子不存在", true)
		return
	}
	if err := h.rules.BlockTitle(post.Title); err != nil {
		h.answer(cb.ID, fmt.Sprintf("保存失败：%v", err), true)
		return
	}
	h.answer(cb.ID, "已加入标题黑名单", false)
	h.editKeyboard(cb, feedbackKeyboard(postID, "", true))
}

func (h *Handler) handleLabel(ctx context.Context, cb *tgbotapi.CallbackQuery, postID int64, label domain.LabelValue) {
	if _, err := h.storage.GetPost(ctx, postID); err != nil {
		h.answer(cb.ID, "帖子已过期/不存在", true)
		h.editKeyboard(cb, expiredKeyboard())
		return
	}
	if err := h.storage.UpsertLabel(ctx, postID, label, cb.From.ID); err != nil {
		h.log.Warn().Err(err).Int64("post_id", postID).Msg("не удалось сохранить отметку")
		h.answer(cb.ID, "记录失败：帖子不存在或 DB 已更新", true)
		return
	}
	h.answer(cb.ID, "已记录", false)
	h.editKeyboard(cb, feedbackKeyboard(postID, label, false))
}

func (h *Handler) editKeyboard(cb *tgbotapi.CallbackQuery, markup tgbotapi.InlineKeyboardMarkup) {
	if cb.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, markup)
	if _, err := h.bot.Request(edit); err != nil {
		h.log.Warn().Err(err).Msg("не удалось обновить клавиатуру")
	}
}

func (h *Handler) answer(callbackID, text string, alert bool) {
	answer := tgbotapi.NewCallback(callbackID, text)
	answer.ShowAlert = alert
	if _, err := h.bot.Request(answer); err != nil {
		h.log.Warn().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) reply(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		if _, err := h.bot.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
