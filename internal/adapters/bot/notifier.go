package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
)

// Notifier доставляет посты и служебные алерты через Telegram Bot API.
type Notifier struct {
	bot         *tgbotapi.BotAPI
	log         zerolog.Logger
	targetChat  int64
	alertChat   int64
}

var _ domain.Notifier = (*Notifier)(nil)

// NewNotifier создаёт доставщик. alertChat=0 отключает алерты.
func NewNotifier(bot *tgbotapi.BotAPI, log zerolog.Logger, targetChat, alertChat int64) *Notifier {
	return &Notifier{
		bot:        bot,
		log:        log.With().Str("component", "notifier").Logger(),
		targetChat: targetChat,
		alertChat:  alertChat,
	}
}

// SendPost отправляет пост с резюме и кнопками обратной связи в целевой чат
// и возвращает идентификатор сообщения.
func (n *Notifier) SendPost(ctx context.Context, post domain.Post, summary *domain.Summary, _ domain.Score) (int, error) {
	msg := tgbotapi.NewMessage(n.targetChat, renderMessage(post, summary, maxMessageChars))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = feedbackKeyboard(post.ID, "", false)

	sent, err := n.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("отправка поста %d: %w", post.ID, err)
	}
	return sent.MessageID, nil
}

// SendAlert отправляет служебное сообщение администратору.
func (n *Notifier) SendAlert(ctx context.Context, text string) error {
	if n.alertChat == 0 {
		return nil
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(n.alertChat, text)); err != nil {
		return fmt.Errorf("отправка алерта: %w", err)
	}
	return nil
}
