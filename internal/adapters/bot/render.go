package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nodeseek-bot/internal/domain"
)

// maxMessageChars ограничивает итоговое сообщение с запасом под лимит Telegram.
const maxMessageChars = 3800

// messageLimit — жёсткий лимит Telegram на одно сообщение.
const messageLimit = 4096

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// escapeURL экранирует URL для parse_mode=HTML, не трогая кавычки: текст
// ссылки должен выглядеть как исходный адрес.
func escapeURL(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	return strings.ReplaceAll(s, ">", "&gt;")
}

// renderMessage собирает HTML-сообщение о посте: заголовок, ссылка, резюме
// и ключевые пункты.
func renderMessage(post domain.Post, summary *domain.Summary, maxChars int) string {
	lines := []string{
		fmt.Sprintf("<b>%s</b>", escapeHTML(post.Title)),
		fmt.Sprintf("打开原帖：%s", escapeURL(post.URL)),
	}

	if summary != nil && summary.Text != "" {
		lines = append(lines, "<b>摘要</b>", escapeHTML(summary.Text))
	}
	if summary != nil && len(summary.KeyPoints) > 0 {
		lines = append(lines, "<b>要点</b>")
		for _, p := range summary.KeyPoints {
			lines = append(lines, "- "+escapeHTML(p))
		}
	}

	return truncateRunes(strings.Join(lines, "\n"), maxChars)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

// feedbackKeyboard строит кнопки обратной связи под постом. Отметка label и
// флаг blockDone подсвечивают уже выполненные действия: кнопки в Telegram
// неизменяемы, клавиатура перестраивается целиком.
func feedbackKeyboard(postID int64, label domain.LabelValue, blockDone bool) tgbotapi.InlineKeyboardMarkup {
	usefulText := "有用"
	if label == domain.LabelUseful {
		usefulText = "有用✅"
	}
	uselessText := "没用"
	if label == domain.LabelUseless {
		uselessText = "没用✅"
	}

	blockText := "加入黑名单(标题)"
	blockData := fmt.Sprintf("block_title:%d", postID)
	if blockDone {
		blockText = "已加入黑名单✅"
		blockData = "noop"
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(usefulText, fmt.Sprintf("label:useful:%d", postID)),
			tgbotapi.NewInlineKeyboardButtonData(uselessText, fmt.Sprintf("label:useless:%d", postID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(blockText, blockData),
		),
	)
}

// expiredKeyboard заменяет клавиатуру протухшего поста, чтобы повторные
// нажатия не сыпали ошибками.
func expiredKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("已过期", "noop"),
		),
	)
}

// splitMessage режет длинный текст на части по лимиту Telegram, предпочитая
// границы строк.
func splitMessage(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= messageLimit {
		return []string{trimmed}
	}

	var parts []string
	start := 0
	for start < len(runes) {
		end := start + messageLimit
		if end >= len(runes) {
			if chunk := strings.Trim(string(runes[start:]), "\n"); chunk != "" {
				parts = append(parts, chunk)
			}
			break
		}

		split := end
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}

		if chunk := strings.Trim(string(runes[start:split]), "\n"); chunk != "" {
			parts = append(parts, chunk)
		}
		start = split
		for start < len(runes) && runes[start] == '\n' {
			start++
		}
	}

	if len(parts) == 0 {
		return []string{trimmed}
	}
	return parts
}
