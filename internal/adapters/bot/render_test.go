package bot

import (
	"strings"
	"testing"

	"nodeseek-bot/internal/domain"
)

func TestRenderMessageEscapesHTML(t *testing.T) {
	post := domain.Post{
		ID:    1,
		Title: "报价 <100 元 & 免费",
		URL:   "https://www.nodeseek.com/post-1-1?a=1&b=2",
	}
	summary := &domain.Summary{
		Text:      "总结 <b>内容</b>",
		KeyPoints: []string{"第一点", "第二 & 点"},
	}

	got := renderMessage(post, summary, maxMessageChars)

	if !strings.Contains(got, "<b>报价 &lt;100 元 &amp; 免费</b>") {
		t.Fatalf("заголовок должен экранироваться: %q", got)
	}
	if !strings.Contains(got, "打开原帖：https://www.nodeseek.com/post-1-1?a=1&amp;b=2") {
		t.Fatalf("URL должен экранироваться без кавычек: %q", got)
	}
	if strings.Contains(got, "<b>内容</b>") {
		t.Fatalf("разметка из резюме не должна просачиваться: %q", got)
	}
	if !strings.Contains(got, "<b>要点</b>\n- 第一点\n- 第二 &amp; 点") {
		t.Fatalf("ключевые пункты должны выводиться списком: %q", got)
	}
}

func TestRenderMessageWithoutSummary(t *testing.T) {
	post := domain.Post{ID: 2, Title: "标题", URL: "https://www.nodeseek.com/post-2-1"}

	got := renderMessage(post, nil, maxMessageChars)

	if strings.Contains(got, "摘要") || strings.Contains(got, "要点") {
		t.Fatalf("без резюме секции не выводятся: %q", got)
	}
}

func TestRenderMessageTruncates(t *testing.T) {
	post := domain.Post{ID: 3, Title: "标题", URL: "https://www.nodeseek.com/post-3-1"}
	summary := &domain.Summary{Text: strings.Repeat("内容很长", 2000)}

	got := renderMessage(post, summary, 200)

	if runes := []rune(got); len(runes) > 200 {
		t.Fatalf("сообщение должно обрезаться до лимита, получено %d рун", len(runes))
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("обрезанное сообщение заканчивается многоточием: %q", got)
	}
}

func TestFeedbackKeyboardStates(t *testing.T) {
	plain := feedbackKeyboard(7, "", false)
	if got := plain.InlineKeyboard[0][0].Text; got != "有用" {
		t.Fatalf("исходная кнопка: %q", got)
	}
	if got := *plain.InlineKeyboard[0][0].CallbackData; got != "label:useful:7" {
		t.Fatalf("callback кнопки: %q", got)
	}
	if got := *plain.InlineKeyboard[1][0].CallbackData; got != "block_title:7" {
		t.Fatalf("callback блокировки: %q", got)
	}

	labeled := feedbackKeyboard(7, domain.LabelUseless, false)
	if got := labeled.InlineKeyboard[0][1].Text; got != "没用✅" {
		t.Fatalf("отмеченная кнопка должна подсвечиваться: %q", got)
	}

	blocked := feedbackKeyboard(7, "", true)
	if got := blocked.InlineKeyboard[1][0].Text; got != "已加入黑名单✅" {
		t.Fatalf("выполненная блокировка должна подсвечиваться: %q", got)
	}
	if got := *blocked.InlineKeyboard[1][0].CallbackData; got != "noop" {
		t.Fatalf("повторное нажатие блокировки — noop: %q", got)
	}
}

func TestSplitMessageRespectsLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 500; i++ {
		b.WriteString(strings.Repeat("строка", 5))
		b.WriteString("\n")
	}

	parts := splitMessage(b.String())
	if len(parts) < 2 {
		t.Fatalf("длинный текст должен делиться на части, получено %d", len(parts))
	}
	for i, part := range parts {
		if len([]rune(part)) > messageLimit {
			t.Fatalf("часть %d превышает лимит", i)
		}
	}
}

func TestSplitMessageShortText(t *testing.T) {
	parts := splitMessage("  короткий текст  ")
	if len(parts) != 1 || parts[0] != "короткий текст" {
		t.Fatalf("короткий текст отправляется одним сообщением: %v", parts)
	}
}
