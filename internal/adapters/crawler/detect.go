package crawler

import "strings"

// Подстроки challenge-страниц антибот-защиты.
var antibotHints = []string{
	"cf_clearance",
	"cloudflare",
	"just a moment",
	"captcha",
	"challenge",
}

// Подстроки страниц, требующих авторизацию.
var loginHints = []string{
	"登录",
	"需要登录",
	"请登录",
	"需要权限",
}

// looksLikeAntibot определяет challenge-страницу по характерным подстрокам.
func looksLikeAntibot(html string) bool {
	lowered := strings.ToLower(html)
	for _, hint := range antibotHints {
		if strings.Contains(lowered, hint) {
			return true
		}
	}
	return false
}

// looksLikeLoginWall определяет страницу-заглушку авторизации.
// Ложное срабатывание стоит лишь лишнего окна ожидания, ложный пропуск
// безопасен: сбой уйдёт по общей транзитной ветке.
func looksLikeLoginWall(html string) bool {
	for _, hint := range loginHints {
		if strings.Contains(html, hint) {
			return true
		}
	}
	return false
}
