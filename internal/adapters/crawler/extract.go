package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Селекторы контейнеров основного текста в порядке предпочтения.
var contentSelectors = []string{
	"article",
	".post-content",
	".topic-content",
	".markdown-body",
	"main",
}

// minExtractedChars — короче этого извлечённый фрагмент считается мусором.
const minExtractedChars = 80

var whitespaceRe = regexp.MustCompile(`[ \t\r\f\v]+`)
var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// extractText достаёт основной текст поста из HTML. Среди подошедших
// контейнеров побеждает самый длинный; если ни один не дал достаточно
// текста, берётся текст всего документа без порога длины. Пустая
// строка — извлечь не удалось.
func extractText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()

	var best string
	for _, selector := range contentSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			candidate := normalizeText(sel.Text())
			if len([]rune(candidate)) >= minExtractedChars && len(candidate) > len(best) {
				best = candidate
			}
		})
	}
	if best != "" {
		return best
	}
	return normalizeText(doc.Text())
}

// normalizeText схлопывает повторяющиеся пробелы и пустые строки.
func normalizeText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRe.ReplaceAllString(line, " "))
	}
	joined := strings.Join(lines, "\n")
	joined = blankLinesRe.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}

// hashText строит отпечаток извлечённого текста.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
