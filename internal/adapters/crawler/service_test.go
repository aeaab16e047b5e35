package crawler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
	"nodeseek-bot/internal/infra/ratelimit"
)

type fakeFetcher struct {
	kind   domain.FetchMethod
	conf   domain.SourceConfidence
	html   string
	status int
	err    error
	calls  int
}

func (f *fakeFetcher) method() domain.FetchMethod          { return f.kind }
func (f *fakeFetcher) confidence() domain.SourceConfidence { return f.conf }

func (f *fakeFetcher) fetch(_ context.Context, _ string) (string, int, error) {
	f.calls++
	return f.html, f.status, f.err
}

func newTestService(opts Options, fetchers ...pageFetcher) *Service {
	return &Service{
		logger:   zerolog.Nop(),
		limiter:  ratelimit.New(0, 0),
		fetchers: fetchers,
		opts:     opts,
	}
}

func articleHTML(body string) string {
	return "<html><body><article>" + body + "</article></body></html>"
}

func longBody() string {
	return strings.Repeat("содержательный текст поста ", 10)
}

func TestFetchBestEffortHTTPSuccess(t *testing.T) {
	http := &fakeFetcher{kind: domain.MethodHTTP, conf: domain.ConfidenceFulltextHTTP, html: articleHTML(longBody()), status: 200}
	svc := newTestService(Options{}, http)

	content, attempts, err := svc.FetchBestEffort(context.Background(), "https://example.com/post/1", "fallback")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if content.SourceConfidence != domain.ConfidenceFulltextHTTP {
		t.Fatalf("ожидалось доверие FULLTEXT_HTTP, получено %s", content.SourceConfidence)
	}
	if len(attempts) != 1 || !attempts[0].OK {
		t.Fatalf("ожидалась одна успешная попытка, получено %+v", attempts)
	}
}

func TestFetchBestEffortFallsThroughToBrowser(t *testing.T) {
	http := &fakeFetcher{kind: domain.MethodHTTP, conf: domain.ConfidenceFulltextHTTP, err: errors.New("connection refused")}
	browser := &fakeFetcher{kind: domain.MethodBrowser, conf: domain.ConfidenceFulltextBrowser, html: articleHTML(longBody()), status: 200}
	svc := newTestService(Options{MaxRetries: 1}, http, browser)

	content, attempts, err := svc.FetchBestEffort(context.Background(), "https://example.com/post/2", "fallback")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if content.SourceConfidence != domain.ConfidenceFulltextBrowser {
		t.Fatalf("ожидался текст из браузера, получено доверие %s", content.SourceConfidence)
	}
	// MaxRetries=1 даёт две попытки HTTP, затем успех браузера.
	if len(attempts) != 3 {
		t.Fatalf("ожидалось 3 попытки, получено %d", len(attempts))
	}
	if attempts[0].ErrorKind != domain.FetchErrHTTP {
		t.Fatalf("ожидалась классификация HTTP_ERROR, получено %s", attempts[0].ErrorKind)
	}
}

func TestFetchBestEffortAntibotDisablesForever(t *testing.T) {
	http := &fakeFetcher{kind: domain.MethodHTTP, conf: domain.ConfidenceFulltextHTTP, html: "<html>Just a moment...</html>", status: 403}
	browser := &fakeFetcher{kind: domain.MethodBrowser, conf: domain.ConfidenceFulltextBrowser, html: articleHTML(longBody()), status: 200}
	svc := newTestService(Options{StopOnAntibot: true, LoginBackoff: time.Hour}, http, browser)

	content, attempts, err := svc.FetchBestEffort(context.Background(), "https://example.com/post/3", "fallback")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if content.SourceConfidence != domain.ConfidenceRSSOnly {
		t.Fatalf("ожидался откат на ленту, получено %s", content.SourceConfidence)
	}
	if len(attempts) != 1 || attempts[0].ErrorKind != domain.FetchErrAntibot {
		t.Fatalf("ожидалась одна попытка ANTIBOT, получено %+v", attempts)
	}
	if browser.calls != 0 {
		t.Fatalf("браузер не должен был вызываться после антибота")
	}
	if !svc.FulltextDisabled() {
		t.Fatalf("сервис должен быть отключён")
	}

	// Отключение навсегда: повторный вызов не делает сетевых попыток.
	_, attempts, _ = svc.FetchBestEffort(context.Background(), "https://example.com/post/4", "fallback")
	if len(attempts) != 0 || http.calls != 1 {
		t.Fatalf("при отключении не должно быть попыток")
	}

	svc.EnableFulltext()
	if svc.FulltextDisabled() {
		t.Fatalf("ручное включение должно снимать отключение")
	}
}

func TestFetchBestEffortLoginWallFallsThroughWhenPolicyOff(t *testing.T) {
	http := &fakeFetcher{kind: domain.MethodHTTP, conf: domain.ConfidenceFulltextHTTP, html: "<html>请登录后查看</html>", status: 200}
	browser := &fakeFetcher{kind: domain.MethodBrowser, conf: domain.ConfidenceFulltextBrowser, html: articleHTML(longBody()), status: 200}
	svc := newTestService(Options{StopOnAntibot: false, LoginBackoff: time.Hour}, http, browser)

	content, attempts, err := svc.FetchBestEffort(context.Background(), "https://example.com/post/7", "fallback")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if content.SourceConfidence != domain.ConfidenceFulltextBrowser {
		t.Fatalf("ожидался переход к браузеру, получено доверие %s", content.SourceConfidence)
	}
	if attempts[0].ErrorKind != domain.FetchErrLoginRequired {
		t.Fatalf("ожидалась классификация LOGIN_REQUIRED, получено %s", attempts[0].ErrorKind)
	}
	if svc.FulltextDisabled() {
		t.Fatalf("при выключенной политике самоотключение не должно срабатывать")
	}
}

func TestFetchBestEffortLoginBackoffRecovers(t *testing.T) {
	http := &fakeFetcher{kind: domain.MethodHTTP, conf: domain.ConfidenceFulltextHTTP, html: "<html>请登录后查看</html>", status: 200}
	svc := newTestService(Options{StopOnAntibot: true, LoginBackoff: 20 * time.Millisecond}, http)

	_, attempts, err := svc.FetchBestEffort(context.Background(), "https://example.com/post/5", "fallback")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(attempts) != 1 || attempts[0].ErrorKind != domain.FetchErrLoginRequired {
		t.Fatalf("ожидалась классификация LOGIN_REQUIRED, получено %+v", attempts)
	}
	if !svc.FulltextDisabled() {
		t.Fatalf("сервис должен быть отключён на окно ожидания")
	}

	time.Sleep(30 * time.Millisecond)
	if svc.FulltextDisabled() {
		t.Fatalf("после окна ожидания сервис должен включиться сам")
	}
}

func TestFetchBestEffortParseFailFallsBack(t *testing.T) {
	http := &fakeFetcher{kind: domain.MethodHTTP, conf: domain.ConfidenceFulltextHTTP, html: "<html><body><script>var a = 1;</script></body></html>", status: 200}
	svc := newTestService(Options{}, http)

	content, attempts, err := svc.FetchBestEffort(context.Background(), "https://example.com/post/6", "краткое описание из ленты")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if content.Text != "краткое описание из ленты" {
		t.Fatalf("ожидался текст из ленты, получено %q", content.Text)
	}
	if attempts[0].ErrorKind != domain.FetchErrParseFail {
		t.Fatalf("ожидалась классификация PARSE_FAIL, получено %s", attempts[0].ErrorKind)
	}
}

func TestExtractTextPrefersLongestContainer(t *testing.T) {
	short := strings.Repeat("к", 100)
	long := strings.Repeat("д", 300)
	html := "<html><body><article>" + short + "</article><div class=\"post-content\">" + long + "</div></body></html>"

	got := extractText(html)
	if got != long {
		t.Fatalf("должен побеждать самый длинный кандидат, получено %d символов", len([]rune(got)))
	}
}

func TestExtractTextWholePageFallback(t *testing.T) {
	// Ни один контейнер не набирает порог — берётся текст всего документа.
	got := extractText("<html><body><nav>меню</nav><div>короткий пост без знакомых контейнеров</div></body></html>")
	if !strings.Contains(got, "короткий пост без знакомых контейнеров") {
		t.Fatalf("ожидался текст всего документа, получено %q", got)
	}
}

func TestExtractTextEmptyDocument(t *testing.T) {
	if got := extractText("<html><body><script>var a = 1;</script></body></html>"); got != "" {
		t.Fatalf("документ без текста должен давать пустую строку, получено %q", got)
	}
}

func TestDetectAntibot(t *testing.T) {
	cases := []struct {
		html string
		want bool
	}{
		{"<html>Checking your browser — Cloudflare</html>", true},
		{"<title>Just a moment...</title>", true},
		{"пройдите captcha для продолжения", true},
		{"обычная страница с текстом", false},
	}
	for _, tc := range cases {
		if got := looksLikeAntibot(tc.html); got != tc.want {
			t.Fatalf("looksLikeAntibot(%q) = %v, ожидалось %v", tc.html, got, tc.want)
		}
	}
}

func TestDetectLoginWall(t *testing.T) {
	if !looksLikeLoginWall("<p>需要登录才能查看本帖</p>") {
		t.Fatalf("страница с требованием входа должна распознаваться")
	}
	if looksLikeLoginWall("<p>обычный пост</p>") {
		t.Fatalf("обычная страница не должна считаться заглушкой входа")
	}
}
