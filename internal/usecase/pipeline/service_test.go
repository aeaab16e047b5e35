package pipeline

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
)

// stubStorage — хранилище в памяти для тестов оркестратора.
type stubStorage struct {
	mu sync.Mutex

	posts      map[int64]domain.Post
	contents   map[int64]domain.Content
	attempts   map[int64][]domain.FetchAttempt
	summaries  map[int64]domain.Summary
	scores     map[int64]domain.Score
	deliveries map[int64]int64 // post_id -> chat_id
	labelCount int
	labeledSc  []domain.LabeledScore
	fingerDone map[string]domain.Decision
}

func newStubStorage(posts ...domain.Post) *stubStorage {
	s := &stubStorage{
		posts:      map[int64]domain.Post{},
		contents:   map[int64]domain.Content{},
		attempts:   map[int64][]domain.FetchAttempt{},
		summaries:  map[int64]domain.Summary{},
		scores:     map[int64]domain.Score{},
		deliveries: map[int64]int64{},
		fingerDone: map[string]domain.Decision{},
	}
	for _, p := range posts {
		s.posts[p.ID] = p
	}
	return s
}

func (s *stubStorage) UpsertFromFeed(_ context.Context, item domain.FeedItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.posts {
		if p.URL == item.URL {
			p.Title = item.Title
			s.posts[id] = p
			return id, nil
		}
	}
	id := int64(len(s.posts) + 1)
	s.posts[id] = domain.Post{ID: id, URL: item.URL, Title: item.Title, Status: domain.StatusNew, UpdatedAt: time.Now()}
	return id, nil
}

func (s *stubStorage) GetPost(_ context.Context, id int64) (domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.Post{}, domain.ErrPostNotFound
	}
	return p, nil
}

func (s *stubStorage) ListRecentPosts(_ context.Context, limit int) ([]domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Post
	for _, p := range s.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubStorage) TakeNextForProcessing(_ context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		bestID int64
		best   time.Time
		found  bool
	)
	for id, p := range s.posts {
		if p.Status != domain.StatusNew && p.Status != domain.StatusFailed {
			continue
		}
		if !found || p.UpdatedAt.Before(best) {
			bestID, best, found = id, p.UpdatedAt, true
		}
	}
	return bestID, found, nil
}

func (s *stubStorage) SetStatus(_ context.Context, id int64, status domain.PostStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return domain.ErrPostNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	s.posts[id] = p
	return nil
}

func (s *stubStorage) SaveContent(_ context.Context, id int64, content domain.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[id] = content
	p := s.posts[id]
	p.Status = domain.StatusFetched
	p.SourceConfidence = content.SourceConfidence
	s.posts[id] = p
	return nil
}

func (s *stubStorage) AddFetchAttempt(_ context.Context, id int64, _ int, attempt domain.FetchAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[id] = append(s.attempts[id], attempt)
	return nil
}

func (s *stubStorage) SaveSummary(_ context.Context, id int64, summary domain.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[id] = summary
	p := s.posts[id]
	p.Status = domain.StatusSummarized
	s.posts[id] = p
	return nil
}

func (s *stubStorage) LoadSummary(_ context.Context, id int64) (domain.Summary, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.summaries[id]
	return sum, ok, nil
}

func (s *stubStorage) SaveScore(_ context.Context, id int64, score domain.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[id] = score
	p := s.posts[id]
	p.Status = domain.StatusScored
	s.posts[id] = p
	return nil
}

func (s *stubStorage) LoadScore(_ context.Context, id int64) (domain.Score, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scores[id]
	return sc, ok, nil
}

func (s *stubStorage) RecordDelivery(_ context.Context, postID, chatID int64, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[postID]; ok {
		return nil
	}
	s.deliveries[postID] = chatID
	p := s.posts[postID]
	p.Status = domain.StatusNotified
	s.posts[postID] = p
	return nil
}

func (s *stubStorage) HasDelivery(_ context.Context, postID, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.deliveries[postID]
	return ok && chat == chatID, nil
}

func (s *stubStorage) UpdateFingerprintProcessed(_ context.Context, urlHash string, decision domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerDone[urlHash] = decision
	return nil
}

func (s *stubStorage) UpsertLabel(_ context.Context, _ int64, _ domain.LabelValue, _ int64) error {
	return nil
}

func (s *stubStorage) CountLabels(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labelCount, nil
}

func (s *stubStorage) LabeledScores(_ context.Context, _ int) ([]domain.LabeledScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labeledSc, nil
}

func (s *stubStorage) ResetPost(_ context.Context, id int64) error {
	return s.SetStatus(context.Background(), id, domain.StatusNew)
}

func (s *stubStorage) Cleanup(_ context.Context, _, _ time.Duration) error { return nil }

// stubCrawler возвращает заранее заданный контент.
type stubCrawler struct {
	content  domain.Content
	attempts []domain.FetchAttempt
	err      error
	disabled bool
	calls    int
}

func (c *stubCrawler) FetchBestEffort(_ context.Context, _, fallback string) (domain.Content, []domain.FetchAttempt, error) {
	c.calls++
	if c.err != nil {
		return domain.Content{Text: fallback, SourceConfidence: domain.ConfidenceRSSOnly}, c.attempts, c.err
	}
	return c.content, c.attempts, nil
}

func (c *stubCrawler) FulltextDisabled() bool        { return c.disabled }
func (c *stubCrawler) EnableFulltext()               {}
func (c *stubCrawler) DisableFulltextFor(time.Duration) {}
func (c *stubCrawler) DisableFulltextForever()       {}

// stubSummarizer возвращает фиксированное резюме.
type stubSummarizer struct {
	summary domain.Summary
	err     error
	calls   int
}

func (s *stubSummarizer) Summarize(_ context.Context, _, _, _ string) (domain.Summary, error) {
	s.calls++
	return s.summary, s.err
}

// stubScorer возвращает заранее заданные оценки по порядку вызовов.
type stubScorer struct {
	scores []domain.Score
	calls  int
}

func (s *stubScorer) Score(_, _ string, _ domain.SourceConfidence) domain.Score {
	idx := s.calls
	s.calls++
	if idx >= len(s.scores) {
		idx = len(s.scores) - 1
	}
	return s.scores[idx]
}

// stubNotifier записывает отправленные сообщения.
type stubNotifier struct {
	sent   []int64
	alerts []string
}

func (n *stubNotifier) SendPost(_ context.Context, post domain.Post, _ *domain.Summary, _ domain.Score) (int, error) {
	n.sent = append(n.sent, post.ID)
	return 100 + len(n.sent), nil
}

func (n *stubNotifier) SendAlert(_ context.Context, text string) error {
	n.alerts = append(n.alerts, text)
	return nil
}

type stubEvents struct {
	events []domain.ProcessedEvent
}

func (e *stubEvents) PublishProcessed(_ context.Context, event domain.ProcessedEvent) error {
	e.events = append(e.events, event)
	return nil
}

func newPost(id int64, title string) domain.Post {
	return domain.Post{
		ID:         id,
		URL:        "https://www.nodeseek.com/post-1-1",
		URLHash:    "hash-1",
		Title:      title,
		Status:     domain.StatusNew,
		RSSSummary: "короткое описание",
		UpdatedAt:  time.Now(),
	}
}

func score(total float64, decision domain.Decision) domain.Score {
	return domain.Score{
		Total:    total,
		Decision: decision,
		Explain:  domain.Explain{Threshold: 18, Decision: decision},
	}
}

func newTestService(storage domain.Storage, crawler domain.Crawler, sum domain.Summarizer, scorer domain.Scorer, notifier domain.Notifier, events domain.EventPublisher, opts Options) *Service {
	if opts.TargetChatID == 0 {
		opts.TargetChatID = 42
	}
	return NewService(zerolog.Nop(), opts, storage, crawler, sum, scorer, notifier, events, nil, nil, "test-instance")
}

func TestProcessNextDeliversAboveThreshold(t *testing.T) {
	storage := newStubStorage(newPost(1, "полезный пост"))
	crawler := &stubCrawler{}
	summarizer := &stubSummarizer{summary: domain.Summary{Text: "итог"}}
	scorer := &stubScorer{scores: []domain.Score{score(25, domain.DecisionPush)}}
	notifier := &stubNotifier{}
	events := &stubEvents{}

	svc := newTestService(storage, crawler, summarizer, scorer, notifier, events, Options{FetchPolicy: FetchPolicyNever})
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("обработка не должна падать: %v", err)
	}

	if len(notifier.sent) != 1 || notifier.sent[0] != 1 {
		t.Fatalf("пост должен быть отправлен один раз: %v", notifier.sent)
	}
	post, _ := storage.GetPost(context.Background(), 1)
	if post.Status != domain.StatusNotified {
		t.Fatalf("ожидался статус NOTIFIED, получено %s", post.Status)
	}
	if storage.fingerDone["hash-1"] != domain.DecisionPush {
		t.Fatalf("отпечаток должен получить финальное решение")
	}
	if len(events.events) != 1 || !events.events[0].Delivered {
		t.Fatalf("событие должно отражать доставку: %+v", events.events)
	}
}

func TestProcessNextIgnoresBelowThreshold(t *testing.T) {
	storage := newStubStorage(newPost(1, "测试"))
	// После холодного старта решает адаптивный порог, а не статический.
	storage.labelCount = minLabelsToAutofilter
	storage.labeledSc = labeled([2]float64{10, 1}, [2]float64{8, 1}, [2]float64{8, 0}, [2]float64{5, 0})
	scorer := &stubScorer{scores: []domain.Score{score(-10.4, domain.DecisionIgnore)}}
	notifier := &stubNotifier{}
	events := &stubEvents{}

	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, scorer, notifier, events, Options{FetchPolicy: FetchPolicyNever})
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("обработка не должна падать: %v", err)
	}

	if len(notifier.sent) != 0 {
		t.Fatalf("пост ниже порога не должен отправляться")
	}
	post, _ := storage.GetPost(context.Background(), 1)
	if post.Status != domain.StatusIgnored {
		t.Fatalf("ожидался статус IGNORED, получено %s", post.Status)
	}
	if len(events.events) != 1 || events.events[0].Delivered {
		t.Fatalf("событие должно отражать пропуск: %+v", events.events)
	}
}

func TestProcessNextColdStartDeliversBelowStaticThreshold(t *testing.T) {
	// Пока отметок меньше порога автофильтра, доставляется всё, что не в
	// чёрном списке: переизбыток доставки лучше молчаливого пропуска.
	storage := newStubStorage(newPost(1, "скромный пост"))
	scorer := &stubScorer{scores: []domain.Score{score(5, domain.DecisionIgnore)}}
	notifier := &stubNotifier{}

	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, scorer, notifier, nil, Options{FetchPolicy: FetchPolicyNever})
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("обработка не должна падать: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("на холодном старте пост ниже статического порога всё равно доставляется")
	}
}

func TestProcessNextBlacklistNeverDelivers(t *testing.T) {
	storage := newStubStorage(newPost(1, "пост из чёрного списка"))
	// Холодный старт доставляет всё, кроме чёрного списка.
	scorer := &stubScorer{scores: []domain.Score{score(-999, domain.DecisionBlacklist)}}
	notifier := &stubNotifier{}

	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, scorer, notifier, nil, Options{FetchPolicy: FetchPolicyNever})
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("обработка не должна падать: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("чёрный список не должен доставляться")
	}
}

func TestProcessNextDeliveryDeduplicated(t *testing.T) {
	post := newPost(1, "пост")
	storage := newStubStorage(post)
	storage.deliveries[1] = 42 // уже доставлен в целевой чат

	scorer := &stubScorer{scores: []domain.Score{score(25, domain.DecisionPush)}}
	notifier := &stubNotifier{}

	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, scorer, notifier, nil, Options{FetchPolicy: FetchPolicyNever})
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("обработка не должна падать: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("повторная доставка в тот же чат запрещена")
	}
}

func TestProcessNextPausedDoesNothing(t *testing.T) {
	storage := newStubStorage(newPost(1, "пост"))
	notifier := &stubNotifier{}
	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, &stubScorer{scores: []domain.Score{score(25, domain.DecisionPush)}}, notifier, nil, Options{FetchPolicy: FetchPolicyNever})

	svc.Pause()
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("пауза не должна быть ошибкой: %v", err)
	}
	post, _ := storage.GetPost(context.Background(), 1)
	if post.Status != domain.StatusNew {
		t.Fatalf("на паузе очередь не трогается, получено %s", post.Status)
	}

	svc.Resume()
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("после возобновления обработка должна идти: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("после возобновления пост должен доставиться")
	}
}

func TestShouldAttemptFulltextNearThresholdDoubleScore(t *testing.T) {
	storage := newStubStorage(newPost(1, "пост про акцию"))
	crawler := &stubCrawler{content: domain.Content{
		Text:             "полный текст поста",
		SourceConfidence: domain.ConfidenceFulltextHTTP,
	}}
	// Первый вызов — предварительная оценка по тексту ленты, второй —
	// финальная по полному тексту. Предварительная выбрасывается.
	scorer := &stubScorer{scores: []domain.Score{
		score(16, domain.DecisionIgnore), // 16 >= 18-4: рядом с порогом
		score(25, domain.DecisionPush),
	}}
	notifier := &stubNotifier{}

	svc := newTestService(storage, crawler, &stubSummarizer{}, scorer, notifier, nil, Options{
		FulltextEnabled:    true,
		CookieSet:          true,
		FetchPolicy:        FetchPolicyNearThreshold,
		NearThresholdDelta: 4,
	})
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("обработка не должна падать: %v", err)
	}

	if crawler.calls != 1 {
		t.Fatalf("полный текст должен был загружаться: %d вызовов", crawler.calls)
	}
	if scorer.calls != 2 {
		t.Fatalf("оценка должна считаться дважды (до и после загрузки), получено %d", scorer.calls)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("пост должен доставиться по финальной оценке")
	}
}

func TestShouldAttemptFulltextFarFromThresholdSkips(t *testing.T) {
	storage := newStubStorage(newPost(1, "неинтересный пост"))
	crawler := &stubCrawler{}
	scorer := &stubScorer{scores: []domain.Score{
		score(2, domain.DecisionIgnore), // далеко от порога
		score(2, domain.DecisionIgnore),
	}}

	svc := newTestService(storage, crawler, &stubSummarizer{}, scorer, &stubNotifier{}, nil, Options{
		FulltextEnabled:    true,
		CookieSet:          true,
		FetchPolicy:        FetchPolicyNearThreshold,
		NearThresholdDelta: 4,
	})
	if err := svc.ProcessNext(context.Background()); err != nil {
		t.Fatalf("обработка не должна падать: %v", err)
	}
	if crawler.calls != 0 {
		t.Fatalf("далёкий от порога пост не должен тянуть полный текст")
	}
}

func TestShouldDeliverAdaptiveThresholdAfterColdStart(t *testing.T) {
	storage := newStubStorage()
	storage.labelCount = minLabelsToAutofilter
	storage.labeledSc = labeled([2]float64{10, 1}, [2]float64{8, 1}, [2]float64{8, 0}, [2]float64{5, 0})

	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, &stubScorer{scores: []domain.Score{score(0, domain.DecisionIgnore)}}, &stubNotifier{}, nil, Options{})

	// Порог F1 равен 8: оценка 9 проходит, 7 — нет.
	ok, err := svc.shouldDeliver(context.Background(), 9, domain.DecisionPush)
	if err != nil || !ok {
		t.Fatalf("оценка выше адаптивного порога должна доставляться: ok=%v err=%v", ok, err)
	}
	ok, err = svc.shouldDeliver(context.Background(), 7, domain.DecisionPush)
	if err != nil || ok {
		t.Fatalf("оценка ниже адаптивного порога не должна доставляться: ok=%v err=%v", ok, err)
	}
	// Белый список проходит мимо адаптивного порога.
	ok, err = svc.shouldDeliver(context.Background(), 999, domain.DecisionWhitelist)
	if err != nil || !ok {
		t.Fatalf("белый список должен доставляться всегда: ok=%v err=%v", ok, err)
	}
}

func TestShouldDeliverNoPositiveLabelsBlocksAll(t *testing.T) {
	storage := newStubStorage()
	storage.labelCount = minLabelsToAutofilter
	storage.labeledSc = labeled([2]float64{10, 0}, [2]float64{5, 0})

	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, &stubScorer{scores: []domain.Score{score(0, domain.DecisionIgnore)}}, &stubNotifier{}, nil, Options{})

	ok, err := svc.shouldDeliver(context.Background(), 100, domain.DecisionPush)
	if err != nil || ok {
		t.Fatalf("порог +Inf должен блокировать доставку: ok=%v err=%v", ok, err)
	}
}

func TestAlertsFireOnlyOnEdge(t *testing.T) {
	storage := newStubStorage(newPost(1, "пост"))
	notifier := &stubNotifier{}
	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, &stubScorer{scores: []domain.Score{score(0, domain.DecisionIgnore)}}, notifier, nil, Options{AlertChatSet: true, AlertAIThreshold: 3})

	for i := 0; i < 5; i++ {
		svc.bumpAIFailure(context.Background())
	}
	if len(notifier.alerts) != 1 {
		t.Fatalf("алерт должен сработать ровно на пороге, получено %d", len(notifier.alerts))
	}
}

func TestAlertsSkippedWithoutAlertChat(t *testing.T) {
	storage := newStubStorage(newPost(1, "пост"))
	notifier := &stubNotifier{}
	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, &stubScorer{scores: []domain.Score{score(0, domain.DecisionIgnore)}}, notifier, nil, Options{AlertAIThreshold: 3})

	for i := 0; i < 5; i++ {
		svc.bumpAIFailure(context.Background())
	}
	if len(notifier.alerts) != 0 {
		t.Fatalf("без чата для алертов отправок быть не должно, получено %d", len(notifier.alerts))
	}
}

func TestFeedPollUpdatesState(t *testing.T) {
	storage := newStubStorage()
	svc := newTestService(storage, &stubCrawler{}, &stubSummarizer{}, &stubScorer{scores: []domain.Score{score(0, domain.DecisionIgnore)}}, &stubNotifier{}, nil, Options{})

	feed := feedFunc(func(context.Context) ([]domain.FeedItem, error) {
		return []domain.FeedItem{
			{URL: "https://www.nodeseek.com/post-10-1", Title: "один"},
			{URL: "https://www.nodeseek.com/post-11-1", Title: "два"},
		}, nil
	})
	if err := svc.PollFeedOnce(context.Background(), feed); err != nil {
		t.Fatalf("опрос ленты: %v", err)
	}
	if len(storage.posts) != 2 {
		t.Fatalf("обе записи должны сохраниться, получено %d", len(storage.posts))
	}
	if svc.State().LastFeedPollAt.IsZero() {
		t.Fatalf("время последнего опроса должно обновляться")
	}
}

type feedFunc func(ctx context.Context) ([]domain.FeedItem, error)

func (f feedFunc) Fetch(ctx context.Context) ([]domain.FeedItem, error) { return f(ctx) }
