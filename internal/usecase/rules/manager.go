package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"nodeseek-bot/internal/domain"
)

// Manager держит актуальный движок правил и файл переопределений.
// Команды администратора меняют переопределения, сохраняют их атомарно
// и пересобирают движок; чтение оценок не блокируется записью надолго.
type Manager struct {
	logger        zerolog.Logger
	basePath      string
	overridesPath string

	mu        sync.RWMutex
	engine    *Engine
	overrides map[string]any
}

var _ domain.Scorer = (*Manager)(nil)

// NewManager загружает правила и собирает движок.
func NewManager(logger zerolog.Logger, basePath, overridesPath string) (*Manager, error) {
	m := &Manager{
		logger:        logger.With().Str("component", "rules").Logger(),
		basePath:      basePath,
		overridesPath: overridesPath,
	}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload перечитывает базу и переопределения с диска.
func (m *Manager) Reload() error {
	rules, overrides, err := Load(m.basePath, m.overridesPath)
	if err != nil {
		return fmt.Errorf("загрузка правил: %w", err)
	}

	m.mu.Lock()
	m.engine = NewEngine(rules)
	m.overrides = overrides
	m.mu.Unlock()

	m.logger.Info().
		Float64("threshold", rules.ScoreThreshold).
		Int("whitelist", len(rules.Keywords.Whitelist)).
		Int("blacklist", len(rules.Keywords.Blacklist)).
		Msg("правила перезагружены")
	return nil
}

// Score реализует domain.Scorer через текущий движок.
func (m *Manager) Score(title, text string, confidence domain.SourceConfidence) domain.Score {
	m.mu.RLock()
	engine := m.engine
	m.mu.RUnlock()
	return engine.Score(title, text, confidence)
}

// Threshold возвращает текущий статический порог.
func (m *Manager) Threshold() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine.Threshold()
}

// Current возвращает текущий движок (для чтения скомпилированных правил).
func (m *Manager) Current() *Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine
}

// SetThreshold устанавливает статический порог через переопределения.
func (m *Manager) SetThreshold(value float64) error {
	return m.mutate(func(overrides map[string]any) {
		overrides["score_threshold"] = value
	})
}

// AddWhitelist добавляет слово в белый список.
func (m *Manager) AddWhitelist(keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return fmt.Errorf("пустое ключевое слово")
	}
	return m.mutate(func(overrides map[string]any) {
		appendToList(childMap(overrides, "keywords"), "whitelist", keyword)
	})
}

// AddBlacklist добавляет слово в чёрный список.
func (m *Manager) AddBlacklist(keyword string) error {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return fmt.Errorf("пустое ключевое слово")
	}
	return m.mutate(func(overrides map[string]any) {
		appendToList(childMap(overrides, "keywords"), "blacklist", keyword)
	})
}

// BlockTitle добавляет точное совпадение заголовка в блок-лист заголовков.
func (m *Manager) BlockTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("пустой заголовок")
	}
	return m.mutate(func(overrides map[string]any) {
		appendToList(overrides, "block_title_regex", regexp.QuoteMeta(title))
	})
}

// mutate применяет изменение к копии переопределений, сохраняет файл и
// перечитывает правила. Диск — источник истины: при ошибке сохранения
// состояние в памяти не меняется.
func (m *Manager) mutate(apply func(overrides map[string]any)) error {
	m.mu.RLock()
	overrides := deepCopyMap(m.overrides)
	m.mu.RUnlock()

	apply(overrides)
	if err := SaveOverrides(m.overridesPath, overrides); err != nil {
		return err
	}
	return m.Reload()
}

func deepCopyMap(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		switch typed := v.(type) {
		case map[string]any:
			out[k] = deepCopyMap(typed)
		case []any:
			out[k] = append([]any{}, typed...)
		default:
			out[k] = v
		}
	}
	return out
}

// childMap возвращает вложенный словарь, создавая его при необходимости.
func childMap(parent map[string]any, key string) map[string]any {
	if child, ok := parent[key].(map[string]any); ok {
		return child
	}
	child := map[string]any{}
	parent[key] = child
	return child
}

// appendToList дописывает значение в список, избегая дубликатов.
func appendToList(parent map[string]any, key, value string) {
	list, _ := parent[key].([]any)
	for _, item := range list {
		if fmt.Sprint(item) == value {
			return
		}
	}
	parent[key] = append(list, value)
}
