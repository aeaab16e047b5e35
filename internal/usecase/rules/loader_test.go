package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("запись файла: %v", err)
	}
}

func TestLoadMergesOverrides(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "rules.yaml")
	overrides := filepath.Join(dir, "overrides.yaml")

	writeFile(t, base, `
score_threshold: 18
keywords:
  whitelist: ["a", "b"]
  blacklist: ["x"]
weights:
  category:
    vps_deal: 15
`)
	writeFile(t, overrides, `
score_threshold: 25
keywords:
  whitelist: ["b", "c"]
  blacklist: null
`)

	rules, _, err := Load(base, overrides)
	if err != nil {
		t.Fatalf("загрузка правил: %v", err)
	}
	if rules.ScoreThreshold != 25 {
		t.Fatalf("скаляр должен замещаться, получено %f", rules.ScoreThreshold)
	}
	if len(rules.Keywords.Whitelist) != 3 {
		t.Fatalf("списки должны сливаться без дубликатов, получено %v", rules.Keywords.Whitelist)
	}
	if len(rules.Keywords.Blacklist) != 1 {
		t.Fatalf("null в переопределениях означает «не менять», получено %v", rules.Keywords.Blacklist)
	}
	if rules.Weights.Category["vps_deal"] != 15 {
		t.Fatalf("незатронутые ветки базы должны сохраняться")
	}
}

func TestLoadMissingOverridesFile(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "rules.yaml")
	writeFile(t, base, "score_threshold: 20\n")

	rules, _, err := Load(base, filepath.Join(dir, "нет-такого.yaml"))
	if err != nil {
		t.Fatalf("отсутствие переопределений не должно быть ошибкой: %v", err)
	}
	if rules.ScoreThreshold != 20 {
		t.Fatalf("базовые правила должны загружаться как есть")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "rules.yaml")
	writeFile(t, base, "keywords:\n  whitelist: []\n")

	rules, _, err := Load(base, filepath.Join(dir, "overrides.yaml"))
	if err != nil {
		t.Fatalf("загрузка правил: %v", err)
	}
	if rules.ScoreThreshold != 18 || rules.ExplainTopN != 6 {
		t.Fatalf("незаданные пороги должны получать значения по умолчанию: %+v", rules)
	}
	if rules.LengthRules.VeryShortChars != 80 || rules.LengthRules.MinEffectiveChars != 180 {
		t.Fatalf("пороги длины по умолчанию неверны: %+v", rules.LengthRules)
	}
}

func TestSaveOverridesAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "overrides.yaml")

	if err := SaveOverrides(path, map[string]any{"score_threshold": 30}); err != nil {
		t.Fatalf("сохранение переопределений: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("временный файл должен исчезать после rename")
	}

	loaded, err := loadYAMLMap(path)
	if err != nil {
		t.Fatalf("чтение сохранённого файла: %v", err)
	}
	if loaded["score_threshold"] != 30 {
		t.Fatalf("сохранённое значение потеряно: %v", loaded)
	}
}

func TestManagerMutationsPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "rules.yaml")
	overridesPath := filepath.Join(dir, "overrides.yaml")
	writeFile(t, base, `
score_threshold: 18
keywords:
  whitelist: ["старое"]
`)

	manager, err := NewManager(zerolog.Nop(), base, overridesPath)
	if err != nil {
		t.Fatalf("создание менеджера: %v", err)
	}

	if err := manager.SetThreshold(30); err != nil {
		t.Fatalf("установка порога: %v", err)
	}
	if got := manager.Threshold(); got != 30 {
		t.Fatalf("порог должен примениться сразу, получено %f", got)
	}

	if err := manager.AddWhitelist("новое"); err != nil {
		t.Fatalf("добавление в белый список: %v", err)
	}
	if err := manager.AddBlacklist("мусор"); err != nil {
		t.Fatalf("добавление в чёрный список: %v", err)
	}
	if err := manager.BlockTitle("Реклама (скидка 50%)"); err != nil {
		t.Fatalf("блокировка заголовка: %v", err)
	}

	// Изменения переживают пересоздание менеджера: диск — источник истины.
	reopened, err := NewManager(zerolog.Nop(), base, overridesPath)
	if err != nil {
		t.Fatalf("повторное открытие: %v", err)
	}
	rules := reopened.Current().Rules()
	if reopened.Threshold() != 30 {
		t.Fatalf("порог должен сохраняться на диске")
	}
	if len(rules.Keywords.Whitelist) != 2 {
		t.Fatalf("белый список должен содержать базу и добавление: %v", rules.Keywords.Whitelist)
	}
	if len(rules.Keywords.Blacklist) != 1 {
		t.Fatalf("чёрный список должен сохраняться: %v", rules.Keywords.Blacklist)
	}
	if len(rules.BlockTitleRegex) != 1 {
		t.Fatalf("блок-лист заголовков должен сохраняться: %v", rules.BlockTitleRegex)
	}
}

func TestManagerBlockTitleEscapesRegex(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "rules.yaml")
	writeFile(t, base, "score_threshold: 18\n")

	manager, err := NewManager(zerolog.Nop(), base, filepath.Join(dir, "overrides.yaml"))
	if err != nil {
		t.Fatalf("создание менеджера: %v", err)
	}
	if err := manager.BlockTitle("价格 $5 (特价)"); err != nil {
		t.Fatalf("блокировка заголовка: %v", err)
	}

	score := manager.Score("价格 $5 (特价)", "длинный связный текст о ценах и акциях", "FULLTEXT_HTTP")
	if score.Decision != "BLACKLIST" {
		t.Fatalf("заблокированный заголовок с метасимволами должен матчиться буквально, получено %s", score.Decision)
	}
}
