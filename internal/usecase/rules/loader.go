package rules

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// loadYAMLMap читает YAML-файл в словарь. Отсутствующий файл — пустой
// словарь, а не ошибка: переопределений может не быть вовсе.
func loadYAMLMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("чтение %s: %w", path, err)
	}

	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("разбор %s: %w", path, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// deepMerge накладывает override на base: словари сливаются рекурсивно,
// списки конкатенируются с удалением дубликатов, null в override означает
// «не менять», скаляр — замену.
func deepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		existing, ok := out[k]
		if !ok {
			out[k] = v
			continue
		}
		if baseMap, ok1 := existing.(map[string]any); ok1 {
			if overrideMap, ok2 := v.(map[string]any); ok2 {
				out[k] = deepMerge(baseMap, overrideMap)
				continue
			}
		}
		if baseList, ok1 := existing.([]any); ok1 {
			if overrideList, ok2 := v.([]any); ok2 {
				out[k] = mergeLists(baseList, overrideList)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// mergeLists объединяет списки с сохранением порядка и без дубликатов.
func mergeLists(base, override []any) []any {
	seen := make(map[string]struct{}, len(base)+len(override))
	merged := make([]any, 0, len(base)+len(override))
	for _, item := range append(append([]any{}, base...), override...) {
		key := fmt.Sprint(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, item)
	}
	return merged
}

// Load читает базовые правила и переопределения, сливает их и приводит
// к типизированной модели.
func Load(basePath, overridesPath string) (Rules, map[string]any, error) {
	base, err := loadYAMLMap(basePath)
	if err != nil {
		return Rules{}, nil, err
	}
	overrides, err := loadYAMLMap(overridesPath)
	if err != nil {
		return Rules{}, nil, err
	}

	merged := deepMerge(base, overrides)
	data, err := yaml.Marshal(merged)
	if err != nil {
		return Rules{}, nil, fmt.Errorf("сериализация слитых правил: %w", err)
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, nil, fmt.Errorf("типизация правил: %w", err)
	}
	rules.applyDefaults()
	return rules, overrides, nil
}

// SaveOverrides атомарно записывает файл переопределений: сначала во
// временный файл, затем rename.
func SaveOverrides(path string, overrides map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("создание каталога правил: %w", err)
	}

	data, err := yaml.Marshal(overrides)
	if err != nil {
		return fmt.Errorf("сериализация переопределений: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("запись временного файла: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("замена файла переопределений: %w", err)
	}
	return nil
}
