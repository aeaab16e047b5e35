package summarizer

import (
	"encoding/json"
	"strings"
)

// summaryPayload — ожидаемая схема ответа модели. Разные провайдеры
// используют синонимичные имена полей, принимаем оба варианта.
type summaryPayload struct {
	Summary   string    `json:"summary"`
	KeyPoints fieldList `json:"key_points"`
	Points    fieldList `json:"points"`
	Actions   fieldList `json:"actions"`
	Todos     fieldList `json:"todos"`
}

// fieldList принимает и массив строк, и одну строку с переводами строк.
type fieldList []string

func (l *fieldList) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err == nil {
		*l = items
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		var out []string
		for _, line := range strings.Split(single, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
		*l = out
		return nil
	}
	// Незнакомая форма поля не должна ронять разбор всего объекта.
	*l = nil
	return nil
}

// extractJSON разбирает ответ модели: сначала тело целиком, затем первый
// объект в фигурных скобках, если провайдер обернул JSON лишним текстом.
func extractJSON(text string) (summaryPayload, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return summaryPayload{}, false
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		return payload, true
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return summaryPayload{}, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &payload); err != nil {
		return summaryPayload{}, false
	}
	return payload, true
}
