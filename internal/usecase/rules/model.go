// Package rules содержит модель правил оценки, загрузчик YAML с наложением
// переопределений и детерминированный движок подсчёта очков.
package rules

// Rules — типизированная модель файла правил.
type Rules struct {
	ScoreThreshold   float64            `yaml:"score_threshold"`
	ExplainTopN      int                `yaml:"explain_top_n"`
	SourceConfidence map[string]float64 `yaml:"source_confidence"`
	Weights          Weights            `yaml:"weights"`
	Keywords         Keywords           `yaml:"keywords"`
	LengthRules      LengthRules        `yaml:"length_rules"`
	Signals          map[string]Signal  `yaml:"signals"`
	BlockTitleRegex  []string           `yaml:"block_title_regex"`
}

// Weights — веса вкладов по группам.
type Weights struct {
	Category  map[string]float64 `yaml:"category"`
	Signals   map[string]float64 `yaml:"signals"`
	Penalties map[string]float64 `yaml:"penalties"`
	Bonuses   map[string]float64 `yaml:"bonuses"`
}

// Keywords — списки ключевых слов.
type Keywords struct {
	Whitelist []string            `yaml:"whitelist"`
	Blacklist []string            `yaml:"blacklist"`
	Topics    map[string][]string `yaml:"topics"`
	Trash     []string            `yaml:"trash"`
}

// LengthRules — пороги длины эффективного текста.
type LengthRules struct {
	MinEffectiveChars       int `yaml:"min_effective_chars"`
	VeryShortChars          int `yaml:"very_short_chars"`
	LongCharsBonusThreshold int `yaml:"long_chars_bonus_threshold"`
}

// Signal — регексовая группа: срабатывает при совпадении любого выражения.
type Signal struct {
	AnyRegex []string `yaml:"any_regex"`
}

// applyDefaults заполняет незаданные пороги значениями по умолчанию.
func (r *Rules) applyDefaults() {
	if r.ScoreThreshold == 0 {
		r.ScoreThreshold = 18
	}
	if r.ExplainTopN == 0 {
		r.ExplainTopN = 6
	}
	if r.LengthRules.MinEffectiveChars == 0 {
		r.LengthRules.MinEffectiveChars = 180
	}
	if r.LengthRules.VeryShortChars == 0 {
		r.LengthRules.VeryShortChars = 80
	}
	if r.LengthRules.LongCharsBonusThreshold == 0 {
		r.LengthRules.LongCharsBonusThreshold = 1200
	}
}

// penalty возвращает вес штрафа либо значение по умолчанию.
func (w Weights) penalty(name string, def float64) float64 {
	if v, ok := w.Penalties[name]; ok {
		return v
	}
	return def
}
