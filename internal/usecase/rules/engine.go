package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"nodeseek-bot/internal/domain"
)

// blacklistSentinel — оценка коротких замыканий чёрного и белого списков.
const blacklistSentinel = -999
const whitelistSentinel = 999

// Встроенные эвристики, не зависящие от файла правил.
var (
	clickbaitRe = regexp.MustCompile(`(震惊|必看|不看后悔|速看|重磅)`)
	quarrelRe   = regexp.MustCompile(`(对线|别杠|喷|垃圾|傻|滚|引战)`)
	repostRe    = regexp.MustCompile(`(转载|搬运|转发)`)
)

// compiledSignal — сигнальная группа с прекомпилированными выражениями.
type compiledSignal struct {
	name     string
	weight   float64
	patterns []*regexp.Regexp
}

// Engine — скомпилированный набор правил. Неизменяем после создания,
// безопасен для конкурентного чтения.
type Engine struct {
	rules           Rules
	categories      []string
	signals         []compiledSignal
	blockTitleRegex []*regexp.Regexp
}

var _ domain.Scorer = (*Engine)(nil)

// NewEngine компилирует правила. Невалидные регулярные выражения молча
// пропускаются: одна битая строчка в правилах не должна останавливать бот.
func NewEngine(rules Rules) *Engine {
	rules.applyDefaults()

	categories := make([]string, 0, len(rules.Weights.Category))
	for cat := range rules.Weights.Category {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	signalNames := make([]string, 0, len(rules.Signals))
	for name := range rules.Signals {
		signalNames = append(signalNames, name)
	}
	sort.Strings(signalNames)

	signals := make([]compiledSignal, 0, len(signalNames))
	for _, name := range signalNames {
		weight := rules.Weights.Signals[name]
		if weight == 0 {
			continue
		}
		patterns := compilePatterns(rules.Signals[name].AnyRegex)
		if len(patterns) == 0 {
			continue
		}
		signals = append(signals, compiledSignal{name: name, weight: weight, patterns: patterns})
	}

	return &Engine{
		rules:           rules,
		categories:      categories,
		signals:         signals,
		blockTitleRegex: compilePatterns(rules.BlockTitleRegex),
	}
}

func compilePatterns(exprs []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, expr := range exprs {
		re, err := regexp.Compile("(?im)" + expr)
		if err != nil {
			continue
		}
		out = append(out, re)
	}
	return out
}

// Rules возвращает модель, из которой собран движок.
func (e *Engine) Rules() Rules {
	return e.rules
}

// Threshold возвращает статический порог решения PUSH.
func (e *Engine) Threshold() float64 {
	return e.rules.ScoreThreshold
}

// Score считает оценку релевантности. Алгоритм детерминирован: одинаковый
// вход при одинаковых правилах всегда даёт одинаковый разбор.
func (e *Engine) Score(title, text string, confidence domain.SourceConfidence) domain.Score {
	hay := strings.ToLower(title + "\n" + text)
	threshold := e.rules.ScoreThreshold

	for _, kw := range e.rules.Keywords.Blacklist {
		if kw != "" && strings.Contains(hay, strings.ToLower(kw)) {
			return domain.Score{
				Total:    blacklistSentinel,
				Decision: domain.DecisionBlacklist,
				Explain: domain.Explain{
					Threshold: threshold,
					Decision:  domain.DecisionBlacklist,
					Reason:    "blacklist keyword: " + kw,
				},
			}
		}
	}

	for _, re := range e.blockTitleRegex {
		if re.MatchString(title) {
			return domain.Score{
				Total:    blacklistSentinel,
				Decision: domain.DecisionBlacklist,
				Explain: domain.Explain{
					Threshold: threshold,
					Decision:  domain.DecisionBlacklist,
					Reason:    "blocked by title regex: " + re.String(),
				},
			}
		}
	}

	for _, kw := range e.rules.Keywords.Whitelist {
		if kw != "" && strings.Contains(hay, strings.ToLower(kw)) {
			return domain.Score{
				Total:    whitelistSentinel,
				Decision: domain.DecisionWhitelist,
				Explain: domain.Explain{
					Threshold: threshold,
					Decision:  domain.DecisionWhitelist,
					Contributions: []domain.Contribution{
						{Name: "whitelist", Score: whitelistSentinel, Reason: kw},
					},
				},
			}
		}
	}

	var (
		rawScore      float64
		contributions []domain.Contribution
	)

	// Категории тем: в каждой категории засчитывается только первое
	// совпавшее слово, совпадения внутри категории не суммируются.
	for _, cat := range e.categories {
		weight := e.rules.Weights.Category[cat]
		for _, kw := range e.rules.Keywords.Topics[cat] {
			if kw != "" && strings.Contains(hay, strings.ToLower(kw)) {
				rawScore += weight
				contributions = append(contributions, domain.Contribution{
					Name: "category." + cat, Score: weight, Reason: kw,
				})
				break
			}
		}
	}

	for _, sig := range e.signals {
		for _, re := range sig.patterns {
			if re.MatchString(title) || re.MatchString(text) {
				rawScore += sig.weight
				contributions = append(contributions, domain.Contribution{
					Name: "signal." + sig.name, Score: sig.weight, Reason: "matched",
				})
				break
			}
		}
	}

	effLen := len([]rune(strings.TrimSpace(text)))
	if effLen < e.rules.LengthRules.VeryShortChars {
		penalty := e.rules.Weights.penalty("too_short", -8)
		rawScore += penalty
		contributions = append(contributions, domain.Contribution{
			Name: "penalty.too_short", Score: penalty,
			Reason: fmt.Sprintf("len<%d", e.rules.LengthRules.VeryShortChars),
		})
	}
	if effLen >= e.rules.LengthRules.LongCharsBonusThreshold {
		if bonus := e.rules.Weights.Bonuses["long_content"]; bonus != 0 {
			rawScore += bonus
			contributions = append(contributions, domain.Contribution{
				Name: "bonus.long_content", Score: bonus,
				Reason: fmt.Sprintf("len>=%d", e.rules.LengthRules.LongCharsBonusThreshold),
			})
		}
	}

	if effLen < e.rules.LengthRules.MinEffectiveChars && containsAny(hay, e.rules.Keywords.Trash) {
		penalty := e.rules.Weights.penalty("pure_help_no_context", -7)
		rawScore += penalty
		contributions = append(contributions, domain.Contribution{
			Name: "penalty.pure_help_no_context", Score: penalty, Reason: "help/trash keywords",
		})
	}

	if clickbaitRe.MatchString(title) {
		penalty := e.rules.Weights.penalty("clickbait", -8)
		rawScore += penalty
		contributions = append(contributions, domain.Contribution{
			Name: "penalty.clickbait", Score: penalty, Reason: "title pattern",
		})
	}
	if quarrelRe.MatchString(hay) {
		penalty := e.rules.Weights.penalty("emotional_or_quarrel", -10)
		rawScore += penalty
		contributions = append(contributions, domain.Contribution{
			Name: "penalty.emotional_or_quarrel", Score: penalty, Reason: "emotional words",
		})
	}
	if repostRe.MatchString(hay) {
		penalty := e.rules.Weights.penalty("repeated_or_repost_hint", -6)
		rawScore += penalty
		contributions = append(contributions, domain.Contribution{
			Name: "penalty.repost", Score: penalty, Reason: "repost hint",
		})
	}

	confidenceFactor := 1.0
	if v, ok := e.rules.SourceConfidence[string(confidence)]; ok {
		confidenceFactor = v
	}
	total := rawScore * confidenceFactor

	// Штраф за RSS-only добавляется после умножения: низкое доверие не
	// должно смягчать сам штраф.
	var rssOnlyPenalty float64
	if confidence == domain.ConfidenceRSSOnly {
		rssOnlyPenalty = e.rules.Weights.penalty("rss_only_penalty", -4)
		total += rssOnlyPenalty
		contributions = append(contributions, domain.Contribution{
			Name: "penalty.rss_only", Score: rssOnlyPenalty, Reason: "RSS_ONLY",
		})
	}

	decision := domain.DecisionIgnore
	if total >= threshold {
		decision = domain.DecisionPush
	}

	sort.SliceStable(contributions, func(i, j int) bool {
		return abs(contributions[i].Score) > abs(contributions[j].Score)
	})
	if len(contributions) > e.rules.ExplainTopN {
		contributions = contributions[:e.rules.ExplainTopN]
	}

	return domain.Score{
		Total:    total,
		Decision: decision,
		Explain: domain.Explain{
			Threshold:        threshold,
			RawScore:         rawScore,
			Confidence:       confidence,
			ConfidenceFactor: confidenceFactor,
			RSSOnlyPenalty:   rssOnlyPenalty,
			Decision:         decision,
			Contributions:    contributions,
		},
	}
}

func containsAny(hay string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(hay, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
