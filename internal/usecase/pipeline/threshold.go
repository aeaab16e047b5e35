package pipeline

import (
	"math"
	"sort"

	"nodeseek-bot/internal/domain"
)

// BestThreshold подбирает порог оценки, максимизирующий F1 по отметкам
// useful/useless. Связанные одинаковой оценкой элементы двигаются одной
// партией: порог не может пройти строго между двумя равными оценками.
// Краевые случаи: без отметок или без положительных — +Inf (не доставлять
// ничего); все положительные — минимальная наблюдавшаяся оценка.
func BestThreshold(labeled []domain.LabeledScore) float64 {
	if len(labeled) == 0 {
		return math.Inf(1)
	}

	sorted := append([]domain.LabeledScore{}, labeled...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	totalPos := 0
	for _, item := range sorted {
		if item.Useful {
			totalPos++
		}
	}
	if totalPos == 0 {
		return math.Inf(1)
	}
	if totalPos == len(sorted) {
		return sorted[len(sorted)-1].Score
	}

	bestF1 := -1.0
	bestThreshold := sorted[0].Score

	tp, fp := 0, 0
	idx := 0
	for idx < len(sorted) {
		scoreVal := sorted[idx].Score
		for idx < len(sorted) && sorted[idx].Score == scoreVal {
			if sorted[idx].Useful {
				tp++
			} else {
				fp++
			}
			idx++
		}

		fn := totalPos - tp
		denom := float64(2*tp + fp + fn)
		f1 := 0.0
		if denom > 0 {
			f1 = float64(2*tp) / denom
		}
		// Строгое сравнение: при равном F1 побеждает первый (высший) порог.
		if f1 > bestF1 {
			bestF1 = f1
			bestThreshold = scoreVal
		}
	}
	return bestThreshold
}
