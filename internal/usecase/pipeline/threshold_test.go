package pipeline

import (
	"math"
	"testing"

	"nodeseek-bot/internal/domain"
)

func labeled(pairs ...[2]float64) []domain.LabeledScore {
	out := make([]domain.LabeledScore, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, domain.LabeledScore{Score: p[0], Useful: p[1] == 1})
	}
	return out
}

func TestBestThresholdMaximizesF1WithTieBatch(t *testing.T) {
	// Связка на оценке 8 двигается одной партией: порог 8 даёт F1=0.8 и
	// побеждает порог 10 (F1≈0.67).
	got := BestThreshold(labeled([2]float64{10, 1}, [2]float64{8, 1}, [2]float64{8, 0}, [2]float64{5, 0}))
	if got != 8 {
		t.Fatalf("ожидался порог 8, получено %f", got)
	}
}

func TestBestThresholdNoLabels(t *testing.T) {
	if got := BestThreshold(nil); !math.IsInf(got, 1) {
		t.Fatalf("без отметок порог должен быть +Inf, получено %f", got)
	}
}

func TestBestThresholdNoPositives(t *testing.T) {
	got := BestThreshold(labeled([2]float64{12, 0}, [2]float64{7, 0}))
	if !math.IsInf(got, 1) {
		t.Fatalf("без положительных отметок порог должен быть +Inf, получено %f", got)
	}
}

func TestBestThresholdAllPositives(t *testing.T) {
	got := BestThreshold(labeled([2]float64{12, 1}, [2]float64{7, 1}, [2]float64{3, 1}))
	if got != 3 {
		t.Fatalf("при всех положительных порог — минимальная оценка, получено %f", got)
	}
}

func TestBestThresholdPerfectSplit(t *testing.T) {
	got := BestThreshold(labeled([2]float64{10, 1}, [2]float64{5, 0}))
	if got != 10 {
		t.Fatalf("идеальное разделение должно давать верхний порог, получено %f", got)
	}
}
