package model

import (
	"math"
	"testing"
)

// syntheticSamples follows an exact log-linear cost law, which a ridge fit
// with a tiny lambda should recover almost perfectly.
func syntheticSamples(n int) []Sample {
	samples := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		x0 := float64(i)
		x1 := float64((i * i) % 7)
		label := math.Expm1(1 + 0.1*x0 + 0.05*x1)
		samples = append(samples, Sample{Features: []float64{x0, x1}, Label: label})
	}
	return samples
}

func TestLinearFitRecoversCostLaw(t *testing.T) {
	samples := syntheticSamples(20)
	scorer, err := LinearScorer{}.Fit(samples)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	feats := make([][]float64, len(samples))
	for i, s := range samples {
		feats[i] = s.Features
	}
	preds, err := scorer.Predict(feats)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for i, p := range preds {
		want := samples[i].Label
		if math.Abs(p-want) > 0.05*want+0.05 {
			t.Fatalf("sample %d: predicted %v, want %v", i, p, want)
		}
	}
}

func TestLinearFitRejectsBadInput(t *testing.T) {
	if _, err := (LinearScorer{}).Fit(nil); err == nil {
		t.Fatalf("expected error for empty sample set")
	}
	ragged := []Sample{
		{Features: []float64{1, 2}, Label: 1},
		{Features: []float64{1}, Label: 2},
	}
	if _, err := (LinearScorer{}).Fit(ragged); err == nil {
		t.Fatalf("expected error for ragged features")
	}
}

func TestLinearPredictWidthMismatch(t *testing.T) {
	scorer, err := LinearScorer{}.Fit(syntheticSamples(10))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if _, err := scorer.Predict([][]float64{{1, 2, 3}}); err == nil {
		t.Fatalf("expected width mismatch error")
	}
}

func TestLinearEmbedding(t *testing.T) {
	scorer, err := LinearScorer{}.Fit(syntheticSamples(10))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	lin := scorer.(*LinearScorer)
	emb := lin.Embedding([]float64{3, 2})
	if len(emb) != 2 {
		t.Fatalf("unexpected embedding width: %d", len(emb))
	}
	if lin.Embedding([]float64{1}) != nil {
		t.Fatalf("expected nil embedding on width mismatch")
	}
}

func TestLinearFitConstantFeature(t *testing.T) {
	samples := []Sample{
		{Features: []float64{1, 5}, Label: 2},
		{Features: []float64{2, 5}, Label: 4},
		{Features: []float64{3, 5}, Label: 6},
		{Features: []float64{4, 5}, Label: 8},
	}
	// A zero-variance column must not blow up standardization.
	if _, err := (LinearScorer{}).Fit(samples); err != nil {
		t.Fatalf("fit with constant feature: %v", err)
	}
}
