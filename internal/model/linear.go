package model

import (
	"fmt"
	"math"
)

// LinearScorer is the default trainable scorer: ridge regression over
// standardized features with a log1p label transform. It stands in for
// heavier externally trained models and exercises the full persistence and
// gate paths.
type LinearScorer struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
}

const ridgeLambda = 1e-3

// Fit trains a fresh scorer on the samples.
func (LinearScorer) Fit(samples []Sample) (Scorer, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("fit: no samples")
	}
	width := len(samples[0].Features)
	for _, s := range samples {
		if len(s.Features) != width {
			return nil, fmt.Errorf("fit: ragged feature width %d != %d", len(s.Features), width)
		}
	}
	mean, std := standardizeParams(samples, width)
	// Normal equations on standardized inputs with an intercept column.
	dim := width + 1
	a := make([][]float64, dim)
	for i := range a {
		a[i] = make([]float64, dim+1)
	}
	row := make([]float64, dim)
	for _, s := range samples {
		row[0] = 1
		for j := 0; j < width; j++ {
			row[j+1] = (s.Features[j] - mean[j]) / std[j]
		}
		label := math.Log1p(math.Max(s.Label, 0))
		for i := 0; i < dim; i++ {
			for j := 0; j < dim; j++ {
				a[i][j] += row[i] * row[j]
			}
			a[i][dim] += row[i] * label
		}
	}
	for i := 1; i < dim; i++ {
		a[i][i] += ridgeLambda * float64(len(samples))
	}
	coef, err := solve(a)
	if err != nil {
		return nil, err
	}
	return &LinearScorer{Weights: coef[1:], Bias: coef[0], Mean: mean, Std: std}, nil
}

// Predict scores featurized candidates.
func (s *LinearScorer) Predict(features [][]float64) ([]float64, error) {
	out := make([]float64, len(features))
	for i, feat := range features {
		if len(feat) != len(s.Weights) {
			return nil, fmt.Errorf("predict: feature width %d != %d", len(feat), len(s.Weights))
		}
		acc := s.Bias
		for j, v := range feat {
			acc += s.Weights[j] * (v - s.Mean[j]) / s.Std[j]
		}
		// Invert the label transform back to the cost domain.
		out[i] = math.Expm1(acc)
	}
	return out, nil
}

// Embedding returns the standardized feature vector, the representation the
// linear model actually scores.
func (s *LinearScorer) Embedding(features []float64) []float64 {
	if len(features) != len(s.Weights) {
		return nil
	}
	out := make([]float64, len(features))
	for j, v := range features {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// Width returns the expected feature width.
func (s *LinearScorer) Width() int { return len(s.Weights) }

func standardizeParams(samples []Sample, width int) (mean, std []float64) {
	mean = make([]float64, width)
	std = make([]float64, width)
	for _, s := range samples {
		for j, v := range s.Features {
			mean[j] += v
		}
	}
	n := float64(len(samples))
	for j := range mean {
		mean[j] /= n
	}
	for _, s := range samples {
		for j, v := range s.Features {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] < 1e-9 {
			std[j] = 1
		}
	}
	return mean, std
}

// solve runs Gaussian elimination with partial pivoting on an augmented
// matrix of shape dim x (dim+1).
func solve(a [][]float64) ([]float64, error) {
	dim := len(a)
	for col := 0; col < dim; col++ {
		pivot := col
		for r := col + 1; r < dim; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, fmt.Errorf("fit: singular system at column %d", col)
		}
		a[col], a[pivot] = a[pivot], a[col]
		for r := col + 1; r < dim; r++ {
			factor := a[r][col] / a[col][col]
			for c := col; c <= dim; c++ {
				a[r][c] -= factor * a[col][c]
			}
		}
	}
	out := make([]float64, dim)
	for r := dim - 1; r >= 0; r-- {
		acc := a[r][dim]
		for c := r + 1; c < dim; c++ {
			acc -= a[r][c] * out[c]
		}
		out[r] = acc / a[r][r]
	}
	return out, nil
}
