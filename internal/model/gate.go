package model

import (
	"fmt"
	"math"

	"kuroko/internal/experience"
	"kuroko/internal/plan"
)

// Gate compares a candidate scorer against the incumbent over a reference
// sample set and approves or rejects the swap. Rejection is a defined
// negative outcome, not an error.
type Gate struct {
	Tolerance  float64
	Featurizer plan.Featurizer
}

// NewGate constructs a gate with the given relative tolerance.
func NewGate(tolerance float64, f plan.Featurizer) *Gate {
	if tolerance <= 0 {
		tolerance = 0.10
	}
	return &Gate{Tolerance: tolerance, Featurizer: f}
}

// ShouldReplace reports whether cand may replace old. A first load (old nil)
// and an empty reference set always pass; otherwise cand is rejected when its
// mean absolute error against observed rewards exceeds the incumbent's by
// more than the tolerance.
func (g *Gate) ShouldReplace(old, cand *Handle, refs []experience.Record) (bool, string) {
	if cand == nil || cand.Scorer == nil {
		return false, "candidate has no scorer"
	}
	if old == nil || old.Scorer == nil {
		return true, "first load"
	}
	feats, labels := g.referenceInputs(refs)
	if len(feats) == 0 {
		return true, "no reference samples"
	}
	oldErr, err := meanAbsError(old.Scorer, feats, labels)
	if err != nil {
		return true, fmt.Sprintf("incumbent unscorable on reference set: %v", err)
	}
	candErr, err := meanAbsError(cand.Scorer, feats, labels)
	if err != nil {
		return false, fmt.Sprintf("candidate unscorable on reference set: %v", err)
	}
	if candErr > oldErr*(1+g.Tolerance) {
		return false, fmt.Sprintf("candidate mae %.4f exceeds incumbent %.4f beyond tolerance %.2f", candErr, oldErr, g.Tolerance)
	}
	return true, fmt.Sprintf("candidate mae %.4f vs incumbent %.4f", candErr, oldErr)
}

func (g *Gate) referenceInputs(refs []experience.Record) ([][]float64, []float64) {
	feats := make([][]float64, 0, len(refs))
	labels := make([]float64, 0, len(refs))
	for _, rec := range refs {
		root, err := plan.Decode(rec.Plan)
		if err != nil {
			continue
		}
		feats = append(feats, g.Featurizer.Featurize(plan.Candidate{Root: root}))
		labels = append(labels, rec.Reward)
	}
	return feats, labels
}

func meanAbsError(s Scorer, feats [][]float64, labels []float64) (float64, error) {
	preds, err := s.Predict(feats)
	if err != nil {
		return 0, err
	}
	if len(preds) != len(labels) {
		return 0, fmt.Errorf("prediction count %d != %d", len(preds), len(labels))
	}
	var sum float64
	for i, p := range preds {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, fmt.Errorf("non-finite prediction at %d", i)
		}
		sum += math.Abs(p - labels[i])
	}
	return sum / float64(len(preds)), nil
}
