package plan

import (
	"math"
	"strings"
)

// Featurizer converts a candidate into the scorer's input vector. The default
// implementation is a fixed-width operator histogram; deployments with a
// richer encoder inject their own.
type Featurizer interface {
	Featurize(c Candidate) []float64
	Width() int
}

// operator classes tracked by the default featurizer, in vector order.
var opClasses = []string{
	"scan", "index", "join", "hash", "merge", "nested", "agg", "sort", "limit", "project",
}

// TreeFeaturizer is the default featurizer: per-class operator counts plus
// log-scaled cardinality aggregates and the shared buffer values folded into
// a trailing slot.
type TreeFeaturizer struct{}

// Width returns the feature vector width.
func (TreeFeaturizer) Width() int { return len(opClasses) + 3 }

// Featurize encodes the candidate tree.
func (TreeFeaturizer) Featurize(c Candidate) []float64 {
	out := make([]float64, len(opClasses)+3)
	var rowSum, rowMax float64
	maxDepth := 0
	var walk func(n *Node, depth int)
	walk = func(n *Node, depth int) {
		if n == nil {
			return
		}
		if depth > maxDepth {
			maxDepth = depth
		}
		if idx := classIndex(n.Op); idx >= 0 {
			out[idx]++
		}
		rowSum += n.EstRows
		if n.EstRows > rowMax {
			rowMax = n.EstRows
		}
		for _, child := range n.Children {
			walk(child, depth+1)
		}
	}
	walk(c.Root, 1)
	out[len(opClasses)] = math.Log1p(rowSum)
	out[len(opClasses)+1] = math.Log1p(rowMax)
	var bufSum float64
	for _, v := range c.Buffer {
		bufSum += v
	}
	out[len(opClasses)+2] = math.Log1p(bufSum + float64(maxDepth))
	return out
}

func classIndex(op string) int {
	lower := strings.ToLower(op)
	for i, class := range opClasses {
		if strings.Contains(lower, class) {
			return i
		}
	}
	return -1
}
