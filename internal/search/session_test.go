package search

import (
	"encoding/json"
	"math"
	"testing"

	"kuroko/internal/plan"
)

func testPlan(t *testing.T) *plan.Node {
	t.Helper()
	root, err := plan.Decode(json.RawMessage(`{
		"op": "hash_join",
		"children": [
			{"op": "table_scan", "table": "a", "est_rows": 100},
			{"op": "table_scan", "table": "b", "est_rows": 10000}
		]
	}`))
	if err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	return root
}

func rowSum(n *plan.Node) float64 {
	if n == nil {
		return 0
	}
	total := n.EstRows
	for _, c := range n.Children {
		total += rowSum(c)
	}
	return total
}

func TestInitAndFirstStep(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if err := st.Init("q1", []string{"a", "b"}, []float64{100, 10000}); err != nil {
		t.Fatalf("init: %v", err)
	}
	res, err := st.Step("q1", testPlan(t), rowSum)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	// First round runs at the lower bound: 100*0.01 and 10000*0.01.
	if got := res.Plan.Children[0].EstRows; got != 1 {
		t.Fatalf("unexpected rewritten rows for a: %v", got)
	}
	if got := res.Plan.Children[1].EstRows; got != 100 {
		t.Fatalf("unexpected rewritten rows for b: %v", got)
	}
	if res.Finish {
		t.Fatalf("finished after the first round")
	}
	if !res.New {
		t.Fatalf("first shape not reported as new")
	}
}

func TestInitRejectsRaggedInput(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if err := st.Init("q1", []string{"a", "b"}, []float64{100}); err == nil {
		t.Fatalf("expected error for mismatched tables and rows")
	}
}

// The multiplier ladder 0.01, 0.1, 1, 10, 100 is exact in float64, so the
// search must finish in exactly five rounds.
func TestStepLadderTerminates(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if err := st.Init("q1", []string{"a", "b"}, []float64{100, 10000}); err != nil {
		t.Fatalf("init: %v", err)
	}
	rounds := 0
	for {
		res, err := st.Step("q1", testPlan(t), rowSum)
		if err != nil {
			t.Fatalf("step %d: %v", rounds, err)
		}
		rounds++
		if res.Finish {
			break
		}
		if rounds > 10 {
			t.Fatalf("search did not terminate")
		}
	}
	if rounds != 5 {
		t.Fatalf("unexpected round count: %d", rounds)
	}
}

// The same plan shape seen at a later multiplier must not be re-reported.
func TestStepDeduplicatesShapes(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if err := st.Init("q1", []string{"a", "b"}, []float64{100, 10000}); err != nil {
		t.Fatalf("init: %v", err)
	}
	seen := make(map[string]bool)
	for {
		res, err := st.Step("q1", testPlan(t), rowSum)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if res.New {
			if seen[res.Signature] {
				t.Fatalf("signature %s re-emitted as new", res.Signature)
			}
			seen[res.Signature] = true
		} else if !seen[res.Signature] {
			t.Fatalf("signature %s suppressed before first sight", res.Signature)
		}
		if res.Finish {
			break
		}
	}
	// Cardinality rewrites do not change the shape, so only one signature
	// can ever be new for a fixed input plan.
	if len(seen) != 1 {
		t.Fatalf("unexpected distinct signatures: %d", len(seen))
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if err := st.Init("q1", []string{"a"}, []float64{100}); err != nil {
		t.Fatalf("init q1: %v", err)
	}
	if err := st.Init("q2", []string{"a"}, []float64{100}); err != nil {
		t.Fatalf("init q2: %v", err)
	}
	// Advance q1 twice; q2 must still start at the lower bound.
	for i := 0; i < 2; i++ {
		if _, err := st.Step("q1", testPlan(t), rowSum); err != nil {
			t.Fatalf("step q1: %v", err)
		}
	}
	res, err := st.Step("q2", testPlan(t), rowSum)
	if err != nil {
		t.Fatalf("step q2: %v", err)
	}
	if got := res.Plan.Children[0].EstRows; got != 1 {
		t.Fatalf("q2 did not start at the lower bound: rows %v", got)
	}
	if st.Len() != 2 {
		t.Fatalf("unexpected session count: %d", st.Len())
	}
}

func TestDuplicateInitOverwrites(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if err := st.Init("q1", []string{"a", "b"}, []float64{100, 10000}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := st.Step("q1", testPlan(t), rowSum); err != nil {
		t.Fatalf("step: %v", err)
	}
	if err := st.Init("q1", []string{"a", "b"}, []float64{100, 10000}); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	res, err := st.Step("q1", testPlan(t), rowSum)
	if err != nil {
		t.Fatalf("step after re-init: %v", err)
	}
	// The fresh session restarts at the lower bound.
	if got := res.Plan.Children[0].EstRows; got != 1 {
		t.Fatalf("re-init did not reset the multiplier: rows %v", got)
	}
	if st.Len() != 1 {
		t.Fatalf("unexpected session count after re-init: %d", st.Len())
	}
}

func TestUnknownSession(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if _, err := st.Step("nope", testPlan(t), rowSum); err == nil {
		t.Fatalf("expected error for unknown session")
	}
	if err := st.Remove("nope"); err == nil {
		t.Fatalf("expected error removing unknown session")
	}
}

func TestRemoveEndsSession(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if err := st.Init("q1", []string{"a"}, []float64{100}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := st.Remove("q1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := st.Step("q1", testPlan(t), rowSum); err == nil {
		t.Fatalf("stepped a removed session")
	}
	if st.Len() != 0 {
		t.Fatalf("unexpected session count: %d", st.Len())
	}
}

func TestBestTracksLowestScore(t *testing.T) {
	st := NewStore(0.01, 100, 10, nil)
	if err := st.Init("q1", []string{"a", "b"}, []float64{100, 10000}); err != nil {
		t.Fatalf("init: %v", err)
	}
	lowest := math.Inf(1)
	for {
		res, err := st.Step("q1", testPlan(t), rowSum)
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if res.New && res.Score < lowest {
			lowest = res.Score
		}
		if res.Finish {
			break
		}
	}
	st.mu.Lock()
	sess := st.sessions["q1"]
	st.mu.Unlock()
	if sess.Best() == nil || sess.Best().Score != lowest {
		t.Fatalf("best discovery not tracked: %+v", sess.Best())
	}
}
