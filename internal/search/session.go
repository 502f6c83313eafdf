// Package search implements the iterative guided-optimization workflow: a
// bounded 1-D line search over multiplicative cardinality perturbations,
// de-duplicated by plan-shape signature.
package search

import (
	"fmt"
	"sync"
	"time"

	"kuroko/internal/plan"
	"kuroko/internal/util"
)

// Discovery is one newly seen plan shape and its score.
type Discovery struct {
	Signature  string    `json:"signature"`
	Score      float64   `json:"score"`
	Multiplier float64   `json:"multiplier"`
	Timestamp  time.Time `json:"ts"`
}

// Session is the per-query search state. Exactly one session exists per live
// query id; a second init for the same id overwrites the first.
type Session struct {
	QueryID    string
	Multiplier float64
	Rows       map[string]float64

	visited     map[string]struct{}
	discoveries []Discovery
	best        *Discovery
}

// Best returns the best discovery so far, or nil.
func (s *Session) Best() *Discovery { return s.best }

// StepResult is the outcome of one guided optimization round.
type StepResult struct {
	Plan      *plan.Node
	Score     float64
	Signature string
	New       bool
	Finish    bool
}

// boundsSlack absorbs float drift when the multiplier is advanced
// geometrically toward the upper bound.
const boundsSlack = 1e-9

// Store maps query ids to sessions. Mutations serialize on a single lock;
// scoring happens outside it, which is safe because the database drives each
// query id with one round trip at a time.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	lower float64
	upper float64
	step  float64

	log *Log
}

// NewStore creates a session store with the given multiplier bounds and
// geometric step. log may be nil to disable durable discovery flushes.
func NewStore(lower, upper, step float64, log *Log) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		lower:    lower,
		upper:    upper,
		step:     step,
		log:      log,
	}
}

// Init creates the session for queryID with the multiplier at its starting
// bound. Row counts are keyed by table identifier. An existing session for
// the same id is overwritten.
func (st *Store) Init(queryID string, tables []string, rows []float64) error {
	if queryID == "" {
		return fmt.Errorf("init: empty query id")
	}
	if len(tables) != len(rows) {
		return fmt.Errorf("init: %d tables but %d row counts", len(tables), len(rows))
	}
	rowMap := make(map[string]float64, len(tables))
	for i, tbl := range tables {
		rowMap[tbl] = rows[i]
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[queryID]; ok {
		util.Detailf("session overwritten query_id=%s", queryID)
	}
	st.sessions[queryID] = &Session{
		QueryID:    queryID,
		Multiplier: st.lower,
		Rows:       rowMap,
		visited:    make(map[string]struct{}),
	}
	return nil
}

// Step runs one guided optimization round for queryID: rewrite the injected
// cardinalities at the current multiplier, score the rewritten plan, record
// the shape if unseen, and advance the multiplier. Finish turns true once the
// multiplier passes the upper bound.
func (st *Store) Step(queryID string, root *plan.Node, score func(*plan.Node) float64) (StepResult, error) {
	st.mu.Lock()
	sess, ok := st.sessions[queryID]
	if !ok {
		st.mu.Unlock()
		return StepResult{}, fmt.Errorf("unknown query id %q", queryID)
	}
	multiplier := sess.Multiplier
	rows := sess.Rows
	st.mu.Unlock()

	rewritten := plan.RewriteCardinalities(root, rows, multiplier)
	sig := plan.Signature(rewritten)
	cost := score(rewritten)

	st.mu.Lock()
	defer st.mu.Unlock()
	if cur, ok := st.sessions[queryID]; !ok || cur != sess {
		// Session was removed or overwritten mid-round.
		return StepResult{}, fmt.Errorf("unknown query id %q", queryID)
	}
	result := StepResult{Plan: rewritten, Score: cost, Signature: sig}
	if _, seen := sess.visited[sig]; !seen {
		sess.visited[sig] = struct{}{}
		disc := Discovery{Signature: sig, Score: cost, Multiplier: multiplier, Timestamp: time.Now()}
		sess.discoveries = append(sess.discoveries, disc)
		if sess.best == nil || cost < sess.best.Score {
			best := disc
			sess.best = &best
		}
		result.New = true
	}
	sess.Multiplier = multiplier * st.step
	if sess.Multiplier > st.upper*(1+boundsSlack) {
		result.Finish = true
	}
	return result, nil
}

// Remove deletes the session and flushes its accumulated discoveries to the
// search log. The flush is best-effort; a log failure never fails removal.
func (st *Store) Remove(queryID string) error {
	st.mu.Lock()
	sess, ok := st.sessions[queryID]
	if ok {
		delete(st.sessions, queryID)
	}
	st.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown query id %q", queryID)
	}
	if st.log != nil && len(sess.discoveries) > 0 {
		if err := st.log.Flush(queryID, sess.discoveries); err != nil {
			util.Warnf("search log flush failed query_id=%s err=%v", queryID, err)
		}
	}
	return nil
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
