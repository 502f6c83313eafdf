package server

import (
	"context"
	"math"
	"time"

	"kuroko/internal/experience"
	"kuroko/internal/model"
	"kuroko/internal/observer"
	"kuroko/internal/plan"
	"kuroko/internal/protocol"
	"kuroko/internal/util"
)

func (s *Server) dispatch(ctx context.Context, tx *protocol.Transaction) any {
	switch tx.Kind {
	case protocol.KindSelect:
		return s.handleSelect(tx)
	case protocol.KindPredict:
		return s.handlePredict(tx)
	case protocol.KindReward:
		return s.handleReward(tx)
	case protocol.KindLoad:
		return s.handleLoad(tx)
	case protocol.KindReset:
		return s.handleReset()
	case protocol.KindInit:
		return s.handleInit(tx)
	case protocol.KindGuided:
		return s.handleGuided(tx)
	case protocol.KindRemove:
		return s.handleRemove(tx)
	default:
		return map[string]any{"error": "unknown transaction kind"}
	}
}

// handleSelect scores every candidate with the active model and replies with
// the index of the cheapest. Without a model, or when every prediction is
// non-finite, the first candidate wins: index 0 is always a safe answer
// because clients send the optimizer's default plan first.
func (s *Server) handleSelect(tx *protocol.Transaction) any {
	started := time.Now()
	msgs := tx.Candidates()
	if len(msgs) == 0 {
		return map[string]any{"error": "select transaction carries no candidates"}
	}
	buffer := tx.Buffer()

	handle := s.registry.Snapshot()
	if handle == nil {
		s.observe(observer.ScoreEvent{
			Kind:       "select",
			Index:      0,
			Candidates: len(msgs),
			Latency:    time.Since(started),
		})
		return map[string]any{"index": 0}
	}

	feats := make([][]float64, 0, len(msgs))
	for _, msg := range msgs {
		root, err := plan.Decode(msg.Plan)
		if err != nil {
			return map[string]any{"error": err.Error()}
		}
		feats = append(feats, s.feat.Featurize(plan.Candidate{Root: root, Buffer: buffer}))
	}
	preds, err := handle.Scorer.Predict(feats)
	if err != nil {
		util.Warnf("select: predict failed version=%s err=%v", handle.Version, err)
		return map[string]any{"index": 0}
	}

	best, bestScore := 0, math.Inf(1)
	for i, p := range preds {
		if !isFinite(p) {
			continue
		}
		if p < bestScore {
			best, bestScore = i, p
		}
	}
	ev := observer.ScoreEvent{
		Kind:         "select",
		Index:        best,
		Candidates:   len(msgs),
		Latency:      time.Since(started),
		ModelVersion: handle.Version,
	}
	if isFinite(bestScore) {
		ev.Score = bestScore
		if emb, ok := handle.Scorer.(model.Embedder); ok {
			ev.Embedding = emb.Embedding(feats[best])
		}
	}
	s.observe(ev)
	return map[string]any{"index": best}
}

// handlePredict scores a single candidate. Without a model the cost is null:
// the client treats it as "no opinion".
func (s *Server) handlePredict(tx *protocol.Transaction) any {
	started := time.Now()
	msgs := tx.Candidates()
	if len(msgs) == 0 {
		return map[string]any{"error": "predict transaction carries no plan"}
	}
	handle := s.registry.Snapshot()
	if handle == nil {
		return map[string]any{"cost": nil}
	}
	root, err := plan.Decode(msgs[0].Plan)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	features := s.feat.Featurize(plan.Candidate{Root: root, Buffer: tx.Buffer()})
	preds, err := handle.Scorer.Predict([][]float64{features})
	if err != nil || len(preds) != 1 || !isFinite(preds[0]) {
		return map[string]any{"cost": nil}
	}
	s.observe(observer.ScoreEvent{
		Kind:         "predict",
		Score:        preds[0],
		Candidates:   1,
		Latency:      time.Since(started),
		ModelVersion: handle.Version,
	})
	return map[string]any{"cost": preds[0]}
}

// handleReward appends one observed (plan, reward) pair to the experience
// log. The append is best effort: a full disk must not break the client's
// query completion path.
func (s *Server) handleReward(tx *protocol.Transaction) any {
	first := tx.First()
	if first.Reward == nil {
		return map[string]any{"error": "reward transaction carries no reward"}
	}
	if len(first.Plan) == 0 {
		return map[string]any{"error": "reward transaction carries no plan"}
	}
	rec := experience.Record{
		Plan:      first.Plan,
		Reward:    *first.Reward,
		QueryID:   first.QueryID,
		SQLDigest: first.SQL,
		Timestamp: time.Now(),
	}
	if err := s.exp.Append(rec); err != nil {
		util.Warnf("experience append failed: %v", err)
	}
	return map[string]any{"status": "ok"}
}

func (s *Server) handleLoad(tx *protocol.Transaction) any {
	path := tx.First().Path
	if path == "" {
		path = s.cfg.ModelPath
	}
	if path == "" {
		return map[string]any{"status": "rejected", "reason": "no model path"}
	}
	res, err := s.registry.Load(path)
	if err != nil {
		return map[string]any{"status": "rejected", "reason": err.Error()}
	}
	status := "ok"
	if !res.Accepted {
		status = "rejected"
	}
	return map[string]any{"status": status, "version": res.Version, "reason": res.Reason}
}

func (s *Server) handleReset() any {
	s.registry.Reset()
	return map[string]any{"status": "ok"}
}

func (s *Server) handleInit(tx *protocol.Transaction) any {
	first := tx.First()
	if first.QueryID == "" {
		return map[string]any{"error": "init transaction carries no query id"}
	}
	if err := s.search.Init(first.QueryID, first.Tables, first.Rows); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"status": "ok"}
}

func (s *Server) handleGuided(tx *protocol.Transaction) any {
	started := time.Now()
	first := tx.First()
	root, err := plan.Decode(first.Plan)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	handle := s.registry.Snapshot()
	res, err := s.search.Step(first.QueryID, root, func(p *plan.Node) float64 {
		return s.scorePlan(handle, p, tx.Buffer())
	})
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	s.observe(observer.ScoreEvent{
		QueryID: first.QueryID,
		Kind:    "guided",
		Score:   res.Score,
		Latency: time.Since(started),
	})
	return map[string]any{"score": res.Score, "finish": res.Finish, "plan": res.Plan}
}

func (s *Server) handleRemove(tx *protocol.Transaction) any {
	first := tx.First()
	if err := s.search.Remove(first.QueryID); err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"status": "ok"}
}

// scorePlan prices one plan with the active model, falling back to the
// planner's own cardinality sum when no model is loaded or the prediction is
// unusable.
func (s *Server) scorePlan(handle *model.Handle, root *plan.Node, buffer map[string]float64) float64 {
	if handle != nil {
		features := s.feat.Featurize(plan.Candidate{Root: root, Buffer: buffer})
		preds, err := handle.Scorer.Predict([][]float64{features})
		if err == nil && len(preds) == 1 && isFinite(preds[0]) {
			return preds[0]
		}
	}
	return treeCost(root)
}

func treeCost(n *plan.Node) float64 {
	if n == nil {
		return 0
	}
	total := n.EstRows
	for _, c := range n.Children {
		total += treeCost(c)
	}
	return total
}

func (s *Server) observe(ev observer.ScoreEvent) {
	ev.Timestamp = time.Now()
	s.sink.Observe(ev)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
