// Package observer collects scoring telemetry off the reply path. Sinks are
// best effort: a full disk or a slow scrape must never fail a client reply.
package observer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"kuroko/internal/util"
)

// ScoreEvent describes one scoring decision.
type ScoreEvent struct {
	QueryID      string        `json:"query_id,omitempty"`
	Kind         string        `json:"kind"`
	Score        float64       `json:"score"`
	Index        int           `json:"index"`
	Candidates   int           `json:"candidates"`
	Latency      time.Duration `json:"latency_ns"`
	ModelVersion string        `json:"model_version,omitempty"`
	Embedding    []float64     `json:"embedding,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Sink receives scoring events.
type Sink interface {
	Observe(ev ScoreEvent)
}

// NopSink discards every event.
type NopSink struct{}

// Observe implements Sink.
func (NopSink) Observe(ScoreEvent) {}

type multiSink []Sink

func (m multiSink) Observe(ev ScoreEvent) {
	for _, s := range m {
		s.Observe(ev)
	}
}

// Multi fans one event out to every sink in order.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

// FileSink appends events as JSON lines to a performance log.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the performance log at path.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

// Observe writes the event as one JSON line. Failures are logged and dropped.
func (s *FileSink) Observe(ev ScoreEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		util.Warnf("perf log: encode event: %v", err)
		return
	}
	data = append(data, '\n')
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(data); err != nil {
		util.Warnf("perf log: write event: %v", err)
	}
}

// Close closes the underlying log file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
