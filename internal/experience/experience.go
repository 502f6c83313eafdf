// Package experience persists observed (plan, reward) pairs for offline
// retraining and for the regression gate's reference set.
package experience

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Record is one observed outcome for a previously served candidate plan.
type Record struct {
	Plan      json.RawMessage `json:"plan"`
	Reward    float64         `json:"reward"`
	QueryID   string          `json:"query_id,omitempty"`
	SQLDigest string          `json:"sql_digest,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// Source yields auxiliary records, e.g. an emphasis subset replayed into the
// main log for retraining retries.
type Source interface {
	Records() ([]Record, error)
}

// Store is an append-only log, one JSON record per line. Appends serialize on
// a single lock; the serving path never deletes or rewrites records.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open creates the store, ensuring the parent directory exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create experience dir")
		}
	}
	return &Store{path: path}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Append writes one record to the end of the log.
func (s *Store) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode experience record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open experience log")
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, "append experience record")
	}
	return nil
}

// ReadAll returns every record in append order. A missing file yields an
// empty slice, not an error.
func (s *Store) ReadAll() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open experience log")
	}
	defer f.Close()
	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn trailing line from a crash is skipped rather than
			// poisoning the whole read.
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan experience log")
	}
	return out, nil
}

// Tail returns up to n most recent records in append order.
func (s *Store) Tail(n int) ([]Record, error) {
	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// ExtendWith appends every record produced by the auxiliary source.
func (s *Store) ExtendWith(src Source) error {
	recs, err := src.Records()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.Append(rec); err != nil {
			return err
		}
	}
	return nil
}
