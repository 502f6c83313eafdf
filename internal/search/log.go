package search

import (
	"encoding/json"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// Log durably records per-session discoveries for offline analysis. Entries
// are keyed session/<query id>/<seq> and never rewritten.
type Log struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenLog opens (or creates) the search log at dir.
func OpenLog(dir string) (*Log, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	seq, err := db.GetSequence([]byte("meta/seq"), 128)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Log{db: db, seq: seq}, nil
}

// Close releases the sequence and the underlying store.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	if err := l.seq.Release(); err != nil {
		_ = l.db.Close()
		return err
	}
	return l.db.Close()
}

// Flush writes the discoveries of one finished session in a single
// transaction.
func (l *Log) Flush(queryID string, discoveries []Discovery) error {
	return l.db.Update(func(txn *badger.Txn) error {
		for _, disc := range discoveries {
			n, err := l.seq.Next()
			if err != nil {
				return err
			}
			key := fmt.Sprintf("session/%s/%020d", queryID, n)
			value, err := json.Marshal(disc)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Each iterates every logged discovery in key order.
func (l *Log) Each(fn func(queryID string, disc Discovery) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("session/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			parts := strings.SplitN(strings.TrimPrefix(key, "session/"), "/", 2)
			if len(parts) != 2 {
				continue
			}
			var disc Discovery
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &disc)
			})
			if err != nil {
				return err
			}
			if err := fn(parts[0], disc); err != nil {
				return err
			}
		}
		return nil
	})
}
