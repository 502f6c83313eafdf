// Package protocol frames delimiter-separated JSON records into logical
// transactions. A transaction is an ordered sequence of records ending with
// one flagged final; nothing is acted on until that flag is seen.
package protocol

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Kind identifies what a transaction asks the service to do.
type Kind string

// Transaction kinds.
const (
	KindSelect  Kind = "select"
	KindPredict Kind = "predict"
	KindReward  Kind = "reward"
	KindLoad    Kind = "load"
	KindReset   Kind = "reset"
	KindInit    Kind = "init"
	KindGuided  Kind = "guided"
	KindRemove  Kind = "remove"
)

// kindAliases maps accepted wire names onto canonical kinds. Long-form names
// match the message vocabulary of older clients.
var kindAliases = map[string]Kind{
	"select":              KindSelect,
	"predict":             KindPredict,
	"reward":              KindReward,
	"record_reward":       KindReward,
	"load":                KindLoad,
	"load_model":          KindLoad,
	"reset":               KindReset,
	"init":                KindInit,
	"guided":              KindGuided,
	"guided_optimization": KindGuided,
	"remove":              KindRemove,
	"remove_state":        KindRemove,
}

// Message is one decoded wire record. Fields are populated according to the
// transaction kind; unset fields stay zero.
type Message struct {
	Type    string             `json:"type,omitempty"`
	Final   bool               `json:"final,omitempty"`
	Plan    json.RawMessage    `json:"plan,omitempty"`
	Buffer  map[string]float64 `json:"buffer,omitempty"`
	Reward  *float64           `json:"reward,omitempty"`
	Path    string             `json:"path,omitempty"`
	QueryID string             `json:"query_id,omitempty"`
	Tables  []string           `json:"tables,omitempty"`
	Rows    []float64          `json:"rows,omitempty"`
	SQL     string             `json:"sql,omitempty"`
}

// Transaction is a complete ordered record sequence of one kind.
type Transaction struct {
	Kind     Kind
	Messages []Message
}

// Candidates returns the messages carrying a plan, in arrival order.
func (t *Transaction) Candidates() []Message {
	out := make([]Message, 0, len(t.Messages))
	for _, msg := range t.Messages {
		if len(msg.Plan) > 0 {
			out = append(out, msg)
		}
	}
	return out
}

// Buffer returns the shared buffer state: the last one present wins, which by
// convention is carried on the final record.
func (t *Transaction) Buffer() map[string]float64 {
	var buf map[string]float64
	for _, msg := range t.Messages {
		if msg.Buffer != nil {
			buf = msg.Buffer
		}
	}
	return buf
}

// First returns the opening record of the transaction.
func (t *Transaction) First() Message {
	return t.Messages[0]
}

// ErrAbandoned marks a connection closed by the peer before the terminal
// record; the half-built transaction is dropped without side effects.
var ErrAbandoned = errors.New("transaction abandoned before terminal record")

// Framer reassembles transactions from a byte stream.
type Framer struct {
	delimiter   []byte
	maxMessages int
}

// NewFramer creates a framer for the given delimiter sentinel and per
// transaction message ceiling.
func NewFramer(delimiter string, maxMessages int) *Framer {
	if delimiter == "" {
		delimiter = "\n"
	}
	if maxMessages <= 0 {
		maxMessages = 64
	}
	return &Framer{delimiter: []byte(delimiter), maxMessages: maxMessages}
}

// maxRecordBytes bounds a single encoded record.
const maxRecordBytes = 16 << 20

// ReadTransaction consumes records until one flagged final and returns the
// assembled transaction. A peer close before the terminal record yields
// ErrAbandoned; an undecodable record yields a decode error. The reader is
// not consumed past the terminal record's delimiter.
func (f *Framer) ReadTransaction(r io.Reader) (*Transaction, error) {
	var (
		buf      []byte
		chunk    = make([]byte, 4096)
		messages []Message
		kind     Kind
	)
	for {
		// Drain complete records already buffered.
		for {
			idx := bytes.Index(buf, f.delimiter)
			if idx < 0 {
				break
			}
			record := buf[:idx]
			buf = buf[idx+len(f.delimiter):]
			if len(record) == 0 {
				continue
			}
			var msg Message
			if err := json.Unmarshal(record, &msg); err != nil {
				return nil, errors.Wrap(err, "decode record")
			}
			if len(messages) == 0 {
				resolved, ok := kindAliases[msg.Type]
				if !ok {
					return nil, errors.Errorf("unknown transaction kind %q", msg.Type)
				}
				kind = resolved
			}
			messages = append(messages, msg)
			if len(messages) > f.maxMessages {
				return nil, errors.Errorf("transaction exceeds %d messages", f.maxMessages)
			}
			if msg.Final {
				return &Transaction{Kind: kind, Messages: messages}, nil
			}
		}
		if len(buf) > maxRecordBytes {
			return nil, errors.Errorf("record exceeds %d bytes", maxRecordBytes)
		}
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			continue
		}
		if err == io.EOF {
			return nil, ErrAbandoned
		}
		if err != nil {
			return nil, err
		}
	}
}
