// Package replay executes a recorded workload against a live database and
// feeds the observed latencies back into the experience log, either directly
// or through a running advisor.
package replay

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"os"
	"time"

	"kuroko/internal/experience"
	"kuroko/internal/protocol"
	"kuroko/internal/util"

	_ "github.com/go-sql-driver/mysql" // Register MySQL driver.
	"github.com/pingcap/tidb/pkg/parser"
	_ "github.com/pingcap/tidb/pkg/types/parser_driver" // Register TiDB parser driver.
	"github.com/pkg/errors"
)

// Options configures one replay run.
type Options struct {
	DSN            string
	WorkloadPath   string
	ServerAddr     string // when set, rewards go to a running advisor
	ExperiencePath string // otherwise they append here
	Repetitions    int
	Delimiter      string
}

// Entry is one workload item: the statement to run and the plan the database
// executed it with.
type Entry struct {
	SQL     string          `json:"sql"`
	QueryID string          `json:"query_id,omitempty"`
	Plan    json.RawMessage `json:"plan,omitempty"`
}

// Run replays the workload. Entries without a plan are skipped: a reward
// without the plan that earned it cannot train anything.
func Run(ctx context.Context, opts Options) error {
	if opts.Repetitions <= 0 {
		opts.Repetitions = 1
	}
	entries, err := readWorkload(opts.WorkloadPath)
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", opts.DSN)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer util.CloseWithErr(db, "database")
	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "ping database")
	}

	emit, closeEmit, err := newEmitter(opts)
	if err != nil {
		return err
	}
	defer closeEmit()

	p := parser.New()
	replayed, skipped := 0, 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if len(entry.Plan) == 0 {
			util.Warnf("skipping entry without plan: %.60q", entry.SQL)
			skipped++
			continue
		}
		if _, _, err := p.Parse(entry.SQL, "", ""); err != nil {
			util.Warnf("skipping unparsable entry: %v", err)
			skipped++
			continue
		}
		_, digest := parser.NormalizeDigest(entry.SQL)
		for i := 0; i < opts.Repetitions; i++ {
			elapsed, err := runQuery(ctx, db, entry.SQL)
			if err != nil {
				util.Warnf("query failed digest=%s err=%v", digest.String(), err)
				continue
			}
			rec := experience.Record{
				Plan:      entry.Plan,
				Reward:    elapsed.Seconds(),
				QueryID:   entry.QueryID,
				SQLDigest: digest.String(),
				Timestamp: time.Now(),
			}
			if err := emit(rec); err != nil {
				return err
			}
			replayed++
		}
	}
	util.Infof("replay done: %d rewards recorded, %d entries skipped", replayed, skipped)
	return nil
}

func runQuery(ctx context.Context, db *sql.DB, query string) (time.Duration, error) {
	started := time.Now()
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer util.CloseWithErr(rows, "rows")
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	return time.Since(started), nil
}

func readWorkload(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open workload")
	}
	defer util.CloseWithErr(f, "workload")
	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, errors.Wrap(err, "decode workload entry")
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read workload")
	}
	return entries, nil
}

// newEmitter picks where rewards go: the advisor's wire interface when a
// server address is configured, the experience log otherwise.
func newEmitter(opts Options) (func(experience.Record) error, func(), error) {
	if opts.ServerAddr != "" {
		delim := opts.Delimiter
		if delim == "" {
			delim = "\n"
		}
		emit := func(rec experience.Record) error {
			return sendReward(opts.ServerAddr, delim, rec)
		}
		return emit, func() {}, nil
	}
	store, err := experience.Open(opts.ExperiencePath)
	if err != nil {
		return nil, nil, err
	}
	return store.Append, func() {}, nil
}

// sendReward delivers one reward transaction over a fresh connection, the
// same one-transaction-per-connection contract the database side uses.
func sendReward(addr, delim string, rec experience.Record) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return errors.Wrap(err, "dial advisor")
	}
	defer util.CloseWithErr(conn, "advisor conn")
	reward := rec.Reward
	msg := protocol.Message{
		Type:    string(protocol.KindReward),
		Final:   true,
		Plan:    rec.Plan,
		Reward:  &reward,
		QueryID: rec.QueryID,
		SQL:     rec.SQLDigest,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, []byte(delim)...)
	if _, err := conn.Write(data); err != nil {
		return errors.Wrap(err, "send reward")
	}
	reply := make([]byte, 256)
	if _, err := conn.Read(reply); err != nil {
		return errors.Wrap(err, "read reward ack")
	}
	return nil
}
