package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	s := testServer(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Errorf("server did not stop")
		}
	})
	return s, lis.Addr().String()
}

// roundTrip opens a fresh connection, writes the records, and decodes the
// single JSON reply, mirroring the one-transaction-per-connection contract.
func roundTrip(t *testing.T, addr string, records ...string) map[string]any {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	for _, rec := range records {
		if _, err := conn.Write([]byte(rec + "\n")); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	var reply map[string]any
	if err := json.Unmarshal(line, &reply); err != nil {
		t.Fatalf("decode reply %q: %v", line, err)
	}
	return reply
}

func TestServeSelectOverWire(t *testing.T) {
	_, addr := startServer(t)
	reply := roundTrip(t, addr,
		`{"type":"select","plan":{"op":"table_scan","table":"t","est_rows":100}}`,
		`{"plan":{"op":"table_scan","table":"t","est_rows":10},"final":true}`,
	)
	// No model loaded: the optimizer's first candidate wins.
	if reply["index"] != float64(0) {
		t.Fatalf("unexpected index: %v", reply)
	}
}

func TestServeGuidedOverWire(t *testing.T) {
	_, addr := startServer(t)
	reply := roundTrip(t, addr,
		`{"type":"init","query_id":"q1","tables":["a","b"],"rows":[100,10000],"final":true}`,
	)
	if reply["status"] != "ok" {
		t.Fatalf("unexpected init reply: %v", reply)
	}
	reply = roundTrip(t, addr,
		`{"type":"guided","query_id":"q1","plan":{"op":"hash_join","children":[{"op":"table_scan","table":"a","est_rows":100},{"op":"table_scan","table":"b","est_rows":10000}]},"final":true}`,
	)
	if reply["finish"] != false {
		t.Fatalf("unexpected guided reply: %v", reply)
	}
	rewritten, ok := reply["plan"].(map[string]any)
	if !ok {
		t.Fatalf("reply carries no plan: %v", reply)
	}
	children, ok := rewritten["children"].([]any)
	if !ok || len(children) != 2 {
		t.Fatalf("unexpected rewritten plan: %v", rewritten)
	}
	if rows := children[0].(map[string]any)["est_rows"]; rows != float64(1) {
		t.Fatalf("unexpected rewritten rows: %v", rows)
	}
	reply = roundTrip(t, addr, `{"type":"remove","query_id":"q1","final":true}`)
	if reply["status"] != "ok" {
		t.Fatalf("unexpected remove reply: %v", reply)
	}
}

func TestServeRewardOverWire(t *testing.T) {
	s, addr := startServer(t)
	reply := roundTrip(t, addr,
		`{"type":"reward","plan":{"op":"table_scan","table":"t","est_rows":5},"reward":0.75,"query_id":"q7","final":true}`,
	)
	if reply["status"] != "ok" {
		t.Fatalf("unexpected reward reply: %v", reply)
	}
	recs, err := s.exp.ReadAll()
	if err != nil {
		t.Fatalf("read experience: %v", err)
	}
	if len(recs) != 1 || recs[0].Reward != 0.75 {
		t.Fatalf("unexpected experience contents: %+v", recs)
	}
}

func TestServeMalformedRecordClosesWithoutReply(t *testing.T) {
	_, addr := startServer(t)
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write record: %v", err)
	}
	// Protocol errors are connection-fatal: the peer sees a close, no reply.
	if line, err := bufio.NewReader(conn).ReadBytes('\n'); err == nil {
		t.Fatalf("unexpected reply to malformed record: %q", line)
	}
	reply := roundTrip(t, addr, `{"type":"reset","final":true}`)
	if reply["status"] != "ok" {
		t.Fatalf("server unhealthy after malformed record: %v", reply)
	}
}

func TestServeAbandonedConnection(t *testing.T) {
	_, addr := startServer(t)
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	// Close before the terminal record: the server must drop the
	// transaction silently and stay healthy.
	if _, err := conn.Write([]byte(`{"type":"select","plan":{"op":"scan"}}` + "\n")); err != nil {
		t.Fatalf("write record: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reply := roundTrip(t, addr, `{"type":"reset","final":true}`)
	if reply["status"] != "ok" {
		t.Fatalf("server unhealthy after abandoned transaction: %v", reply)
	}
}
