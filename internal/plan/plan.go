// Package plan models candidate execution plans exchanged with the database.
package plan

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// Node is one operator in a plan tree. EstRows carries the planner's
// cardinality estimate; for scan operators Table names the scanned table
// instance.
type Node struct {
	Op       string  `json:"op"`
	Table    string  `json:"table,omitempty"`
	EstRows  float64 `json:"est_rows,omitempty"`
	EstCost  float64 `json:"est_cost,omitempty"`
	Children []*Node `json:"children,omitempty"`
}

// Candidate is one plan submitted for scoring together with the shared
// buffer state of its transaction. Candidates are immutable once received.
type Candidate struct {
	Root   *Node
	Buffer map[string]float64
}

// Decode parses a JSON plan tree.
func Decode(raw json.RawMessage) (*Node, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty plan")
	}
	var root Node
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, err
	}
	if root.Op == "" {
		return nil, fmt.Errorf("plan root has no operator")
	}
	return &root, nil
}

// Clone returns a deep copy of the tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	return &out
}

// Signature returns the canonical shape signature of the tree: a recursive
// checksum over operator type and child order. Row and cost estimates do not
// participate, so two plans with the same shape but different estimates share
// a signature.
func Signature(root *Node) string {
	if root == nil {
		return ""
	}
	var b strings.Builder
	writeShape(&b, root)
	sum := crc32.ChecksumIEEE([]byte(b.String()))
	return strconv.FormatUint(uint64(sum), 16)
}

func writeShape(b *strings.Builder, n *Node) {
	b.WriteString(n.Op)
	if n.Table != "" {
		b.WriteByte('[')
		b.WriteString(n.Table)
		b.WriteByte(']')
	}
	if len(n.Children) == 0 {
		return
	}
	b.WriteByte('(')
	for i, child := range n.Children {
		if i > 0 {
			b.WriteByte(',')
		}
		writeShape(b, child)
	}
	b.WriteByte(')')
}

// RewriteCardinalities returns a copy of the tree with the row estimate of
// every node scanning one of the given table instances replaced by the
// table's base row count scaled by factor. Nodes for unknown tables keep
// their original estimate.
func RewriteCardinalities(root *Node, rows map[string]float64, factor float64) *Node {
	out := root.Clone()
	rewriteCardinalities(out, rows, factor)
	return out
}

func rewriteCardinalities(n *Node, rows map[string]float64, factor float64) {
	if n == nil {
		return
	}
	if n.Table != "" {
		if base, ok := rows[n.Table]; ok {
			n.EstRows = base * factor
		}
	}
	for _, child := range n.Children {
		rewriteCardinalities(child, rows, factor)
	}
}
