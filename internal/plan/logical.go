// Package plan builds the logical plans the reorganization paths run:
// single-chunk scans, compaction plans, and split plans. Plans are data; the
// exec package interprets them.
package plan

import (
	"fmt"
	"strings"

	"github.com/tephradb/tephra/internal/chunk"
	"github.com/tephradb/tephra/internal/schema"
)

// Node is one operator in a logical plan tree.
type Node interface {
	// OutputSchema returns the schema of the rows the node produces.
	OutputSchema() *schema.Schema

	// Children returns the node's inputs.
	Children() []Node

	// String renders the operator for logging.
	String() string
}

// ScanNode reads a provider's chunks and unifies them onto one schema.
// When Deduplicate is set the scan is also responsible for applying delete
// predicates and resolving duplicate primary keys, yielding rows in primary
// key order.
type ScanNode struct {
	// Provider supplies the chunks and their unified schema
	Provider *Provider

	// Schema is the scan's output schema
	Schema *schema.Schema

	// Predicate optionally restricts the scan
	Predicate *chunk.Predicate

	// Selection optionally restricts the output columns
	Selection chunk.Selection

	// Deduplicate applies deletes, sorts on the primary key, and collapses
	// duplicate keys
	Deduplicate bool
}

func (n *ScanNode) OutputSchema() *schema.Schema { return n.Schema }
func (n *ScanNode) Children() []Node             { return nil }

func (n *ScanNode) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scan(table=%s, chunks=%d", n.Provider.TableName(), len(n.Provider.Chunks()))
	if n.Deduplicate {
		b.WriteString(", dedup")
	}
	b.WriteString(")")
	return b.String()
}

// FilterNode keeps rows satisfying every expression.
type FilterNode struct {
	Input Node
	Exprs []chunk.Expr
}

func (n *FilterNode) OutputSchema() *schema.Schema { return n.Input.OutputSchema() }
func (n *FilterNode) Children() []Node             { return []Node{n.Input} }
func (n *FilterNode) String() string {
	return fmt.Sprintf("Filter(%d exprs)", len(n.Exprs))
}

// ProjectNode restricts output to the named columns, in order.
type ProjectNode struct {
	Input   Node
	Columns []string

	// Schema is the projected output schema
	Schema *schema.Schema
}

func (n *ProjectNode) OutputSchema() *schema.Schema { return n.Schema }
func (n *ProjectNode) Children() []Node             { return []Node{n.Input} }
func (n *ProjectNode) String() string {
	return fmt.Sprintf("Project(%s)", strings.Join(n.Columns, ","))
}

// SortNode orders rows by the key.
type SortNode struct {
	Input Node
	Key   schema.SortKey
}

func (n *SortNode) OutputSchema() *schema.Schema { return n.Input.OutputSchema() }
func (n *SortNode) Children() []Node             { return []Node{n.Input} }
func (n *SortNode) String() string {
	return fmt.Sprintf("Sort(%s)", n.Key)
}

// SplitNode partitions its input stream into two output streams on the time
// column: rows with time <= SplitTime go to the first partition, the rest to
// the second. Row order within each partition is the input order.
type SplitNode struct {
	Input     Node
	SplitTime int64
}

func (n *SplitNode) OutputSchema() *schema.Schema { return n.Input.OutputSchema() }
func (n *SplitNode) Children() []Node             { return []Node{n.Input} }
func (n *SplitNode) String() string {
	return fmt.Sprintf("Split(time<=%d)", n.SplitTime)
}

// Format renders a plan tree one operator per line for logging.
func Format(root Node) string {
	var b strings.Builder
	formatNode(&b, root, 0)
	return b.String()
}

func formatNode(b *strings.Builder, n Node, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.String())
	b.WriteString("\n")
	for _, child := range n.Children() {
		formatNode(b, child, depth+1)
	}
}
