// Package trace holds the execution-tree model: every program run is an
// execution, every LM call inside it is a node, and nodes link to their
// parents to form the recursion tree.
package trace

import "time"

// Status tracks an execution or node through its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"

	// StatusTimeout applies to nodes cut off by the execution deadline.
	StatusTimeout Status = "timeout"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

// NodeType distinguishes the root program node from recursive children.
type NodeType string

const (
	NodeRoot  NodeType = "root"
	NodeChild NodeType = "child"
)

// Execution is one top-level query run.
type Execution struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
	Context   string `json:"context,omitempty"`
	Model     string `json:"model"`
	Status    Status `json:"status"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	MaxDepthReached   int     `json:"max_depth_reached"`
	TotalNodes        int     `json:"total_nodes"`
	TotalInputTokens  int64   `json:"total_input_tokens"`
	TotalOutputTokens int64   `json:"total_output_tokens"`
	TotalCostUSD      float64 `json:"total_cost_usd"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Node is a single LM call in the tree. The root node carries the generated
// program; child nodes are llm_query calls.
type Node struct {
	ID           string   `json:"id"`
	ExecutionID  string   `json:"execution_id"`
	ParentNodeID string   `json:"parent_node_id,omitempty"`
	NodeType     NodeType `json:"node_type"`
	Depth        int      `json:"depth"`
	// SequenceNumber orders siblings under one parent.
	SequenceNumber int `json:"sequence_number"`

	Prompt string `json:"prompt"`
	Code   string `json:"code,omitempty"`
	Output string `json:"output,omitempty"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`

	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	DurationMS   int64   `json:"duration_ms"`

	MemoryBefore map[string]any `json:"memory_before,omitempty"`
	MemoryAfter  map[string]any `json:"memory_after,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
