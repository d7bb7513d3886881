package trace

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder accumulates one execution's nodes and totals while it runs.
// llm_query callbacks may fire from the program's goroutine at any time, so
// all mutation goes through the mutex.
type Recorder struct {
	mu        sync.Mutex
	execution *Execution
	nodes     []*Node
	// nextSeq allocates sibling order per parent node ID.
	nextSeq map[string]int
}

// NewRecorder starts recording an execution. The execution is marked
// running.
func NewRecorder(exec *Execution) *Recorder {
	exec.Status = StatusRunning
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	return &Recorder{execution: exec, nextSeq: make(map[string]int)}
}

// ExecutionID returns the recorded execution's ID.
func (r *Recorder) ExecutionID() string {
	return r.execution.ID
}

// StartNode opens a new node under parentID (empty for the root) and
// assigns it the next sibling sequence number.
func (r *Recorder) StartNode(parentID string, nodeType NodeType, depth int, prompt, model string) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := r.nextSeq[parentID]
	r.nextSeq[parentID] = seq + 1

	n := &Node{
		ID:             uuid.NewString(),
		ExecutionID:    r.execution.ID,
		ParentNodeID:   parentID,
		NodeType:       nodeType,
		Depth:          depth,
		SequenceNumber: seq,
		Prompt:         prompt,
		Model:          model,
		Status:         StatusRunning,
		StartedAt:      time.Now().UTC(),
	}
	r.nodes = append(r.nodes, n)
	r.execution.TotalNodes++
	if depth > r.execution.MaxDepthReached {
		r.execution.MaxDepthReached = depth
	}
	return n
}

// FinishNode closes a node with its final status and folds its usage into
// the execution totals.
func (r *Recorder) FinishNode(n *Node, status Status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	n.Status = status
	n.Error = errMsg
	n.CompletedAt = &now
	n.DurationMS = now.Sub(n.StartedAt).Milliseconds()

	r.execution.TotalInputTokens += n.InputTokens
	r.execution.TotalOutputTokens += n.OutputTokens
	r.execution.TotalCostUSD += n.CostUSD
}

// FinishExecution closes the execution itself.
func (r *Recorder) FinishExecution(status Status, result, errMsg, errKind string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	r.execution.Status = status
	r.execution.Result = result
	r.execution.Error = errMsg
	r.execution.ErrorKind = errKind
	r.execution.CompletedAt = &now
}

// Snapshot copies the current execution and node list for persistence or
// API responses.
func (r *Recorder) Snapshot() (*Execution, []*Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exec := *r.execution
	nodes := make([]*Node, len(r.nodes))
	for i, n := range r.nodes {
		cp := *n
		nodes[i] = &cp
	}
	return &exec, nodes
}
