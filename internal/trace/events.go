package trace

import "time"

// EventType names the streaming events emitted while an execution runs.
type EventType string

const (
	EventExecutionStarted   EventType = "execution_started"
	EventNodeStarted        EventType = "node_started"
	EventNodeCode           EventType = "node_code"
	EventNodeOutput         EventType = "node_output"
	EventNodeFailed         EventType = "node_failed"
	EventExecutionCompleted EventType = "execution_completed"
	EventExecutionFailed    EventType = "execution_failed"
)

const (
	promptPreviewLimit = 200
	bodyPreviewLimit   = 500
)

// Event is one entry on an execution's live stream.
type Event struct {
	Type         EventType `json:"type"`
	ExecutionID  string    `json:"execution_id"`
	NodeID       string    `json:"node_id,omitempty"`
	ParentNodeID string    `json:"parent_node_id,omitempty"`
	NodeType     NodeType  `json:"node_type,omitempty"`
	Depth        int       `json:"depth,omitempty"`
	Sequence     int       `json:"sequence,omitempty"`

	// Query, ContextSize, and Model describe the execution on
	// execution_started.
	Query       string `json:"query,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`
	Model       string `json:"model,omitempty"`

	// Preview carries a truncated prompt, program, or output.
	Preview   string `json:"preview,omitempty"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`

	InputTokens  int64   `json:"input_tokens,omitempty"`
	OutputTokens int64   `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// PromptPreview truncates a prompt for event payloads.
func PromptPreview(s string) string { return truncate(s, promptPreviewLimit) }

// BodyPreview truncates generated code or output for event payloads.
func BodyPreview(s string) string { return truncate(s, bodyPreviewLimit) }

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
