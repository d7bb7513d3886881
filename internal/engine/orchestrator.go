// Package engine runs executions: it asks the root LM for a program, runs
// the program in the sandbox, and services the program's llm_query calls
// with recursive child LM invocations.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rand/rlm-engine/internal/config"
	"github.com/rand/rlm-engine/internal/llm"
	"github.com/rand/rlm-engine/internal/msl"
	"github.com/rand/rlm-engine/internal/trace"
)

// ExecutionStore persists executions and nodes. Writes happen on creation
// and on terminal transitions; failures are logged, not fatal.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *trace.Execution) error
	UpdateExecution(ctx context.Context, e *trace.Execution) error
	SaveNode(ctx context.Context, n *trace.Node) error
}

// SessionStore provides session memory around an execution.
type SessionStore interface {
	Memory(ctx context.Context, sessionID string) (map[string]any, error)
	MergeMemory(ctx context.Context, sessionID string, memory map[string]any) error
}

// Request is one execution request.
type Request struct {
	Query     string
	Context   string
	SessionID string
	// Model overrides the configured default when set.
	Model string
}

// Orchestrator coordinates executions end to end.
type Orchestrator struct {
	cfg      *config.Config
	client   llm.Client
	bus      *trace.Bus
	store    ExecutionStore
	sessions SessionStore
	log      *slog.Logger
}

// New wires an orchestrator. store and sessions may be nil for ephemeral
// runs; bus may be nil when nobody streams.
func New(cfg *config.Config, client llm.Client, bus *trace.Bus, store ExecutionStore, sessions SessionStore, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if bus == nil {
		bus = trace.NewBus()
	}
	return &Orchestrator{cfg: cfg, client: client, bus: bus, store: store, sessions: sessions, log: log}
}

// Bus exposes the event bus for stream subscribers.
func (o *Orchestrator) Bus() *trace.Bus { return o.bus }

// NewExecutionID allocates an execution ID up front so callers can
// subscribe to its event stream before Run starts publishing.
func (o *Orchestrator) NewExecutionID() string { return uuid.NewString() }

// Run executes a request to completion and returns the final execution
// record with its node list. The returned error is non-nil only for
// rejections before the execution starts (for example an oversized
// context); failures during the run are reported in the execution record.
func (o *Orchestrator) Run(ctx context.Context, executionID string, req Request) (*trace.Execution, []*trace.Node, error) {
	if len(req.Context) > o.cfg.MaxContextSize {
		return nil, nil, Errf(KindContextTooLarge, "context is %d characters, limit is %d", len(req.Context), o.cfg.MaxContextSize)
	}
	model := req.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}
	if executionID == "" {
		executionID = uuid.NewString()
	}

	memory := map[string]any{}
	if req.SessionID != "" && o.sessions != nil {
		m, err := o.sessions.Memory(ctx, req.SessionID)
		if err != nil {
			return nil, nil, Errf(KindProvider, "load session %s: %v", req.SessionID, err)
		}
		memory = m
	}

	exec := &trace.Execution{
		ID:        executionID,
		SessionID: req.SessionID,
		Query:     req.Query,
		Context:   req.Context,
		Model:     model,
		Status:    trace.StatusPending,
	}
	rec := trace.NewRecorder(exec)
	o.persistExecution(ctx, exec, true)

	o.bus.Publish(executionID, trace.Event{
		Type:        trace.EventExecutionStarted,
		Query:       trace.PromptPreview(req.Query),
		ContextSize: len(req.Context),
		Model:       model,
	})
	o.log.Info("execution started",
		"execution_id", executionID,
		"session_id", req.SessionID,
		"model", model,
		"context_chars", len(req.Context))

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ExecutionTimeout)
	defer cancel()

	memDict := msl.FromJSONMap(memory)
	result, runErr := o.runRoot(runCtx, rec, req.Query, req.Context, model, memDict)

	if runErr == nil {
		rec.FinishExecution(trace.StatusCompleted, result, "", "")
		o.mergeMemory(ctx, req.SessionID, msl.ToJSONMap(memDict))
		snap, _ := rec.Snapshot()
		o.bus.Publish(executionID, trace.Event{
			Type:         trace.EventExecutionCompleted,
			Result:       trace.BodyPreview(result),
			InputTokens:  snap.TotalInputTokens,
			OutputTokens: snap.TotalOutputTokens,
			CostUSD:      snap.TotalCostUSD,
		})
		o.log.Info("execution completed",
			"execution_id", executionID,
			"nodes", snap.TotalNodes,
			"input_tokens", snap.TotalInputTokens,
			"output_tokens", snap.TotalOutputTokens,
			"cost_usd", snap.TotalCostUSD)
	} else {
		cls := classify(runErr)
		status := trace.StatusFailed
		if ctx.Err() != nil && cls.Kind == KindDeadlineExceeded {
			status = trace.StatusCancelled
		}
		rec.FinishExecution(status, "", cls.Error(), string(cls.Kind))
		o.bus.Publish(executionID, trace.Event{
			Type:      trace.EventExecutionFailed,
			Error:     cls.Error(),
			ErrorKind: string(cls.Kind),
		})
		o.log.Warn("execution failed",
			"execution_id", executionID,
			"kind", cls.Kind,
			"error", cls.Msg)
	}

	execSnap, nodes := rec.Snapshot()
	o.persistExecution(ctx, execSnap, false)
	o.bus.Close(executionID)
	return execSnap, nodes, nil
}

// persistExecution writes through to storage without a run deadline so a
// timed-out execution still records its terminal state.
func (o *Orchestrator) persistExecution(ctx context.Context, e *trace.Execution, create bool) {
	if o.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	write := o.store.UpdateExecution
	if create {
		write = o.store.CreateExecution
	}
	if err := write(wctx, e); err != nil {
		o.log.Warn("persist execution", "execution_id", e.ID, "error", err)
	}
}

func (o *Orchestrator) persistNode(ctx context.Context, n *trace.Node) {
	if o.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.store.SaveNode(wctx, n); err != nil {
		o.log.Warn("persist node", "node_id", n.ID, "error", err)
	}
}

func (o *Orchestrator) mergeMemory(ctx context.Context, sessionID string, memory map[string]any) {
	if sessionID == "" || o.sessions == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.sessions.MergeMemory(wctx, sessionID, memory); err != nil {
		o.log.Warn("merge session memory", "session_id", sessionID, "error", err)
	}
}
