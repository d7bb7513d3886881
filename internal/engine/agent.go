package engine

import (
	"context"
	"errors"

	"github.com/rand/rlm-engine/internal/llm"
	"github.com/rand/rlm-engine/internal/msl"
	"github.com/rand/rlm-engine/internal/pricing"
	"github.com/rand/rlm-engine/internal/trace"
)

// runRoot drives the root node: generate a program, execute it in the
// sandbox, service its llm_query calls with child nodes.
func (o *Orchestrator) runRoot(ctx context.Context, rec *trace.Recorder, query, contextBlob, model string, memory *msl.Dict) (string, error) {
	userMsg := buildRootUserMessage(query, contextBlob, o.cfg.DefaultChunkSize, msl.ToJSONMap(memory))

	node := rec.StartNode("", trace.NodeRoot, 0, userMsg, model)
	node.MemoryBefore = msl.ToJSONMap(memory)
	// Persisted while still running so child rows can reference it; the
	// terminal upsert fills in the outcome.
	o.persistNode(ctx, node)
	o.bus.Publish(rec.ExecutionID(), trace.Event{
		Type:     trace.EventNodeStarted,
		NodeID:   node.ID,
		NodeType: trace.NodeRoot,
		Depth:    0,
		Preview:  trace.PromptPreview(userMsg),
	})

	resp, err := o.callLLM(ctx, node, rootSystemPrompt, userMsg)
	if err != nil {
		return "", o.failNode(ctx, rec, node, err)
	}

	code := ExtractCode(resp.Content)
	node.Code = code
	o.bus.Publish(rec.ExecutionID(), trace.Event{
		Type:    trace.EventNodeCode,
		NodeID:  node.ID,
		Preview: trace.BodyPreview(code),
	})
	o.log.Debug("program extracted", "execution_id", rec.ExecutionID(), "node_id", node.ID, "code_chars", len(code))

	// The program runs under min(remaining execution deadline, per-node
	// cap), children included.
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMCallTimeout)
	defer cancel()

	opts := msl.Options{
		Context: contextBlob,
		Memory:  memory,
		Query: func(prompt string) (string, error) {
			return o.childQuery(runCtx, rec, node, model, prompt, memory)
		},
	}

	// The program runs on its own goroutine; the deadline wins the select
	// and the interpreter dies on its next context check.
	type outcome struct {
		result string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := msl.Run(runCtx, code, opts)
		done <- outcome{result: result, err: err}
	}()

	var result string
	select {
	case out := <-done:
		if out.err != nil {
			return "", o.failNode(ctx, rec, node, out.err)
		}
		result = out.result
	case <-runCtx.Done():
		return "", o.failNode(ctx, rec, node, runCtx.Err())
	}

	node.Output = result
	node.MemoryAfter = msl.ToJSONMap(memory)
	rec.FinishNode(node, trace.StatusCompleted, node.Error)
	o.persistNode(ctx, node)
	o.bus.Publish(rec.ExecutionID(), trace.Event{
		Type:         trace.EventNodeOutput,
		NodeID:       node.ID,
		Preview:      trace.BodyPreview(result),
		InputTokens:  node.InputTokens,
		OutputTokens: node.OutputTokens,
		CostUSD:      node.CostUSD,
	})
	return result, nil
}

// childQuery services one llm_query call from the sandbox: depth and
// deadline checks, then a child node whose LM response is the output.
func (o *Orchestrator) childQuery(ctx context.Context, rec *trace.Recorder, parent *trace.Node, model, prompt string, memory *msl.Dict) (string, error) {
	depth := parent.Depth + 1
	if depth > o.cfg.MaxRecursionDepth {
		return "", Errf(KindRecursionLimit, "llm_query at depth %d exceeds limit %d", depth, o.cfg.MaxRecursionDepth)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	node := rec.StartNode(parent.ID, trace.NodeChild, depth, prompt, model)
	node.MemoryBefore = msl.ToJSONMap(memory)
	o.bus.Publish(rec.ExecutionID(), trace.Event{
		Type:         trace.EventNodeStarted,
		NodeID:       node.ID,
		ParentNodeID: parent.ID,
		NodeType:     trace.NodeChild,
		Depth:        depth,
		Sequence:     node.SequenceNumber,
		Preview:      trace.PromptPreview(prompt),
	})

	resp, err := o.callLLM(ctx, node, childSystemPrompt, prompt)
	if err != nil {
		return "", o.failNode(ctx, rec, node, err)
	}

	node.Output = resp.Content
	node.MemoryAfter = msl.ToJSONMap(memory)
	rec.FinishNode(node, trace.StatusCompleted, node.Error)
	o.persistNode(ctx, node)
	o.bus.Publish(rec.ExecutionID(), trace.Event{
		Type:         trace.EventNodeOutput,
		NodeID:       node.ID,
		Preview:      trace.BodyPreview(resp.Content),
		InputTokens:  node.InputTokens,
		OutputTokens: node.OutputTokens,
		CostUSD:      node.CostUSD,
	})
	return resp.Content, nil
}

// callLLM performs one completion under the per-call timeout and records
// its usage on the node.
func (o *Orchestrator) callLLM(ctx context.Context, node *trace.Node, system, user string) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMCallTimeout)
	defer cancel()

	resp, err := o.client.Complete(callCtx, llm.Request{
		Model:  node.Model,
		System: system,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: user},
		},
	})
	if err != nil {
		if callCtx.Err() != nil {
			// Raw context error: this node's own run hit a deadline.
			return nil, callCtx.Err()
		}
		return nil, &Error{Kind: KindProvider, Msg: err.Error(), Err: err}
	}

	node.InputTokens = int64(resp.InputTokens)
	node.OutputTokens = int64(resp.OutputTokens)
	node.CostUSD = pricing.Cost(node.Model, resp.InputTokens, resp.OutputTokens)
	if !pricing.Known(node.Model) {
		node.Error = "no pricing for model " + node.Model + "; cost recorded as zero"
		o.log.Warn("no pricing for model, cost recorded as zero", "model", node.Model)
	}
	return resp, nil
}

// failNode closes a node for an error, publishes node_failed, and returns
// the classified error for the caller to propagate.
func (o *Orchestrator) failNode(ctx context.Context, rec *trace.Recorder, node *trace.Node, err error) error {
	cls := classify(err)
	status := trace.StatusFailed
	// Timeout marks only the node whose own run hit the deadline. A
	// pre-classified failure propagated up from a child leaves the parent
	// failed.
	var pre *Error
	if cls.Kind == KindDeadlineExceeded && !errors.As(err, &pre) {
		status = trace.StatusTimeout
	}
	rec.FinishNode(node, status, cls.Error())
	o.persistNode(ctx, node)
	o.bus.Publish(rec.ExecutionID(), trace.Event{
		Type:      trace.EventNodeFailed,
		NodeID:    node.ID,
		Error:     cls.Error(),
		ErrorKind: string(cls.Kind),
	})
	return cls
}
