package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rand/rlm-engine/internal/trace"
)

// CreateExecution inserts a new execution row.
func (s *Store) CreateExecution(ctx context.Context, e *trace.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (
			id, session_id, query, context, model, status, result, error, error_kind,
			max_depth_reached, total_nodes, total_input_tokens, total_output_tokens,
			total_cost_usd, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nullStr(e.SessionID), e.Query, e.Context, e.Model, e.Status, e.Result,
		e.Error, e.ErrorKind, e.MaxDepthReached, e.TotalNodes, e.TotalInputTokens,
		e.TotalOutputTokens, e.TotalCostUSD, e.StartedAt, e.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", e.ID, err)
	}
	return nil
}

// UpdateExecution rewrites an execution's mutable fields.
func (s *Store) UpdateExecution(ctx context.Context, e *trace.Execution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE executions SET
			status = ?, result = ?, error = ?, error_kind = ?,
			max_depth_reached = ?, total_nodes = ?, total_input_tokens = ?,
			total_output_tokens = ?, total_cost_usd = ?, completed_at = ?
		WHERE id = ?`,
		e.Status, e.Result, e.Error, e.ErrorKind, e.MaxDepthReached, e.TotalNodes,
		e.TotalInputTokens, e.TotalOutputTokens, e.TotalCostUSD, e.CompletedAt, e.ID)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetExecution loads one execution.
func (s *Store) GetExecution(ctx context.Context, id string) (*trace.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, query, context, model, status, result, error, error_kind,
			max_depth_reached, total_nodes, total_input_tokens, total_output_tokens,
			total_cost_usd, started_at, completed_at
		FROM executions WHERE id = ?`, id)

	var e trace.Execution
	var sessionID sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&e.ID, &sessionID, &e.Query, &e.Context, &e.Model, &e.Status,
		&e.Result, &e.Error, &e.ErrorKind, &e.MaxDepthReached, &e.TotalNodes,
		&e.TotalInputTokens, &e.TotalOutputTokens, &e.TotalCostUSD,
		&e.StartedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	e.SessionID = sessionID.String
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

// ListExecutions returns the most recent executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]*trace.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, query, context, model, status, result, error, error_kind,
			max_depth_reached, total_nodes, total_input_tokens, total_output_tokens,
			total_cost_usd, started_at, completed_at
		FROM executions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*trace.Execution
	for rows.Next() {
		var e trace.Execution
		var sessionID sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&e.ID, &sessionID, &e.Query, &e.Context, &e.Model, &e.Status,
			&e.Result, &e.Error, &e.ErrorKind, &e.MaxDepthReached, &e.TotalNodes,
			&e.TotalInputTokens, &e.TotalOutputTokens, &e.TotalCostUSD,
			&e.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.SessionID = sessionID.String
		if completedAt.Valid {
			t := completedAt.Time
			e.CompletedAt = &t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SaveNode upserts a node; the orchestrator writes each node when it
// reaches a terminal status.
func (s *Store) SaveNode(ctx context.Context, n *trace.Node) error {
	memBefore, err := marshalMemory(n.MemoryBefore)
	if err != nil {
		return err
	}
	memAfter, err := marshalMemory(n.MemoryAfter)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_nodes (
			id, execution_id, parent_node_id, node_type, depth, sequence_number,
			prompt, code, output, status, error, model, input_tokens, output_tokens,
			cost_usd, duration_ms, memory_before, memory_after, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			output = excluded.output, code = excluded.code, status = excluded.status,
			error = excluded.error, input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens, cost_usd = excluded.cost_usd,
			duration_ms = excluded.duration_ms, memory_after = excluded.memory_after,
			completed_at = excluded.completed_at`,
		n.ID, n.ExecutionID, nullStr(n.ParentNodeID), n.NodeType, n.Depth,
		n.SequenceNumber, n.Prompt, n.Code, n.Output, n.Status, n.Error, n.Model,
		n.InputTokens, n.OutputTokens, n.CostUSD, n.DurationMS,
		memBefore, memAfter, n.StartedAt, n.CompletedAt)
	if err != nil {
		return fmt.Errorf("save node %s: %w", n.ID, err)
	}
	return nil
}

// ListNodes loads an execution's nodes ordered by depth and sibling
// sequence, ready for tree assembly.
func (s *Store) ListNodes(ctx context.Context, executionID string) ([]*trace.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, parent_node_id, node_type, depth, sequence_number,
			prompt, code, output, status, error, model, input_tokens, output_tokens,
			cost_usd, duration_ms, memory_before, memory_after, started_at, completed_at
		FROM execution_nodes
		WHERE execution_id = ?
		ORDER BY depth, sequence_number`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list nodes for %s: %w", executionID, err)
	}
	defer rows.Close()

	var out []*trace.Node
	for rows.Next() {
		var n trace.Node
		var parentID sql.NullString
		var memBefore, memAfter sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.ExecutionID, &parentID, &n.NodeType, &n.Depth,
			&n.SequenceNumber, &n.Prompt, &n.Code, &n.Output, &n.Status, &n.Error,
			&n.Model, &n.InputTokens, &n.OutputTokens, &n.CostUSD, &n.DurationMS,
			&memBefore, &memAfter, &n.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.ParentNodeID = parentID.String
		if completedAt.Valid {
			t := completedAt.Time
			n.CompletedAt = &t
		}
		if n.MemoryBefore, err = unmarshalMemory(memBefore); err != nil {
			return nil, err
		}
		if n.MemoryAfter, err = unmarshalMemory(memAfter); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func marshalMemory(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal memory snapshot: %w", err)
	}
	return string(blob), nil
}

func unmarshalMemory(v sql.NullString) (map[string]any, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(v.String), &m); err != nil {
		return nil, fmt.Errorf("unmarshal memory snapshot: %w", err)
	}
	return m, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
