package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/rlm-engine/internal/trace"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleExecution(id string) *trace.Execution {
	return &trace.Execution{
		ID:        id,
		Query:     "summarize",
		Context:   "some context",
		Model:     "gpt-4o-mini",
		Status:    trace.StatusRunning,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestExecutionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exec := sampleExecution("exec-1")
	require.NoError(t, s.CreateExecution(ctx, exec))

	now := time.Now().UTC().Truncate(time.Second)
	exec.Status = trace.StatusCompleted
	exec.Result = "done"
	exec.TotalNodes = 3
	exec.TotalInputTokens = 500
	exec.TotalOutputTokens = 120
	exec.TotalCostUSD = 0.0123
	exec.MaxDepthReached = 1
	exec.CompletedAt = &now
	require.NoError(t, s.UpdateExecution(ctx, exec))

	got, err := s.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, trace.StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
	assert.Equal(t, "summarize", got.Query)
	assert.Equal(t, 3, got.TotalNodes)
	assert.Equal(t, int64(500), got.TotalInputTokens)
	assert.InDelta(t, 0.0123, got.TotalCostUSD, 1e-9)
	require.NotNil(t, got.CompletedAt)
}

func TestGetExecutionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetExecution(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.UpdateExecution(context.Background(), sampleExecution("missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListExecutionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	older := sampleExecution("exec-old")
	older.StartedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.CreateExecution(ctx, older))
	newer := sampleExecution("exec-new")
	require.NoError(t, s.CreateExecution(ctx, newer))

	got, err := s.ListExecutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "exec-new", got[0].ID)
	assert.Equal(t, "exec-old", got[1].ID)
}

func TestNodesRoundTripAndTree(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateExecution(ctx, sampleExecution("exec-1")))

	now := time.Now().UTC().Truncate(time.Second)
	root := &trace.Node{
		ID:          "root",
		ExecutionID: "exec-1",
		NodeType:    trace.NodeRoot,
		Prompt:      "root prompt",
		Code:        "FINAL(1)",
		Model:       "gpt-4o-mini",
		Status:      trace.StatusRunning,
		StartedAt:   now,
		MemoryBefore: map[string]any{
			"facts": []any{"a"},
		},
	}
	require.NoError(t, s.SaveNode(ctx, root))

	for i, id := range []string{"c0", "c1"} {
		child := &trace.Node{
			ID:             id,
			ExecutionID:    "exec-1",
			ParentNodeID:   "root",
			NodeType:       trace.NodeChild,
			Depth:          1,
			SequenceNumber: i,
			Prompt:         "child " + id,
			Output:         "out " + id,
			Model:          "gpt-4o-mini",
			Status:         trace.StatusCompleted,
			StartedAt:      now,
			InputTokens:    100,
			OutputTokens:   10,
		}
		require.NoError(t, s.SaveNode(ctx, child))
	}

	// Upsert the root to its terminal state.
	root.Status = trace.StatusCompleted
	root.Output = "1"
	root.MemoryAfter = map[string]any{"facts": []any{"a", "b"}}
	root.CompletedAt = &now
	require.NoError(t, s.SaveNode(ctx, root))

	nodes, err := s.ListNodes(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, nodes, 3)

	tree := trace.BuildTree(nodes)
	require.NotNil(t, tree)
	assert.Equal(t, "root", tree.ID)
	assert.Equal(t, trace.StatusCompleted, tree.Status)
	assert.Equal(t, []any{"a", "b"}, tree.MemoryAfter["facts"])
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "c0", tree.Children[0].ID)
	assert.Equal(t, "c1", tree.Children[1].ID)
}

func TestSessionCRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "research", "the context blob")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, len("the context blob"), sess.ContextSize)
	assert.Len(t, sess.ContextSHA256, 64)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "research", got.Name)
	assert.Equal(t, "the context blob", got.Context)
	assert.JSONEq(t, "{}", string(got.Memory))

	list, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.DeleteSession(ctx, sess.ID))
	_, err = s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteSession(ctx, sess.ID), ErrNotFound)
}

func TestSessionMemoryMerge(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "sess", "")
	require.NoError(t, err)

	require.NoError(t, s.MergeMemory(ctx, sess.ID, map[string]any{
		"visits": 1,
		"topic":  "go",
	}))
	require.NoError(t, s.MergeMemory(ctx, sess.ID, map[string]any{
		"visits": 2,
	}))

	mem, err := s.Memory(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(2), mem["visits"])
	assert.Equal(t, "go", mem["topic"], "unmentioned keys survive a merge")
}

func TestSessionMemoryKeys(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "sess", "")
	require.NoError(t, err)

	require.NoError(t, s.SetMemoryKey(ctx, sess.ID, "answer", 42))
	v, err := s.MemoryKey(ctx, sess.ID, "answer")
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)

	// A key containing a dot is a literal name, not a path.
	require.NoError(t, s.SetMemoryKey(ctx, sess.ID, "a.b", "dotted"))
	v, err = s.MemoryKey(ctx, sess.ID, "a.b")
	require.NoError(t, err)
	assert.Equal(t, "dotted", v)

	require.NoError(t, s.DeleteMemoryKey(ctx, sess.ID, "answer"))
	_, err = s.MemoryKey(ctx, sess.ID, "answer")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteMemoryKey(ctx, sess.ID, "answer"), ErrNotFound)

	require.NoError(t, s.ClearMemory(ctx, sess.ID))
	mem, err := s.Memory(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, mem)
}

func TestMemoryMissingSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Memory(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.MergeMemory(ctx, "missing", map[string]any{"k": 1}), ErrNotFound)
}
