package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTree(t *testing.T) {
	nodes := []*Node{
		{ID: "root", NodeType: NodeRoot, Depth: 0},
		{ID: "c2", ParentNodeID: "root", Depth: 1, SequenceNumber: 2},
		{ID: "c0", ParentNodeID: "root", Depth: 1, SequenceNumber: 0},
		{ID: "c1", ParentNodeID: "root", Depth: 1, SequenceNumber: 1},
		{ID: "g0", ParentNodeID: "c1", Depth: 2, SequenceNumber: 0},
	}

	tree := BuildTree(nodes)
	require.NotNil(t, tree)
	assert.Equal(t, "root", tree.ID)
	require.Len(t, tree.Children, 3)
	assert.Equal(t, "c0", tree.Children[0].ID)
	assert.Equal(t, "c1", tree.Children[1].ID)
	assert.Equal(t, "c2", tree.Children[2].ID)
	require.Len(t, tree.Children[1].Children, 1)
	assert.Equal(t, "g0", tree.Children[1].Children[0].ID)
}

func TestBuildTreeEmpty(t *testing.T) {
	assert.Nil(t, BuildTree(nil))
	assert.Nil(t, BuildTree([]*Node{{ID: "orphan", ParentNodeID: "missing"}}))
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("exec-1")
	defer cancel()

	bus.Publish("exec-1", Event{Type: EventNodeStarted, NodeID: "n1"})
	bus.Publish("exec-2", Event{Type: EventNodeStarted, NodeID: "other"})

	select {
	case ev := <-ch:
		assert.Equal(t, EventNodeStarted, ev.Type)
		assert.Equal(t, "n1", ev.NodeID)
		assert.Equal(t, "exec-1", ev.ExecutionID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("exec-1")
	defer cancel()

	for i := 0; i < subBuffer+10; i++ {
		bus.Publish("exec-1", Event{Type: EventNodeOutput, Sequence: i})
	}

	first := <-ch
	assert.Equal(t, 10, first.Sequence, "oldest events should have been dropped")
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("exec-1")

	bus.Publish("exec-1", Event{Type: EventExecutionCompleted})
	bus.Close("exec-1")

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, EventExecutionCompleted, ev.Type)

	_, ok = <-ch
	assert.False(t, ok, "channel should be closed")

	// cancel after Close must not panic
	cancel()
}

func TestRecorderSequencesAndTotals(t *testing.T) {
	rec := NewRecorder(&Execution{ID: "exec-1", Status: StatusPending})

	root := rec.StartNode("", NodeRoot, 0, "root prompt", "gpt-4o-mini")
	assert.Equal(t, 0, root.SequenceNumber)
	assert.Equal(t, StatusRunning, root.Status)

	a := rec.StartNode(root.ID, NodeChild, 1, "child a", "gpt-4o-mini")
	b := rec.StartNode(root.ID, NodeChild, 1, "child b", "gpt-4o-mini")
	assert.Equal(t, 0, a.SequenceNumber)
	assert.Equal(t, 1, b.SequenceNumber)

	a.InputTokens, a.OutputTokens, a.CostUSD = 100, 50, 0.001
	rec.FinishNode(a, StatusCompleted, "")
	b.InputTokens, b.OutputTokens, b.CostUSD = 200, 80, 0.002
	rec.FinishNode(b, StatusFailed, "boom")

	root.InputTokens, root.OutputTokens, root.CostUSD = 500, 300, 0.01
	rec.FinishNode(root, StatusCompleted, "")
	rec.FinishExecution(StatusCompleted, "answer", "", "")

	exec, nodes := rec.Snapshot()
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "answer", exec.Result)
	assert.Equal(t, 3, exec.TotalNodes)
	assert.Equal(t, 1, exec.MaxDepthReached)
	assert.Equal(t, int64(800), exec.TotalInputTokens)
	assert.Equal(t, int64(430), exec.TotalOutputTokens)
	assert.InDelta(t, 0.013, exec.TotalCostUSD, 1e-9)
	require.Len(t, nodes, 3)

	// The snapshot replays into the same tree shape.
	tree := BuildTree(nodes)
	require.NotNil(t, tree)
	require.Len(t, tree.Children, 2)
	assert.Equal(t, "child a", tree.Children[0].Prompt)
	assert.Equal(t, "child b", tree.Children[1].Prompt)
	assert.Equal(t, "boom", tree.Children[1].Error)
}

func TestRecorderSnapshotIsolation(t *testing.T) {
	rec := NewRecorder(&Execution{ID: "exec-1"})
	n := rec.StartNode("", NodeRoot, 0, "p", "m")

	_, nodes := rec.Snapshot()
	nodes[0].Prompt = "mutated"
	assert.Equal(t, "p", n.Prompt)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusTimeout.Terminal())
}

func TestPreviews(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, PromptPreview(string(long)), promptPreviewLimit+3)
	assert.Len(t, BodyPreview(string(long)), bodyPreviewLimit+3)
	assert.Equal(t, "short", PromptPreview("short"))
}
