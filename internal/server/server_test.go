package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/rlm-engine/internal/config"
	"github.com/rand/rlm-engine/internal/engine"
	"github.com/rand/rlm-engine/internal/llm"
	"github.com/rand/rlm-engine/internal/store"
	"github.com/rand/rlm-engine/internal/trace"
)

type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	content := s.replies[0]
	s.replies = s.replies[1:]
	return &llm.Response{Content: content, Model: req.Model, InputTokens: 10, OutputTokens: 5}, nil
}

func newTestServer(t *testing.T, client llm.Client) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{
		MaxContextSize:    1000,
		DefaultChunkSize:  100,
		MaxRecursionDepth: 10,
		ExecutionTimeout:  30 * time.Second,
		LLMCallTimeout:    10 * time.Second,
		DefaultModel:      "gpt-4o-mini",
	}
	orch := engine.New(cfg, client, trace.NewBus(), st, st, nil)
	ts := httptest.NewServer(New(orch, st, nil).Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	blob, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(blob))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestExecuteEndpoint(t *testing.T) {
	client := &scriptedLLM{replies: []string{"```python\nFINAL(\"done\")\n```"}}
	ts, _ := newTestServer(t, client)

	resp := postJSON(t, ts.URL+"/api/execute", map[string]string{
		"query":   "do the thing",
		"context": "some context",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	exec := decodeBody[trace.Execution](t, resp)
	assert.Equal(t, trace.StatusCompleted, exec.Status)
	assert.Equal(t, "done", exec.Result)
	assert.NotEmpty(t, exec.ID)
}

func TestExecuteRequiresQuery(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedLLM{})
	resp := postJSON(t, ts.URL+"/api/execute", map[string]string{"context": "c"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecuteContextTooLarge(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedLLM{})
	resp := postJSON(t, ts.URL+"/api/execute", map[string]string{
		"query":   "q",
		"context": strings.Repeat("x", 2000),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestExecutionLookupAndTree(t *testing.T) {
	client := &scriptedLLM{replies: []string{
		"```python\nFINAL(llm_query(\"sub\"))\n```",
		"child says hi",
	}}
	ts, _ := newTestServer(t, client)

	resp := postJSON(t, ts.URL+"/api/execute", map[string]string{"query": "q", "context": "c"})
	exec := decodeBody[trace.Execution](t, resp)

	getResp, err := http.Get(ts.URL + "/api/executions/" + exec.ID)
	require.NoError(t, err)
	got := decodeBody[trace.Execution](t, getResp)
	assert.Equal(t, exec.ID, got.ID)
	assert.Equal(t, "child says hi", got.Result)

	treeResp, err := http.Get(ts.URL + "/api/executions/" + exec.ID + "/tree")
	require.NoError(t, err)
	tree := decodeBody[trace.TreeNode](t, treeResp)
	assert.Equal(t, trace.NodeRoot, tree.NodeType)
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "sub", tree.Children[0].Prompt)
	assert.Equal(t, "child says hi", tree.Children[0].Output)
}

func TestExecutionNotFound(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedLLM{})
	resp, err := http.Get(ts.URL + "/api/executions/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/executions/nope/tree")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedLLM{})

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"name":    "research",
		"context": "session context blob",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sess := decodeBody[store.Session](t, resp)
	assert.Equal(t, len("session context blob"), sess.ContextSize)

	listResp, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	sessions := decodeBody[[]store.Session](t, listResp)
	require.Len(t, sessions, 1)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+sess.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp, err := http.Get(ts.URL + "/api/sessions/" + sess.ID)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestUpdateSession(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedLLM{})

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"name":    "before",
		"context": "old blob",
	})
	sess := decodeBody[store.Session](t, resp)

	body, _ := json.Marshal(map[string]string{"name": "after", "context": "new context blob"})
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/api/sessions/"+sess.ID, bytes.NewReader(body))
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	updated := decodeBody[store.Session](t, putResp)
	assert.Equal(t, "after", updated.Name)
	assert.Equal(t, len("new context blob"), updated.ContextSize)
	assert.NotEqual(t, sess.ContextSHA256, updated.ContextSHA256)

	// Omitted fields are left alone.
	body, _ = json.Marshal(map[string]string{"name": "renamed"})
	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/api/sessions/"+sess.ID, bytes.NewReader(body))
	putResp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	updated = decodeBody[store.Session](t, putResp)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, len("new context blob"), updated.ContextSize)

	req, _ = http.NewRequest(http.MethodPut, ts.URL+"/api/sessions/nope", bytes.NewReader([]byte(`{"name":"x"}`)))
	missResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	missResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, missResp.StatusCode)
}

func TestSessionMemoryEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedLLM{})

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{"name": "s"})
	sess := decodeBody[store.Session](t, resp)
	base := ts.URL + "/api/sessions/" + sess.ID + "/memory"

	putBody, _ := json.Marshal(map[string]any{"value": 42})
	req, _ := http.NewRequest(http.MethodPut, base+"/answer", bytes.NewReader(putBody))
	putResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	putResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, putResp.StatusCode)

	getResp, err := http.Get(base + "/answer")
	require.NoError(t, err)
	got := decodeBody[map[string]any](t, getResp)
	assert.Equal(t, float64(42), got["value"])

	memResp, err := http.Get(base)
	require.NoError(t, err)
	mem := decodeBody[map[string]any](t, memResp)
	assert.Equal(t, float64(42), mem["answer"])

	req, _ = http.NewRequest(http.MethodDelete, base+"/answer", nil)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp, err = http.Get(base + "/answer")
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestExecuteUsesSessionContextAndMemory(t *testing.T) {
	client := &scriptedLLM{replies: []string{
		"```python\nmemory[\"runs\"] = memory.get(\"runs\", 0) + 1\nFINAL(context)\n```",
	}}
	ts, _ := newTestServer(t, client)

	resp := postJSON(t, ts.URL+"/api/sessions", map[string]string{
		"name":    "s",
		"context": "stored context",
	})
	sess := decodeBody[store.Session](t, resp)

	execResp := postJSON(t, ts.URL+"/api/execute", map[string]string{
		"query":      "echo",
		"session_id": sess.ID,
	})
	exec := decodeBody[trace.Execution](t, execResp)
	assert.Equal(t, "stored context", exec.Result)

	memResp, err := http.Get(ts.URL + "/api/sessions/" + sess.ID + "/memory")
	require.NoError(t, err)
	mem := decodeBody[map[string]any](t, memResp)
	assert.Equal(t, float64(1), mem["runs"])
}

func TestExecuteStream(t *testing.T) {
	client := &scriptedLLM{replies: []string{
		"```python\nFINAL(llm_query(\"sub\"))\n```",
		"streamed",
	}}
	ts, _ := newTestServer(t, client)

	body, _ := json.Marshal(map[string]string{"query": "q", "context": "c"})
	resp, err := http.Post(ts.URL+"/api/execute/stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var eventNames []string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			eventNames = append(eventNames, strings.TrimPrefix(line, "event: "))
		}
	}

	require.NotEmpty(t, eventNames)
	assert.Equal(t, "execution_id", eventNames[0])
	assert.Contains(t, eventNames, string(trace.EventExecutionStarted))
	assert.Contains(t, eventNames, string(trace.EventNodeCode))
	assert.Contains(t, eventNames, string(trace.EventNodeOutput))
	assert.Equal(t, string(trace.EventExecutionCompleted), eventNames[len(eventNames)-1])
}

func TestExecuteStreamRejection(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedLLM{})

	body, _ := json.Marshal(map[string]string{
		"query":   "q",
		"context": strings.Repeat("x", 2000),
	})
	resp, err := http.Post(ts.URL+"/api/execute/stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := readAllLines(resp)
	require.NoError(t, err)
	assert.Contains(t, data, "event: error")
	assert.Contains(t, data, string(engine.KindContextTooLarge))
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedLLM{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func readAllLines(resp *http.Response) (string, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		fmt.Fprintln(&sb, scanner.Text())
	}
	return sb.String(), scanner.Err()
}
