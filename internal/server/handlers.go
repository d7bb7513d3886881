package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rand/rlm-engine/internal/engine"
	"github.com/rand/rlm-engine/internal/store"
	"github.com/rand/rlm-engine/internal/trace"
)

type executeRequest struct {
	Query     string `json:"query"`
	Context   string `json:"context"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

// resolveRequest decodes an execute payload and pulls the context from the
// session when the request carries none of its own.
func (s *Server) resolveRequest(r *http.Request) (engine.Request, error) {
	var body executeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return engine.Request{}, err
	}
	req := engine.Request{
		Query:     body.Query,
		Context:   body.Context,
		SessionID: body.SessionID,
		Model:     body.Model,
	}
	if req.Context == "" && req.SessionID != "" {
		sess, err := s.store.GetSession(r.Context(), req.SessionID)
		if err != nil {
			return engine.Request{}, err
		}
		req.Context = sess.Context
	}
	return req, nil
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	req, err := s.resolveRequest(r)
	if err != nil {
		s.decodeError(w, err)
		return
	}
	if req.Query == "" {
		badRequest(w, "query is required")
		return
	}

	exec, _, err := s.orch.Run(r.Context(), "", req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecuteStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.resolveRequest(r)
	if err != nil {
		s.decodeError(w, err)
		return
	}
	if req.Query == "" {
		badRequest(w, "query is required")
		return
	}

	executionID := s.orch.NewExecutionID()
	events, cancel := s.orch.Bus().Subscribe(executionID)
	defer cancel()

	// The execution outlives a dropped client; its record is still
	// persisted.
	errCh := make(chan error, 1)
	go func() {
		_, _, err := s.orch.Run(context.WithoutCancel(r.Context()), executionID, req)
		errCh <- err
	}()

	sse, err := newSSEWriter(w)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sse.send("execution_id", map[string]string{"execution_id": executionID})

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			sse.send(string(ev.Type), ev)
		case runErr := <-errCh:
			if runErr != nil {
				// Rejected before the run started; nothing was published.
				sse.send("error", apiError{Error: runErr.Error(), Kind: string(engine.KindOf(runErr))})
				return
			}
			// Finished cleanly; drain remaining events until close.
			for ev := range events {
				sse.send(string(ev.Type), ev)
			}
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	execs, err := s.store.ListExecutions(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if execs == nil {
		execs = []*trace.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.store.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleGetExecutionTree(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetExecution(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	nodes, err := s.store.ListNodes(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trace.BuildTree(nodes))
}

type createSessionRequest struct {
	Name    string `json:"name"`
	Context string `json:"context"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.decodeError(w, err)
		return
	}
	if body.Name == "" {
		badRequest(w, "name is required")
		return
	}
	sess, err := s.store.CreateSession(r.Context(), body.Name, body.Context)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

type updateSessionRequest struct {
	Name    *string `json:"name"`
	Context *string `json:"context"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var body updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.decodeError(w, err)
		return
	}
	sess, err := s.store.UpdateSession(r.Context(), chi.URLParam(r, "id"), body.Name, body.Context)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	mem, err := s.store.Memory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mem)
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearMemory(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMemoryKey(w http.ResponseWriter, r *http.Request) {
	v, err := s.store.MemoryKey(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "key"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"value": v})
}

type putMemoryRequest struct {
	Value any `json:"value"`
}

func (s *Server) handlePutMemoryKey(w http.ResponseWriter, r *http.Request) {
	var body putMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.decodeError(w, err)
		return
	}
	if err := s.store.SetMemoryKey(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "key"), body.Value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMemoryKey(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMemoryKey(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "key")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeError distinguishes malformed payloads from missing referenced
// rows.
func (s *Server) decodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, err)
		return
	}
	badRequest(w, "invalid request body")
}
