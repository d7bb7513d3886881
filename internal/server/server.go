// Package server exposes the runtime over HTTP: execution endpoints with an
// SSE streaming variant, and session/memory CRUD.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rand/rlm-engine/internal/engine"
	"github.com/rand/rlm-engine/internal/store"
)

// Server holds the HTTP handlers' dependencies.
type Server struct {
	orch  *engine.Orchestrator
	store *store.Store
	log   *slog.Logger
}

// New builds a server over an orchestrator and its store.
func New(orch *engine.Orchestrator, st *store.Store, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{orch: orch, store: st, log: log}
}

// Router assembles the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/execute", s.handleExecute)
		r.Post("/execute/stream", s.handleExecuteStream)

		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Get("/executions/{id}/tree", s.handleGetExecutionTree)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleGetSession)
			r.Put("/{id}", s.handleUpdateSession)
			r.Delete("/{id}", s.handleDeleteSession)

			r.Get("/{id}/memory", s.handleGetMemory)
			r.Delete("/{id}/memory", s.handleClearMemory)
			r.Get("/{id}/memory/{key}", s.handleGetMemoryKey)
			r.Put("/{id}/memory/{key}", s.handlePutMemoryKey)
			r.Delete("/{id}/memory/{key}", s.handleDeleteMemoryKey)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Error: "not found"})
		return
	}
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		if engErr.Kind == engine.KindContextTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, apiError{Error: engErr.Error(), Kind: string(engErr.Kind)})
		return
	}
	s.log.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, apiError{Error: msg})
}
