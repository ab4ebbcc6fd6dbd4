// Package api is the daemon's read-only operator surface: a small HTTP
// server over the task store so a dashboard or curl can see what othalad
// is doing without going through othalactl.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/othala/orchd/internal/store"
	"github.com/othala/orchd/internal/task"
)

// Server serves a read-only JSON view of the task store.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	store      *store.Store
}

// Config bounds the HTTP listener.
type Config struct {
	Addr            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

// New builds a Server backed by st, listening on cfg.Addr.
func New(cfg Config, st *store.Store) *Server {
	s := &Server{store: st}
	s.router = s.setupRouter(cfg.AllowedOrigins)
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRouter(allowedOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET"},
		MaxAge:         300,
	})
	r.Use(corsMiddleware.Handler)

	r.Get("/healthz", s.handleHealth)
	r.Get("/tasks", s.handleListTasks)
	r.Get("/tasks/{id}", s.handleGetTask)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// taskView is the JSON shape returned for a task: the stored fields plus a
// humanized age so a dashboard doesn't need its own relative-time logic.
type taskView struct {
	ID         string `json:"id"`
	RepoID     string `json:"repo_id"`
	Title      string `json:"title"`
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
	UpdatedAgo string `json:"updated_ago"`
}

func toTaskView(tk *task.Task) taskView {
	return taskView{
		ID:         tk.ID,
		RepoID:     tk.RepoID,
		Title:      tk.Title,
		State:      tk.State.String(),
		RetryCount: tk.RetryCount,
		UpdatedAgo: humanize.Time(tk.UpdatedAt),
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	stateFilter := r.URL.Query().Get("state")
	states := task.AllStates()
	if stateFilter != "" {
		parsed, err := task.ParseState(stateFilter)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		states = []task.State{parsed}
	}

	var views []taskView
	for _, st := range states {
		tasks, err := s.store.ListTasksByState(st)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		for _, tk := range tasks {
			views = append(views, toTaskView(tk))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tk, err := s.store.TaskByID(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if tk == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("task %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, toTaskView(tk))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start launches the HTTP server in a background goroutine. It returns
// immediately; serve errors other than a clean shutdown are delivered via
// errCh.
func (s *Server) Start(errCh chan<- error) {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api: serving: %w", err)
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
