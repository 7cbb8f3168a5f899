package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"storyloom/internal/api"
	"storyloom/internal/config"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
	"storyloom/internal/run"
	"storyloom/internal/services"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	engine *engine.Engine
	store  *run.Store

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, eng *engine.Engine, store *run.Store, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.API.Bind),
		token:  cfg.API.Token,
		logger: logger,
		engine: eng,
		store:  store,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", srv.handleHealth)
	mux.HandleFunc("/api/runs", authMiddleware(srv.token, srv.handleRuns))
	mux.HandleFunc("/api/runs/", authMiddleware(srv.token, srv.handleRun))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address, for tests that bind port zero.
func (s *apiServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	runs := make(map[string]int, len(stats))
	for phase, count := range stats {
		runs[string(phase)] = count
	}
	s.writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Runs: runs})
}

// handleRuns serves the collection: POST starts a run, GET lists runs.
// GET with ?owner= returns the owner's active run.
func (s *apiServer) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStart(w, r)
	case http.MethodGet:
		if owner := strings.TrimSpace(r.URL.Query().Get("owner")); owner != "" {
			s.handleActive(w, r, owner)
			return
		}
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", "VALIDATION")
		return
	}
	created, err := s.engine.Start(r.Context(), strings.TrimSpace(req.OwnerRef), req.Config)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromRun(created))
}

func (s *apiServer) handleActive(w http.ResponseWriter, r *http.Request, owner string) {
	active, err := s.engine.FindActive(r.Context(), owner)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if active == nil {
		s.writeError(w, http.StatusNotFound, "no active run", "NOT_FOUND")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromRun(active))
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	var phases []run.Phase
	for _, value := range r.URL.Query()["phase"] {
		phase, ok := run.ParsePhase(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown phase %q", value), "VALIDATION")
			return
		}
		phases = append(phases, phase)
	}
	runs, err := s.store.List(r.Context(), phases...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error(), "INTERNAL")
		return
	}
	views := make([]api.RunView, 0, len(runs))
	for _, item := range runs {
		views = append(views, api.FromRun(item))
	}
	s.writeJSON(w, http.StatusOK, api.RunListResponse{Runs: views})
}

// handleRun serves /api/runs/{id} and its action sub-paths.
func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusNotFound, "run not found", "NOT_FOUND")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		status, err := s.engine.Status(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromStatus(status))

	case "advance":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		result, err := s.engine.Advance(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromAdvanceResult(result))

	case "retry":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		result, err := s.engine.Retry(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromRetryResult(result))

	case "cancel":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		result, err := s.engine.Cancel(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromCancelResult(result))

	default:
		s.writeError(w, http.StatusNotFound, "unknown action", "NOT_FOUND")
	}
}

// writeEngineError maps the error taxonomy onto HTTP statuses.
func (s *apiServer) writeEngineError(w http.ResponseWriter, err error) {
	code := services.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "VALIDATION":
		status = http.StatusBadRequest
	case "CONFLICT", "PHASE_MISMATCH":
		status = http.StatusConflict
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "EXTERNAL":
		status = http.StatusBadGateway
	}
	s.writeError(w, status, err.Error(), code)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message, code string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Code: code})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
