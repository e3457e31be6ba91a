// Package api exposes the operator HTTP surface: binding management,
// execution history and incident suggestions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"watchtower-soar/internal/binding"
	"watchtower-soar/internal/correlation"
	apperrors "watchtower-soar/internal/errors"
	"watchtower-soar/internal/playbook"
	"watchtower-soar/internal/predicate"
	"watchtower-soar/internal/storage"
)

// APIError represents a structured API error response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// writeJSONError writes a structured JSON error response.
func writeJSONError(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
		Details: details,
	}); err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// ExecutionLister serves execution history reads.
type ExecutionLister interface {
	ListExecutions(ctx context.Context, filter storage.ExecutionFilter) ([]*playbook.Execution, error)
	GetExecution(ctx context.Context, id uuid.UUID) (*playbook.Execution, error)
}

// SuggestionLister serves incident suggestion reads.
type SuggestionLister interface {
	ListSuggestions(ctx context.Context, since time.Time, limit int) ([]*correlation.Suggestion, error)
}

// Server handles the operator API.
type Server struct {
	registry    *binding.Registry
	executions  ExecutionLister
	suggestions SuggestionLister
}

// NewServer creates the API server. The listers may be nil when the
// engine runs without a storage backend; the endpoints then return 503.
func NewServer(registry *binding.Registry, executions ExecutionLister, suggestions SuggestionLister) *Server {
	return &Server{registry: registry, executions: executions, suggestions: suggestions}
}

// RegisterRoutes attaches all handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/soar/bindings", s.handleBindings)
	mux.HandleFunc("/soar/bindings/", s.handleBinding)
	mux.HandleFunc("/soar/executions", s.handleExecutions)
	mux.HandleFunc("/soar/executions/", s.handleExecution)
	mux.HandleFunc("/soar/suggestions", s.handleSuggestions)
	mux.HandleFunc("/healthz", s.handleHealth)
}

// handleBindings lists bindings for an organization or creates one.
func (s *Server) handleBindings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		org := r.URL.Query().Get("organization_id")
		if org == "" {
			writeJSONError(w, http.StatusBadRequest, "MISSING_ORGANIZATION", "invalid request", "organization_id query parameter is required")
			return
		}
		writeJSON(w, http.StatusOK, s.registry.List(org))

	case http.MethodPost:
		var b binding.Binding
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request", "request body is not valid JSON")
			return
		}
		if err := s.registry.Create(&b); err != nil {
			s.writeBindingError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, &b)

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", "only GET and POST are supported")
	}
}

// handleBinding serves a single binding by id.
func (s *Server) handleBinding(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.URL.Path, "/soar/bindings/")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_ID", "invalid request", "binding id must be a UUID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		b, err := s.registry.Get(id)
		if err != nil {
			s.writeBindingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, b)

	case http.MethodPut:
		var b binding.Binding
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request", "request body is not valid JSON")
			return
		}
		b.ID = id
		if err := s.registry.Update(&b); err != nil {
			s.writeBindingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &b)

	case http.MethodDelete:
		if err := s.registry.Delete(id); err != nil {
			s.writeBindingError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", "only GET, PUT and DELETE are supported")
	}
}

// writeBindingError maps registry errors onto API responses. Predicate
// syntax errors carry their position so operators can fix the rule.
func (s *Server) writeBindingError(w http.ResponseWriter, err error) {
	var synErr *predicate.SyntaxError
	switch {
	case errors.As(err, &synErr):
		writeJSONError(w, http.StatusBadRequest, "INVALID_PREDICATE", "binding predicate is malformed", synErr.Error())
	case errors.Is(err, binding.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "binding not found", "")
	case strings.Contains(err.Error(), "invalid binding"):
		writeJSONError(w, http.StatusBadRequest, "INVALID_BINDING", "binding validation failed", apperrors.SafeMessage(err))
	default:
		slog.Error("binding request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", apperrors.SafeMessage(err))
	}
}

// handleExecutions returns playbook execution history.
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", "only GET is supported")
		return
	}
	if s.executions == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "NO_STORAGE", "execution history is not available", "engine is running without a storage backend")
		return
	}

	filter := storage.ExecutionFilter{
		PlaybookID: r.URL.Query().Get("playbook_id"),
		Status:     r.URL.Query().Get("status"),
		Since:      parseSince(r),
		Limit:      parseLimit(r),
	}
	execs, err := s.executions.ListExecutions(r.Context(), filter)
	if err != nil {
		slog.Error("listing executions failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", apperrors.SafeMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// handleExecution serves a single execution record by id.
func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", "only GET is supported")
		return
	}
	if s.executions == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "NO_STORAGE", "execution history is not available", "engine is running without a storage backend")
		return
	}

	raw := strings.TrimPrefix(r.URL.Path, "/soar/executions/")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_ID", "invalid request", "execution id must be a UUID")
		return
	}

	exec, err := s.executions.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "execution not found", "")
			return
		}
		slog.Error("fetching execution failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", apperrors.SafeMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleSuggestions returns incident suggestions from the correlators.
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", "only GET is supported")
		return
	}
	if s.suggestions == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "NO_STORAGE", "suggestions are not available", "engine is running without a storage backend")
		return
	}

	suggestions, err := s.suggestions.ListSuggestions(r.Context(), parseSince(r), parseLimit(r))
	if err != nil {
		slog.Error("listing suggestions failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", apperrors.SafeMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseSince reads the since query parameter, defaulting to 24h ago.
func parseSince(r *http.Request) time.Time {
	if raw := r.URL.Query().Get("since"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	return time.Now().UTC().Add(-24 * time.Hour)
}

// parseLimit reads the limit query parameter, defaulting to 100.
func parseLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return 100
}
