package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/promoai/internal/engine"
	"github.com/kalambet/promoai/internal/modelgen"
	"github.com/kalambet/promoai/internal/repair"
	"github.com/kalambet/promoai/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP API needs.
type Deps struct {
	Service *modelgen.Service
	// Token enables bearer auth on /v1 routes when non-empty.
	Token  string
	Logger *slog.Logger
}

// GenerateRequest is the body of POST /v1/sessions.
type GenerateRequest struct {
	Description string `json:"description"`
	ModelOptions
}

// FeedbackRequest is the body of POST /v1/sessions/{id}/feedback.
type FeedbackRequest struct {
	Feedback string `json:"feedback"`
	ModelOptions
}

// ImportRequest is the body of POST /v1/sessions/import.
type ImportRequest struct {
	Code string `json:"code"`
}

// MaxIterations caps each part of a budget supplied with a request.
const MaxIterations = 50

// ModelOptions selects the provider and budget of a request. Empty fields
// use the server defaults.
type ModelOptions struct {
	Provider             string `json:"provider,omitempty"`
	Model                string `json:"model,omitempty"`
	APIKey               string `json:"api_key,omitempty"`
	MaxIterations        *int   `json:"max_iterations,omitempty"`
	AdditionalIterations *int   `json:"additional_iterations,omitempty"`
}

// Settings converts the options into service settings.
func (o ModelOptions) Settings(defaults repair.Budget) (modelgen.Settings, error) {
	var set modelgen.Settings
	if o.Provider != "" {
		p, err := engine.ParseProvider(o.Provider)
		if err != nil {
			return set, err
		}
		set.Provider = p
	}
	set.Model = o.Model
	set.APIKey = o.APIKey
	if o.MaxIterations != nil || o.AdditionalIterations != nil {
		b := defaults
		if o.MaxIterations != nil {
			b.Primary = *o.MaxIterations
		}
		if o.AdditionalIterations != nil {
			b.Tolerance = *o.AdditionalIterations
		}
		if b.Primary > MaxIterations || b.Tolerance > MaxIterations {
			return set, &engine.ConfigError{Provider: "budget", Reason: fmt.Sprintf("iteration limits may not exceed %d, got %d/%d", MaxIterations, b.Primary, b.Tolerance)}
		}
		set.Budget = &b
	}
	return set, nil
}

// NewHandler returns the REST API for generation sessions.
func NewHandler(deps Deps, budget repair.Budget) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/providers", handleProviders)
		r.Post("/sessions", handleGenerate(deps.Service, budget, logger))
		r.Post("/sessions/import", handleImport(deps.Service))
		r.Get("/sessions", handleListSessions(deps.Service))
		r.Get("/sessions/{id}", handleGetSession(deps.Service))
		r.Get("/sessions/{id}/conversation", handleConversation(deps.Service))
		r.Get("/sessions/{id}/runs", handleRuns(deps.Service))
		r.Post("/sessions/{id}/feedback", handleFeedback(deps.Service, budget, logger))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleProviders(w http.ResponseWriter, r *http.Request) {
	var out []engine.ProviderInfo
	for _, p := range engine.Providers() {
		if info, ok := engine.Catalog(p); ok {
			out = append(out, info)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func handleGenerate(svc *modelgen.Service, budget repair.Budget, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		set, err := req.Settings(budget)
		if err != nil {
			writeError(w, err)
			return
		}

		sess, err := svc.Generate(r.Context(), req.Description, set)
		if err != nil {
			logger.Warn("generation failed", "error", err)
			writeGenerationError(w, sess, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func handleFeedback(svc *modelgen.Service, budget repair.Budget, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		set, err := req.Settings(budget)
		if err != nil {
			writeError(w, err)
			return
		}

		id := chi.URLParam(r, "id")
		sess, err := svc.Refine(r.Context(), id, req.Feedback, set)
		if err != nil {
			logger.Warn("refinement failed", "session", id, "error", err)
			writeGenerationError(w, sess, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleImport(svc *modelgen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sess, err := svc.Import(r.Context(), req.Code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func handleListSessions(svc *modelgen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = min(n, 200)
		}
		sessions, err := svc.List(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if sessions == nil {
			sessions = []*modelgen.Session{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	}
}

func handleGetSession(svc *modelgen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func handleConversation(svc *modelgen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := svc.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": sess.Conversation})
	}
}

func handleRuns(svc *modelgen.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := svc.Runs(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		type runView struct {
			ID           string   `json:"id"`
			Kind         string   `json:"kind"`
			Provider     string   `json:"provider"`
			Model        string   `json:"model"`
			Status       string   `json:"status"`
			Attempts     int      `json:"attempts"`
			ErrorHistory []string `json:"error_history"`
			Error        string   `json:"error,omitempty"`
			StartedAt    string   `json:"started_at"`
			FinishedAt   string   `json:"finished_at"`
		}
		out := make([]runView, len(runs))
		for i, run := range runs {
			out[i] = runView{
				ID:           run.ID,
				Kind:         run.Kind,
				Provider:     run.Provider,
				Model:        run.Model,
				Status:       run.Status,
				Attempts:     run.Attempts,
				ErrorHistory: run.ErrorHistory,
				Error:        run.Error,
				StartedAt:    run.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
				FinishedAt:   run.FinishedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": out})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds %d bytes", maxRequestBodySize)
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// errorStatus maps service errors to an HTTP status and error type.
func errorStatus(err error) (int, string) {
	var cfgErr *engine.ConfigError
	var transportErr *engine.TransportError
	var exhausted *repair.ExhaustionError
	var aborted *repair.AbortError
	switch {
	case errors.Is(err, modelgen.ErrInvalidInput), errors.As(err, &cfgErr):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found_error"
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, "api_error"
	case errors.As(err, &exhausted), errors.As(err, &aborted):
		return http.StatusUnprocessableEntity, "generation_error"
	}
	return http.StatusInternalServerError, "server_error"
}

func writeError(w http.ResponseWriter, err error) {
	code, typ := errorStatus(err)
	httpError(w, code, typ, "%s", err.Error())
}

// writeGenerationError reports a failed run. The session stored for the run,
// if any, is included so clients can inspect the conversation.
func writeGenerationError(w http.ResponseWriter, sess *modelgen.Session, err error) {
	code, typ := errorStatus(err)
	body := map[string]any{
		"message": err.Error(),
		"type":    typ,
	}
	var exhausted *repair.ExhaustionError
	if errors.As(err, &exhausted) {
		body["attempts"] = exhausted.Attempts
		body["history"] = exhausted.History
	}
	out := map[string]any{"error": body}
	if sess != nil {
		out["session"] = sess
	}
	writeJSON(w, code, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
