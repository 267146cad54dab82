// Package modelgen runs generation and refinement sessions: it builds the
// conversation, drives the repair loop with the process-model extractor and
// persists the outcome.
package modelgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/promoai/internal/conversation"
	"github.com/kalambet/promoai/internal/engine"
	"github.com/kalambet/promoai/internal/processmodel"
	"github.com/kalambet/promoai/internal/prompt"
	"github.com/kalambet/promoai/internal/repair"
	"github.com/kalambet/promoai/internal/storage"
)

// ErrInvalidInput marks requests rejected before any model call.
var ErrInvalidInput = errors.New("invalid input")

// SessionStore defines the storage operations the Service needs.
// Implemented by storage.Store.
type SessionStore interface {
	SaveSession(sess storage.Session) error
	GetSession(id string) (storage.Session, error)
	ListSessions(limit int) ([]storage.Session, error)
	SaveRun(r storage.Run) error
	ListRuns(sessionID string) ([]storage.Run, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Settings selects the model for one call. Zero fields fall back to the
// session's previous choice, then to the service defaults.
type Settings struct {
	Provider engine.Provider
	Model    string
	APIKey   string
	Budget   *repair.Budget
}

// Session is a generated or imported process model with its history.
type Session struct {
	ID          string             `json:"id"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	Title       string             `json:"title"`
	Source      string             `json:"source"`
	Description string             `json:"description,omitempty"`
	Provider    string             `json:"provider,omitempty"`
	ModelName   string             `json:"model,omitempty"`
	Status      string             `json:"status"`
	Code        string             `json:"code,omitempty"`
	Feedback    []string           `json:"feedback"`
	Stats       processmodel.Stats `json:"stats"`
	Tree        string             `json:"tree,omitempty"`

	Process      *processmodel.Model        `json:"-"`
	Conversation *conversation.Conversation `json:"-"`
}

// Service coordinates the repair loop and storage. It is safe for
// concurrent use; refinements of the same session are serialised.
type Service struct {
	store    SessionStore
	ctrl     *repair.Controller
	defaults Settings
	logger   *slog.Logger
	clock    Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	keys  map[engine.Provider]string
}

// New creates a Service. defaults supplies the provider and model used when
// a call does not name them.
func New(store SessionStore, ctrl *repair.Controller, defaults Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		store:    store,
		ctrl:     ctrl,
		defaults: defaults,
		logger:   logger,
		clock:    realClock{},
		locks:    make(map[string]*sync.Mutex),
		keys:     make(map[engine.Provider]string),
	}
}

// SetAPIKey registers the credential used for p when a call does not carry
// one. Call it before the Service is shared.
func (s *Service) SetAPIKey(p engine.Provider, key string) {
	s.keys[p] = key
}

// NewWithClock creates a Service with a custom clock (for testing).
func NewWithClock(store SessionStore, ctrl *repair.Controller, defaults Settings, logger *slog.Logger, clock Clock) *Service {
	s := New(store, ctrl, defaults, logger)
	s.clock = clock
	return s
}

// Generate asks the model for a new process model of description. When the
// loop runs but fails, the session and a failed run are still stored and
// the returned Session is non-nil alongside the error.
func (s *Service) Generate(ctx context.Context, description string, set Settings) (*Session, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: description is empty", ErrInvalidInput)
	}
	set = s.settings(set, "", "")

	now := s.clock.Now()
	sess := storage.Session{
		ID:          uuid.New().String(),
		CreatedAt:   now,
		Title:       titleFrom(description),
		Source:      storage.SourceText,
		Description: description,
		Provider:    set.Provider.String(),
		Model:       set.Model,
		Feedback:    []string{},
	}
	conv := prompt.TextToModel(description)

	art, runErr := s.run(ctx, set, conv, &sess, storage.RunGenerate)
	var cfgErr *engine.ConfigError
	if errors.As(runErr, &cfgErr) {
		return nil, runErr
	}
	if runErr == nil {
		sess.Status = storage.StatusReady
		sess.Code = art.Value.Code()
	} else {
		sess.Status = storage.StatusFailed
	}

	if err := s.save(&sess, conv); err != nil {
		return nil, err
	}
	out, err := toSession(sess)
	if err != nil {
		return nil, err
	}
	if runErr == nil {
		s.logger.Info("process model generated", "session", sess.ID, "provider", sess.Provider, "model", sess.Model)
	}
	return out, runErr
}

// Refine asks the model to revise the session's model according to feedback.
// On failure the stored model is unchanged but the conversation keeps the
// attempted exchange.
func (s *Service) Refine(ctx context.Context, id, feedback string, set Settings) (*Session, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, fmt.Errorf("%w: feedback is empty", ErrInvalidInput)
	}

	lock := s.lock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	if sess.Code == "" {
		return nil, fmt.Errorf("%w: session %s has no model to refine", ErrInvalidInput, id)
	}
	conv := conversation.New()
	if err := json.Unmarshal([]byte(sess.Conversation), conv); err != nil {
		return nil, fmt.Errorf("decoding conversation of session %s: %w", id, err)
	}

	set = s.settings(set, sess.Provider, sess.Model)
	conv.Append(conversation.RoleUser, prompt.Feedback(feedback).Content)

	art, runErr := s.run(ctx, set, conv, &sess, storage.RunRefine)
	var cfgErr *engine.ConfigError
	if errors.As(runErr, &cfgErr) {
		return nil, runErr
	}
	if runErr == nil {
		sess.Code = art.Value.Code()
		sess.Status = storage.StatusReady
		sess.Provider = set.Provider.String()
		sess.Model = set.Model
		sess.Feedback = append(sess.Feedback, feedback)
	}

	sess.UpdatedAt = time.Time{}
	if err := s.save(&sess, conv); err != nil {
		return nil, err
	}
	out, err := toSession(sess)
	if err != nil {
		return nil, err
	}
	if runErr == nil {
		s.logger.Info("process model refined", "session", id, "feedback_count", len(sess.Feedback))
	}
	return out, runErr
}

// Import stores an existing model so it can be refined.
func (s *Service) Import(ctx context.Context, code string) (*Session, error) {
	m, err := processmodel.Load(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	canonical := m.Code()
	sess := storage.Session{
		ID:        uuid.New().String(),
		CreatedAt: s.clock.Now(),
		Title:     "Imported model",
		Source:    storage.SourceImport,
		Status:    storage.StatusReady,
		Code:      canonical,
		Feedback:  []string{},
	}
	if err := s.save(&sess, prompt.FromModel(canonical)); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "process model imported", "session", sess.ID, "activities", m.Stats().Activities)
	return toSession(sess)
}

// Get loads a session with its parsed model and conversation.
func (s *Service) Get(id string) (*Session, error) {
	sess, err := s.store.GetSession(id)
	if err != nil {
		return nil, err
	}
	return toSession(sess)
}

// List returns the most recently updated sessions.
func (s *Service) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.store.ListSessions(limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Session, 0, len(rows))
	for _, r := range rows {
		sess, err := toSession(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// Runs returns the generation and refinement attempts of a session.
func (s *Service) Runs(id string) ([]storage.Run, error) {
	if _, err := s.store.GetSession(id); err != nil {
		return nil, err
	}
	return s.store.ListRuns(id)
}

func (s *Service) run(ctx context.Context, set Settings, conv *conversation.Conversation, sess *storage.Session, kind string) (repair.Artifact[*processmodel.Model], error) {
	started := s.clock.Now()
	before := conv.Len()
	art, err := repair.Run(ctx, s.ctrl, repair.Request{
		Provider: set.Provider,
		Model:    set.Model,
		APIKey:   set.APIKey,
		Budget:   set.Budget,
	}, conv, processmodel.Extract)

	var cfgErr *engine.ConfigError
	if errors.As(err, &cfgErr) {
		return art, err
	}

	run := storage.Run{
		ID:         uuid.New().String(),
		SessionID:  sess.ID,
		Kind:       kind,
		Provider:   set.Provider.String(),
		Model:      set.Model,
		Status:     storage.StatusSucceeded,
		Attempts:   art.Attempts,
		StartedAt:  started,
		FinishedAt: s.clock.Now(),
	}
	if err != nil {
		run.Status = storage.StatusFailed
		run.Error = err.Error()
		run.Attempts, run.ErrorHistory = failedAttempts(err, conv.Since(before))
		s.logger.Warn("model run failed", "session", sess.ID, "kind", kind, "attempts", run.Attempts, "error", err)
	}
	// the session row must exist before its run
	if err := s.save(sess, conv); err != nil {
		return art, err
	}
	if serr := s.store.SaveRun(run); serr != nil {
		return art, fmt.Errorf("saving run: %w", serr)
	}
	return art, err
}

func failedAttempts(err error, added []conversation.Turn) (int, []string) {
	var xerr *repair.ExhaustionError
	if errors.As(err, &xerr) {
		return xerr.Attempts, xerr.History
	}
	var aerr *repair.AbortError
	if errors.As(err, &aerr) {
		return aerr.Attempt, nil
	}
	// transport failure: every assistant turn was a completed attempt
	n := 1
	for _, t := range added {
		if t.Role == conversation.RoleAssistant {
			n++
		}
	}
	return n, nil
}

func (s *Service) save(sess *storage.Session, conv *conversation.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	sess.Conversation = string(data)
	if sess.Status == "" {
		sess.Status = storage.StatusFailed
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = s.clock.Now()
	}
	if err := s.store.SaveSession(*sess); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *Service) settings(set Settings, provider, model string) Settings {
	if set.Provider == 0 {
		if p, err := engine.ParseProvider(provider); err == nil {
			set.Provider = p
		} else {
			set.Provider = s.defaults.Provider
		}
	}
	if set.Model == "" {
		switch {
		case model != "" && set.Provider.String() == provider:
			set.Model = model
		case set.Provider == s.defaults.Provider && s.defaults.Model != "":
			set.Model = s.defaults.Model
		default:
			set.Model = engine.DefaultModel(set.Provider)
		}
	}
	if set.APIKey == "" {
		set.APIKey = s.keys[set.Provider]
	}
	if set.APIKey == "" && set.Provider == s.defaults.Provider {
		set.APIKey = s.defaults.APIKey
	}
	if set.Budget == nil {
		set.Budget = s.defaults.Budget
	}
	return set
}

func (s *Service) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func toSession(row storage.Session) (*Session, error) {
	conv := conversation.New()
	if err := json.Unmarshal([]byte(row.Conversation), conv); err != nil {
		return nil, fmt.Errorf("decoding conversation of session %s: %w", row.ID, err)
	}
	out := &Session{
		ID:           row.ID,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		Title:        row.Title,
		Source:       row.Source,
		Description:  row.Description,
		Provider:     row.Provider,
		ModelName:    row.Model,
		Status:       row.Status,
		Code:         row.Code,
		Feedback:     row.Feedback,
		Conversation: conv,
	}
	if out.Feedback == nil {
		out.Feedback = []string{}
	}
	if row.Code != "" {
		m, err := processmodel.Parse(row.Code)
		if err != nil {
			return nil, fmt.Errorf("parsing stored model of session %s: %w", row.ID, err)
		}
		if err := m.Validate(true); err != nil {
			return nil, fmt.Errorf("validating stored model of session %s: %w", row.ID, err)
		}
		out.Process = m
		out.Stats = m.Stats()
		out.Tree = m.String()
	}
	return out, nil
}

func titleFrom(description string) string {
	line, _, _ := strings.Cut(description, "\n")
	line = strings.TrimSpace(line)
	const maxTitle = 60
	if utf8.RuneCountInString(line) <= maxTitle {
		return line
	}
	r := []rune(line)
	return strings.TrimSpace(string(r[:maxTitle])) + "…"
}
