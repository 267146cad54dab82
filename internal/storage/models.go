package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session sources.
const (
	SourceText   = "text"
	SourceImport = "import"
)

// Session and run statuses.
const (
	StatusReady     = "ready"
	StatusFailed    = "failed"
	StatusSucceeded = "succeeded"
)

// Run kinds.
const (
	RunGenerate = "generate"
	RunRefine   = "refine"
)

type Session struct {
	ID          string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Title       string
	Source      string // "text" or "import"
	Description string
	Provider    string
	Model       string
	Status      string // "ready" or "failed"
	Code        string
	// Conversation is the JSON-encoded turn list.
	Conversation string
	Feedback     []string
}

type Run struct {
	ID           string
	SessionID    string
	Kind         string // "generate" or "refine"
	Provider     string
	Model        string
	Status       string // "succeeded" or "failed"
	Attempts     int
	ErrorHistory []string
	Error        string
	StartedAt    time.Time
	FinishedAt   time.Time
}
