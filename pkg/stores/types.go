package stores

import (
	"context"
	"time"
)

// RunStatus represents the status of a run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusDenied    RunStatus = "denied"
	RunStatusCancelled RunStatus = "cancelled"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	return s != RunStatusRunning
}

// AtomStatus represents what happened to one atom
type AtomStatus string

const (
	AtomStatusPlanned  AtomStatus = "planned"
	AtomStatusSkipped  AtomStatus = "skipped"
	AtomStatusExecuted AtomStatus = "executed"
	AtomStatusFailed   AtomStatus = "failed"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run is one invocation of apply or plan
type Run struct {
	ID          string     `json:"id"`
	Mode        string     `json:"mode"`      // apply or plan
	Manifests   string     `json:"manifests"` // JSON array of manifest names
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Executed    int        `json:"executed"`
	Skipped     int        `json:"skipped"`
	Error       *string    `json:"error,omitempty"`
	Context     string     `json:"context"` // JSON snapshot of the run context
}

// AtomRecord is the outcome of one atom within a run
type AtomRecord struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Manifest    string        `json:"manifest"`
	ActionIndex int           `json:"action_index"`
	Action      string        `json:"action"`
	StepIndex   int           `json:"step_index"`
	AtomIndex   int           `json:"atom_index"`
	Description string        `json:"description"`
	Status      AtomStatus    `json:"status"`
	SideEffects string        `json:"side_effects"` // JSON array
	Duration    time.Duration `json:"duration"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Manifest  *string    `json:"manifest,omitempty"`
	Action    *string    `json:"action,omitempty"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the interface for the run history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, executed, skipped int, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Atom operations
	RecordAtom(ctx context.Context, record *AtomRecord) error
	ListAtomsByRun(ctx context.Context, runID string) ([]*AtomRecord, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
