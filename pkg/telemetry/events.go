package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a notable moment in a run. Subscribers such as the run history
// store receive them in publication order.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Manifest  string         `json:"manifest,omitempty"`
	Action    string         `json:"action,omitempty"`
	Message   string         `json:"message"`
	Level     string         `json:"level"`
	Data      map[string]any `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunCompleted    = "run.completed"
	EventTypeRunFailed       = "run.failed"
	EventTypeActionResolved  = "action.resolved"
	EventTypeConditionError  = "condition.error"
	EventTypeAtomExecuted    = "atom.executed"
	EventTypeAtomSkipped     = "atom.skipped"
	EventTypeAtomFailed      = "atom.failed"
	EventTypePolicyViolation = "policy.violation"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles a published event.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// EventPublisher delivers events synchronously to its subscribers.
type EventPublisher struct {
	mu          sync.RWMutex
	subscribers []subscriberEntry
}

// NewEventPublisher creates an event publisher with no subscribers.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// Publish fills in the ID and timestamp and delivers the event.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Level == "" {
		event.Level = EventLevelInfo
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// PublishRunStarted publishes a run started event.
func (ep *EventPublisher) PublishRunStarted(runID, mode string, manifests []string) {
	ep.Publish(Event{
		Type:    EventTypeRunStarted,
		RunID:   runID,
		Message: fmt.Sprintf("%s run %s started", mode, runID),
		Data: map[string]any{
			"mode":      mode,
			"manifests": manifests,
		},
	})
}

// PublishRunCompleted publishes a run completed event.
func (ep *EventPublisher) PublishRunCompleted(runID string, executed, skipped int, duration time.Duration) {
	ep.Publish(Event{
		Type:    EventTypeRunCompleted,
		RunID:   runID,
		Message: fmt.Sprintf("run %s completed: %d executed, %d skipped", runID, executed, skipped),
		Data: map[string]any{
			"executed": executed,
			"skipped":  skipped,
			"duration": duration.Seconds(),
		},
	})
}

// PublishRunFailed publishes a run failed event.
func (ep *EventPublisher) PublishRunFailed(runID, reason string) {
	ep.Publish(Event{
		Type:    EventTypeRunFailed,
		RunID:   runID,
		Message: fmt.Sprintf("run %s failed: %s", runID, reason),
		Level:   EventLevelError,
		Data:    map[string]any{"reason": reason},
	})
}

// PublishActionResolved publishes the outcome of resolving one action.
func (ep *EventPublisher) PublishActionResolved(runID, manifest, action, summary string, steps int) {
	ep.Publish(Event{
		Type:     EventTypeActionResolved,
		RunID:    runID,
		Manifest: manifest,
		Action:   action,
		Message:  summary,
		Data:     map[string]any{"steps": steps},
	})
}

// PublishConditionError publishes a where-expression evaluation failure.
func (ep *EventPublisher) PublishConditionError(runID, expression string, err error) {
	ep.Publish(Event{
		Type:    EventTypeConditionError,
		RunID:   runID,
		Message: err.Error(),
		Level:   EventLevelWarning,
		Data:    map[string]any{"expression": expression},
	})
}

// PublishAtom publishes the result of one atom.
func (ep *EventPublisher) PublishAtom(runID, manifest, action, atom string, executed bool, err error) {
	event := Event{
		Type:     EventTypeAtomSkipped,
		RunID:    runID,
		Manifest: manifest,
		Action:   action,
		Message:  atom,
	}
	switch {
	case err != nil:
		event.Type = EventTypeAtomFailed
		event.Level = EventLevelError
		event.Data = map[string]any{"error": err.Error()}
	case executed:
		event.Type = EventTypeAtomExecuted
	}
	ep.Publish(event)
}

// PublishPolicyViolation publishes a policy violation.
func (ep *EventPublisher) PublishPolicyViolation(runID, policy, severity, message string) {
	level := EventLevelWarning
	if severity == "error" || severity == "critical" {
		level = EventLevelError
	}
	ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		RunID:   runID,
		Message: message,
		Level:   level,
		Data: map[string]any{
			"policy":   policy,
			"severity": severity,
		},
	})
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	order := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	threshold := order[minLevel]
	return func(event Event) bool {
		return order[event.Level] >= threshold
	}
}
