package policy

import (
	"fmt"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError blocks a run in enforcing mode.
	SeverityError Severity = "error"

	// SeverityCritical blocks a run in enforcing mode.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity stops an enforcing run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Mode controls what happens when blocking violations are found.
type Mode string

const (
	// ModeEnforcing refuses to execute a plan with blocking violations.
	ModeEnforcing Mode = "enforcing"

	// ModeAdvisory reports violations and executes anyway.
	ModeAdvisory Mode = "advisory"
)

// ParseMode converts a configuration value into a Mode. Empty means enforcing.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeEnforcing:
		return ModeEnforcing, nil
	case ModeAdvisory:
		return ModeAdvisory, nil
	default:
		return "", fmt.Errorf("unknown policy mode %q (want enforcing or advisory)", s)
	}
}

// Policy is a Rego module exposing a "deny" set.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	Policy   string         `json:"policy"`
	Manifest string         `json:"manifest,omitempty"`
	Action   string         `json:"action,omitempty"`
	Message  string         `json:"message"`
	Severity Severity       `json:"severity"`
	Details  map[string]any `json:"details,omitempty"`
}

func (v Violation) String() string {
	if v.Manifest == "" {
		return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s (%s/%s)", v.Severity, v.Policy, v.Message, v.Manifest, v.Action)
}

// Result is the outcome of evaluating every enabled policy against a plan.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists all policy violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that stop an enforcing run.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// DeniedError is returned when an enforcing evaluation finds blocking violations.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("plan denied by policy: %s", e.Violations[0])
	}
	return fmt.Sprintf("plan denied by policy: %d violations, first: %s", len(e.Violations), e.Violations[0])
}

// Check returns a DeniedError when mode is enforcing and the result has
// blocking violations.
func (r *Result) Check(mode Mode) error {
	if mode == ModeAdvisory {
		return nil
	}
	if blocking := r.Blocking(); len(blocking) > 0 {
		return &DeniedError{Violations: blocking}
	}
	return nil
}
