package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/manifold/pkg/actions"
	"github.com/openfroyo/manifold/pkg/conditions"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/manifests"
	"github.com/openfroyo/manifold/pkg/policy"
	"github.com/openfroyo/manifold/pkg/steps"
	"github.com/openfroyo/manifold/pkg/stores"
	"github.com/openfroyo/manifold/pkg/telemetry"
)

// Runner resolves manifests into steps and executes them.
//
// A run orders the manifests by their dependencies, resolves every action
// against the run context, evaluates policies over the complete plan and then
// executes the steps in order. The first failure ends the run.
type Runner struct {
	evaluator  conditions.Evaluator
	policies   *policy.Engine
	policyMode policy.Mode
	store      stores.Store
	keep       int
	eventLevel string
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithEvaluator sets the condition evaluator.
func WithEvaluator(evaluator conditions.Evaluator) Option {
	return func(r *Runner) {
		r.evaluator = evaluator
	}
}

// WithPolicy evaluates the engine's policies before execution.
func WithPolicy(engine *policy.Engine, mode policy.Mode) Option {
	return func(r *Runner) {
		r.policies = engine
		r.policyMode = mode
	}
}

// WithStore records runs in store and keeps the newest keep runs after each
// apply. Zero keeps every run.
func WithStore(store stores.Store, keep int) Option {
	return func(r *Runner) {
		r.store = store
		r.keep = keep
	}
}

// WithEventLevel records only events at level or above in the store.
func WithEventLevel(level string) Option {
	return func(r *Runner) {
		r.eventLevel = level
	}
}

// WithTelemetry sets the logger, tracer, metrics and event publisher.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Runner) {
		r.tel = tel
	}
}

// NewRunner creates a runner. When a store is configured it subscribes to the
// telemetry events so they are kept with the run.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{policyMode: policy.ModeEnforcing}
	for _, opt := range opts {
		opt(r)
	}

	if r.evaluator == nil {
		r.evaluator = conditions.NewStarlarkEvaluator(0, 0)
	}
	if r.tel == nil {
		r.tel = telemetry.Discard()
	}
	r.logger = r.tel.Logger.NewComponentLogger("engine")

	if r.store != nil {
		r.tel.Events.Subscribe(r.persistEvent, telemetry.FilterByLevel(r.eventLevel))
	}

	return r
}

// Apply resolves and executes list.
func (r *Runner) Apply(ctx context.Context, list []*manifests.Manifest, opts Options) (*RunReport, error) {
	return r.run(ctx, ModeApply, list, opts)
}

// Plan resolves list and plans every atom without executing anything.
func (r *Runner) Plan(ctx context.Context, list []*manifests.Manifest, opts Options) (*RunReport, error) {
	return r.run(ctx, ModePlan, list, opts)
}

// run holds the per-run state.
type run struct {
	report    *RunReport
	scope     contexts.Contexts
	logger    *telemetry.Logger
	recording bool
}

func (r *Runner) run(ctx context.Context, mode Mode, list []*manifests.Manifest, opts Options) (*RunReport, error) {
	selected, err := manifests.Select(list, opts.Select)
	if err != nil {
		return nil, r.reject(schemaError(err))
	}
	ordered, err := manifests.Order(selected)
	if err != nil {
		return nil, r.reject(schemaError(err))
	}

	names := make([]string, len(ordered))
	for i, m := range ordered {
		names[i] = m.Name
	}

	state := &run{
		report: &RunReport{
			RunID:     uuid.NewString(),
			Mode:      mode,
			Status:    stores.RunStatusRunning,
			Manifests: names,
			Actions:   []*ActionReport{},
			StartedAt: time.Now().UTC(),
		},
		scope: opts.Contexts,
	}
	state.logger = r.logger.WithRunID(state.report.RunID)

	ctx, span := r.tel.Tracer.StartRunSpan(ctx, state.report.RunID, string(mode))
	r.tel.Metrics.RecordRunStarted(string(mode))
	r.createRun(ctx, state)
	r.tel.Events.PublishRunStarted(state.report.RunID, string(mode), names)
	state.logger.Infof("Starting %s of %d manifests", mode, len(ordered))

	err = r.execute(ctx, state, ordered)

	r.finish(ctx, state, err)
	telemetry.EndSpan(span, err)

	return state.report, err
}

// reject records a run that failed before it started.
func (r *Runner) reject(err *EngineError) error {
	r.tel.Metrics.RecordError(string(err.Class), err.Code)
	r.logger.WithError(err).Error("Manifests rejected")
	return err
}

func (r *Runner) execute(ctx context.Context, state *run, ordered []*manifests.Manifest) error {
	evaluator := r.conditionEvaluator(state.report.RunID)

	for _, m := range ordered {
		origin := m.Origin(evaluator)
		for i, action := range m.Actions {
			ar, err := r.resolve(ctx, state, origin, i, action)
			state.report.Actions = append(state.report.Actions, ar)
			if err != nil {
				return err
			}
		}
	}

	if err := r.evaluatePolicy(ctx, state); err != nil {
		return err
	}

	for _, ar := range state.report.Actions {
		if err := r.runAction(ctx, state, ar); err != nil {
			return err
		}
	}

	return nil
}

// conditionEvaluator counts and publishes failing conditions before handing
// the error back to the resolution that asked for it.
func (r *Runner) conditionEvaluator(runID string) conditions.Evaluator {
	return conditions.EvaluatorFunc(func(expression string, scope contexts.Contexts) (bool, error) {
		matched, err := r.evaluator.Evaluate(expression, scope)
		if err != nil {
			r.tel.Metrics.RecordConditionError()
			r.tel.Events.PublishConditionError(runID, expression, err)
		}
		return matched, err
	})
}

func (r *Runner) resolve(ctx context.Context, state *run, origin actions.Origin, index int, action actions.Actions) (*ActionReport, error) {
	name := action.String()
	ar := &ActionReport{
		Manifest: origin.Name,
		Index:    index,
		Action:   name,
		Summary:  action.Summarize(),
	}
	logger := state.logger.WithManifest(origin.Name).WithAction(index, name)

	_, span := r.tel.Tracer.StartActionSpan(ctx, origin.Name, index, name)

	planned, err := action.Plan(origin, state.scope)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		r.tel.Metrics.RecordActionPlanned(name, "failed")
		engErr := resolveError(err).WithAction(origin.Name, index, name)
		ar.Error = actions.NewActionError(engErr)
		logger.WithError(err).Error("Failed to resolve action")
		telemetry.EndSpan(span, engErr)
		return ar, engErr
	}

	ar.Steps = planned
	if len(planned) == 0 {
		r.tel.Metrics.RecordActionPlanned(name, "empty")
		logger.Debug("Action resolved to no steps")
	} else {
		r.tel.Metrics.RecordActionPlanned(name, "steps")
		logger.Debugf("Resolved %s into %d steps", ar.Summary, len(planned))
	}
	r.tel.Events.PublishActionResolved(state.report.RunID, origin.Name, name, ar.Summary, len(planned))
	telemetry.EndSpan(span, nil)

	return ar, nil
}

func (r *Runner) evaluatePolicy(ctx context.Context, state *run) error {
	if r.policies == nil {
		return nil
	}

	input := &policy.Input{
		Mode:    string(state.report.Mode),
		Context: state.scope.ToMap(),
		Actions: make([]policy.ActionInput, 0, len(state.report.Actions)),
	}
	for _, ar := range state.report.Actions {
		input.Actions = append(input.Actions, policy.NewActionInput(ar.Manifest, ar.Index, ar.Action, ar.Summary, ar.Steps))
	}

	ctx, span := r.tel.Tracer.StartSpan(ctx, "policy.evaluate")
	result, err := r.policies.Evaluate(ctx, input)
	if err != nil {
		telemetry.EndSpan(span, err)
		if cancelled(err) {
			return cancelledError(err)
		}
		return NewPermanentError(ErrCodePolicyDenied, "policy evaluation failed", err)
	}
	state.report.Policy = result

	for _, warning := range result.Warnings {
		state.logger.Warn(warning)
	}
	for _, v := range result.Violations {
		r.tel.Metrics.RecordPolicyViolation(string(v.Severity))
		r.tel.Events.PublishPolicyViolation(state.report.RunID, v.Policy, string(v.Severity), v.Message)
		state.logger.WithField("policy", v.Policy).Warnf("Policy violation: %s", v)
	}

	if err := result.Check(r.policyMode); err != nil {
		var denied *policy.DeniedError
		if errors.As(err, &denied) {
			err = deniedError(denied)
		}
		telemetry.EndSpan(span, err)
		return err
	}

	telemetry.EndSpan(span, nil)
	return nil
}

func (r *Runner) runAction(ctx context.Context, state *run, ar *ActionReport) error {
	if len(ar.Steps) == 0 {
		ar.Result = &actions.ActionResult{Message: ar.Summary}
		return nil
	}

	logger := state.logger.WithManifest(ar.Manifest).WithAction(ar.Index, ar.Action)
	ctx, span := r.tel.Tracer.StartSpan(ctx, "action."+string(state.report.Mode),
		telemetry.AttrManifest.String(ar.Manifest),
		telemetry.AttrActionIndex.Int(ar.Index),
		telemetry.AttrAction.String(ar.Action),
	)

	list := make([]steps.Step, len(ar.Steps))
	for i, step := range ar.Steps {
		list[i] = traced(ctx, r.tel.Tracer, step)
	}

	var err error
	if state.report.Mode == ModePlan {
		ar.Reports, err = steps.PlanAll(list)
	} else {
		ar.Reports, err = steps.ExecuteAll(ctx, list)
	}

	for i, report := range ar.Reports {
		r.recordAtoms(ctx, state, ar, i, report)
	}

	if err != nil {
		engErr := stepError(err).WithAction(ar.Manifest, ar.Index, ar.Action)
		ar.Error = actions.NewActionError(engErr)
		logger.WithError(err).Errorf("Step %d failed", len(ar.Reports)-1)
		telemetry.EndSpan(span, engErr)
		return engErr
	}

	ar.Result = &actions.ActionResult{Message: ar.Summary}
	logger.Infof("%s: %d executed, %d skipped", ar.Summary, ar.Executed(), ar.Skipped())
	telemetry.EndSpan(span, nil)

	return nil
}

func atomStatus(mode Mode, res steps.AtomResult) stores.AtomStatus {
	switch {
	case res.Err != nil:
		return stores.AtomStatusFailed
	case res.Executed:
		return stores.AtomStatusExecuted
	case !res.Outcome.ShouldRun:
		return stores.AtomStatusSkipped
	case mode == ModePlan:
		return stores.AtomStatusPlanned
	default:
		return stores.AtomStatusFailed
	}
}

func (r *Runner) recordAtoms(ctx context.Context, state *run, ar *ActionReport, stepIndex int, report steps.Report) {
	for _, res := range report.Atoms {
		status := atomStatus(state.report.Mode, res)

		phase := steps.PhasePlan
		if res.Executed {
			phase = steps.PhaseExecute
		}
		r.tel.Metrics.RecordAtom(string(phase), string(status), res.Duration)

		if state.report.Mode == ModeApply {
			r.tel.Events.PublishAtom(state.report.RunID, ar.Manifest, ar.Action, res.Atom, res.Executed, res.Err)
		}

		if !state.recording {
			continue
		}

		record := &stores.AtomRecord{
			RunID:       state.report.RunID,
			Manifest:    ar.Manifest,
			ActionIndex: ar.Index,
			Action:      ar.Action,
			StepIndex:   stepIndex,
			AtomIndex:   res.Index,
			Description: res.Atom,
			Status:      status,
			Duration:    res.Duration,
		}
		if len(res.Outcome.SideEffects) > 0 {
			if data, err := json.Marshal(res.Outcome.SideEffects); err == nil {
				record.SideEffects = string(data)
			}
		}
		if res.Err != nil {
			msg := res.Err.Error()
			record.Error = &msg
		}

		if err := r.store.RecordAtom(context.WithoutCancel(ctx), record); err != nil {
			state.logger.WithError(err).Warn("Failed to record atom")
		}
	}
}

// createRun records the run. The environment namespace is left out of the
// stored context.
func (r *Runner) createRun(ctx context.Context, state *run) {
	if r.store == nil {
		return
	}

	manifestsJSON, err := json.Marshal(state.report.Manifests)
	if err != nil {
		state.logger.WithError(err).Warn("Failed to encode manifests")
		return
	}

	snapshot := map[string]any{}
	for _, name := range []string{contexts.NamespaceOS, contexts.NamespaceUser, contexts.NamespaceVariables} {
		if v, ok := state.scope.Get(name); ok {
			snapshot[name] = v
		}
	}
	contextJSON, err := json.Marshal(snapshot)
	if err != nil {
		state.logger.WithError(err).Warn("Failed to encode run context")
		contextJSON = []byte("{}")
	}

	err = r.store.CreateRun(ctx, &stores.Run{
		ID:        state.report.RunID,
		Mode:      string(state.report.Mode),
		Manifests: string(manifestsJSON),
		Status:    stores.RunStatusRunning,
		StartedAt: state.report.StartedAt,
		Context:   string(contextJSON),
	})
	if err != nil {
		state.logger.WithError(err).Warn("Failed to record run, history disabled for this run")
		return
	}
	state.recording = true
}

func runStatus(err error) stores.RunStatus {
	switch {
	case err == nil:
		return stores.RunStatusSucceeded
	case IsCancelled(err):
		return stores.RunStatusCancelled
	case Code(err) == ErrCodePolicyDenied:
		return stores.RunStatusDenied
	default:
		return stores.RunStatusFailed
	}
}

func (r *Runner) finish(ctx context.Context, state *run, err error) {
	report := state.report
	report.Duration = time.Since(report.StartedAt)
	report.Status = runStatus(err)

	var message *string
	if err != nil {
		report.Error = actions.NewActionError(err)
		msg := err.Error()
		message = &msg

		var engErr *EngineError
		if errors.As(err, &engErr) {
			r.tel.Metrics.RecordError(string(engErr.Class), engErr.Code)
			trace.SpanFromContext(ctx).SetAttributes(telemetry.AttrErrorCode.String(engErr.Code))
		}
		r.tel.Events.PublishRunFailed(report.RunID, msg)
		state.logger.WithError(err).Errorf("%s failed", report.Mode)
	} else {
		r.tel.Events.PublishRunCompleted(report.RunID, report.Executed(), report.Skipped(), report.Duration)
		state.logger.Infof("%s completed: %d executed, %d skipped in %s",
			report.Mode, report.Executed(), report.Skipped(), report.Duration.Round(time.Millisecond))
	}
	r.tel.Metrics.RecordRunCompleted(string(report.Status), report.Duration)

	if !state.recording {
		return
	}

	storeCtx := context.WithoutCancel(ctx)
	if err := r.store.FinishRun(storeCtx, report.RunID, report.Status, report.Executed(), report.Skipped(), message); err != nil {
		state.logger.WithError(err).Warn("Failed to record run result")
	}
	if report.Mode == ModeApply && r.keep > 0 {
		removed, err := r.store.PruneRuns(storeCtx, r.keep)
		if err != nil {
			state.logger.WithError(err).Warn("Failed to prune run history")
		} else if removed > 0 {
			state.logger.Debugf("Pruned %d runs from history", removed)
		}
	}
}

// persistEvent stores a published event with its run.
func (r *Runner) persistEvent(event telemetry.Event) {
	record := &stores.Event{
		Type:      event.Type,
		Level:     stores.EventLevel(event.Level),
		Message:   event.Message,
		Timestamp: event.Timestamp,
	}
	if event.RunID != "" {
		record.RunID = &event.RunID
	}
	if event.Manifest != "" {
		record.Manifest = &event.Manifest
	}
	if event.Action != "" {
		record.Action = &event.Action
	}
	if len(event.Data) > 0 {
		if data, err := json.Marshal(event.Data); err == nil {
			details := string(data)
			record.Details = &details
		}
	}

	if err := r.store.AppendEvent(context.Background(), record); err != nil {
		r.logger.WithError(err).Debug("Failed to record event")
	}
}
