package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/codes"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{
			name: "bad exporter",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "jaeger"
			},
			wantErr: "invalid trace exporter",
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "requires an endpoint",
		},
		{name: "sampling rate", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggerWritesFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifold.log")
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	require.NoError(t, err)

	logger.NewComponentLogger("engine").
		WithRunID("run-1").
		WithManifest("base").
		WithAction(2, "command.run").
		WithError(errors.New("boom")).
		Error("action failed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, `"component":"engine"`)
	assert.Contains(t, line, `"run_id":"run-1"`)
	assert.Contains(t, line, `"manifest":"base"`)
	assert.Contains(t, line, `"action_index":2`)
	assert.Contains(t, line, `"action":"command.run"`)
	assert.Contains(t, line, `"error":"boom"`)
	assert.Contains(t, line, `"message":"action failed"`)
}

func TestLoggerLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifold.log")
	logger, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestFromContextFallsBackToNop(t *testing.T) {
	logger := FromContext(context.Background())
	require.NotNil(t, logger)
	logger.Info("goes nowhere")
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordRunStarted("apply")
	m.RecordActionPlanned("command.run", "steps")
	m.RecordAtom("execute", "executed", 10*time.Millisecond)
	m.RecordAtom("plan", "skipped", 0)
	m.RecordConditionError()
	m.RecordPolicyViolation("warning")
	m.RecordError("permanent", "EXECUTE_FAILED")
	m.RecordRunCompleted("failed", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `manifold_runs_started_total{mode="apply"} 1`)
	assert.Contains(t, out, `manifold_runs_completed_total{status="failed"} 1`)
	assert.Contains(t, out, `manifold_actions_planned_total{action="command.run",result="steps"} 1`)
	assert.Contains(t, out, `manifold_atoms_total{phase="execute",result="executed"} 1`)
	assert.Contains(t, out, `manifold_atoms_total{phase="plan",result="skipped"} 1`)
	assert.Contains(t, out, `manifold_condition_errors_total 1`)
	assert.Contains(t, out, `manifold_errors_total{class="permanent",code="EXECUTE_FAILED"} 1`)
	assert.Contains(t, out, `manifold_active_runs 0`)
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	require.NoError(t, err)

	m.RecordRunStarted("apply")
	m.RecordAtom("execute", "failed", time.Second)
	m.RecordConditionError()
	require.NoError(t, m.StartMetricsServer(t.Context()))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestTracerSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewTracerWithProvider(provider, "manifold")

	ctx, run := tracer.StartRunSpan(context.Background(), "run-1", "apply")
	actx, action := tracer.StartActionSpan(ctx, "base", 0, "git.clone")
	EndSpan(action, nil)
	_, atom := tracer.StartAtomSpan(actx, "execute", "GitClone repo#HEAD to dir")
	EndSpan(atom, errors.New("clone failed"))
	EndSpan(run, errors.New("clone failed"))

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "action.plan", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "atom.execute", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "run.apply", spans[2].Name())
	assert.Equal(t, spans[2].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
	assert.NotEmpty(t, TraceID(ctx))

	require.NoError(t, tracer.Shutdown(context.Background()))
}

func TestEventPublisher(t *testing.T) {
	ep := NewEventPublisher()

	var all, failures []Event
	ep.Subscribe(func(e Event) { all = append(all, e) }, nil)
	ep.Subscribe(func(e Event) { failures = append(failures, e) }, FilterByLevel(EventLevelError))

	ep.PublishRunStarted("run-1", "apply", []string{"base"})
	ep.PublishActionResolved("run-1", "base", "command.run", "Run command true", 1)
	ep.PublishAtom("run-1", "base", "command.run", "CommandExec true", true, nil)
	ep.PublishAtom("run-1", "base", "command.run", "CommandExec false", false, errors.New("exit status 1"))
	ep.PublishRunFailed("run-1", "exit status 1")

	require.Len(t, all, 5)
	assert.Equal(t, EventTypeRunStarted, all[0].Type)
	assert.Equal(t, EventTypeAtomExecuted, all[2].Type)
	assert.Equal(t, EventTypeAtomFailed, all[3].Type)
	assert.Equal(t, EventLevelError, all[3].Level)
	for _, e := range all {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.Timestamp.IsZero())
	}

	require.Len(t, failures, 2)
	assert.Equal(t, EventTypeAtomFailed, failures[0].Type)
	assert.Equal(t, EventTypeRunFailed, failures[1].Type)
}

func TestFilterByLevel(t *testing.T) {
	filter := FilterByLevel(EventLevelWarning)
	assert.False(t, filter(Event{Level: EventLevelInfo}))
	assert.True(t, filter(Event{Level: EventLevelWarning}))
	assert.True(t, filter(Event{Level: EventLevelError}))
}

func TestNilPublisherIgnoresEvents(t *testing.T) {
	var ep *EventPublisher
	ep.PublishRunStarted("run-1", "plan", nil)
}

func TestNewTelemetry(t *testing.T) {
	tel, err := NewTelemetry(DiscardConfig())
	require.NoError(t, err)

	ctx := tel.WithContext(context.Background())
	assert.Same(t, tel, FromTelemetryContext(ctx))
	assert.Same(t, tel.Logger, FromContext(ctx))
	assert.Nil(t, FromTelemetryContext(context.Background()))

	op := StartOperation(ctx, "manifests.load")
	require.NotNil(t, op.Span)
	op.End(errors.New("failed"))

	require.NoError(t, tel.Shutdown(context.Background()))
}
