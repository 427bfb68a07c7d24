// Package telemetry provides observability for manifold runs.
//
// It bundles structured logging (zerolog), tracing (OpenTelemetry),
// Prometheus metrics and a synchronous event publisher into a single
// Telemetry value that the engine threads through a run.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
//	logger := tel.Logger.NewComponentLogger("engine")
//	logger.WithRunID(runID).WithManifest("base").Info("resolving actions")
//
// # Tracing
//
// A run produces one root span ("run.apply" or "run.plan"), an
// "action.plan" span per action and an "atom.plan" or "atom.execute" span
// per atom. Exporters: otlp, stdout, none.
//
// # Metrics
//
// Counters cover runs, resolved actions, atoms by phase and result,
// where-expression errors, policy violations and classified errors. When
// a listen address is configured they are served at /metrics.
//
// # Events
//
// The run history store subscribes to the event publisher:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    _ = store.AppendEvent(ctx, e)
//	}, telemetry.FilterByLevel(telemetry.EventLevelInfo))
package telemetry
