package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/manifold/pkg/telemetry"
)

// Example_eventFiltering shows a subscriber that only sees failures.
func Example_eventFiltering() {
	tel := telemetry.Discard()

	tel.Events.Subscribe(func(e telemetry.Event) {
		fmt.Printf("%s: %s\n", e.Type, e.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelError))

	tel.Events.PublishRunStarted("run-1", "apply", []string{"base"})
	tel.Events.PublishAtom("run-1", "base", "command.run", "CommandExec echo hi", true, nil)
	tel.Events.PublishAtom("run-1", "base", "command.run", "CommandExec false", false, fmt.Errorf("exit status 1"))
	tel.Events.PublishRunCompleted("run-1", 1, 0, time.Second)

	// Output:
	// atom.failed: CommandExec false
}

// Example_instrumentedOperation shows a span wrapped around one unit of work.
func Example_instrumentedOperation() {
	tel := telemetry.Discard()
	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, "manifests.load")
	op.Logger.Debug("loading manifests")
	op.End(nil)

	fmt.Println(op.Span != nil)
	// Output: true
}
