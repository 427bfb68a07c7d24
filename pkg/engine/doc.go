// Package engine runs manifests against the local machine.
//
// A run goes through four stages:
//
//  1. Order - manifests are sorted by their depends lists.
//  2. Resolve - every action is resolved against the run context into steps.
//     Variant conditions that fail to evaluate are logged and skipped; a
//     failing top-level condition ends the run.
//  3. Policy - the resolved plan is evaluated by the policy engine. In
//     enforcing mode blocking violations deny the plan before anything runs.
//  4. Execute - steps run atom by atom. Each atom is planned and executed only
//     when its plan asks for it. The first failure ends the run.
//
// Runner.Plan stops after planning the atoms of stage 4 and changes nothing.
//
// # Error Classification
//
// Failures are returned as *EngineError with a class and a code:
//
//   - SCHEMA_ERROR: unknown or circular manifest dependencies
//   - CONDITION_FAILED: a top-level condition could not be evaluated
//   - PLAN_FAILED: an action or atom failed to plan
//   - EXECUTE_FAILED: an atom failed to execute
//   - POLICY_DENIED: the plan was denied
//   - CANCELLED: the context was cancelled
//
// # Telemetry
//
// Runs are traced (run, action and atom spans), counted in prometheus metrics
// and published as events. With a store configured the run, its atoms and its
// events are recorded in the run history.
package engine
