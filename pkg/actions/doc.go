// Package actions turns declared manifest actions into executable steps.
//
// Every action kind wraps a typed payload in a ConditionalVariantAction, which
// adds an optional guard condition ("where") and an ordered list of variants.
// Resolution picks the first variant whose condition holds; otherwise the
// default payload is used, gated by the top-level condition when one is set.
//
// A variant whose condition fails to evaluate is logged and treated as not
// matching. A top-level condition that fails to evaluate aborts resolution.
//
// Actions is the closed union of all kinds. It is decoded from YAML using the
// "action" key as discriminator; canonical names and their aliases decode to
// identical values, and unknown fields are rejected.
package actions
