// Package policy guards manifold runs with Open Policy Agent (OPA) policies.
//
// After every action of a run has been resolved into steps, the engine
// describes the plan as an Input document and evaluates each enabled Rego
// policy against it. A policy contributes violations through a "deny" set:
//
//	package manifold.policies.custom
//
//	import rego.v1
//
//	deny contains violation if {
//		some action in input.actions
//		some atom in action.atoms
//		atom.type == "command.exec"
//		atom.command == "curl"
//		violation := {
//			"message": "use file.download instead of curl",
//			"severity": "error",
//			"manifest": action.manifest,
//			"action": action.action,
//		}
//	}
//
// Violations with severity error or critical block execution in enforcing
// mode; advisory mode only reports them.
//
// # Built-in Policies
//
//   - protected-paths: refuses removal of /, the home directory and system directories
//   - privileged-commands: reports commands run through sudo
//   - insecure-downloads: reports plain-http downloads and clones
//
// Additional policies are read from .rego files (named after the file,
// severity warning) or .json files carrying a full Policy document.
package policy
