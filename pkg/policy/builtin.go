package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedPathsPolicy(),
		privilegedCommandsPolicy(),
		insecureDownloadsPolicy(),
	}
}

// protectedPathsPolicy refuses plans that delete the filesystem root, the
// user's home directory or a top-level system directory.
func protectedPathsPolicy() Policy {
	return Policy{
		Name:        "protected-paths",
		Description: "Forbids removing the filesystem root, the home directory or system directories",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"filesystem", "safety"},
		Rego: `package manifold.policies.paths

import rego.v1

system_dirs := {"/bin", "/boot", "/dev", "/etc", "/lib", "/proc", "/sbin", "/sys", "/usr", "/var"}

removals contains {"action": action, "atom": atom} if {
	some action in input.actions
	some atom in action.atoms
	atom.type in {"directory.remove", "file.remove"}
}

normalized(path) := "/" if trim_right(path, "/") == ""

normalized(path) := trimmed if {
	trimmed := trim_right(path, "/")
	trimmed != ""
}

deny contains violation if {
	some r in removals
	normalized(r.atom.path) == "/"
	violation := {
		"message": "refusing to remove the filesystem root",
		"manifest": r.action.manifest,
		"action": r.action.action,
	}
}

deny contains violation if {
	some r in removals
	home := input.context.user.home_dir
	home != ""
	normalized(r.atom.path) == normalized(home)
	violation := {
		"message": sprintf("refusing to remove the home directory %s", [home]),
		"manifest": r.action.manifest,
		"action": r.action.action,
	}
}

deny contains violation if {
	some r in removals
	normalized(r.atom.path) in system_dirs
	violation := {
		"message": sprintf("refusing to remove system directory %s", [r.atom.path]),
		"manifest": r.action.manifest,
		"action": r.action.action,
	}
}
`,
	}
}

// privilegedCommandsPolicy reports every command that runs as root.
func privilegedCommandsPolicy() Policy {
	return Policy{
		Name:        "privileged-commands",
		Description: "Reports commands that run with elevated privileges",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"commands", "audit"},
		Rego: `package manifold.policies.privileged

import rego.v1

deny contains violation if {
	some action in input.actions
	some atom in action.atoms
	atom.type == "command.exec"
	atom.privileged
	violation := {
		"message": sprintf("privileged command: %s", [atom.description]),
		"manifest": action.manifest,
		"action": action.action,
	}
}
`,
	}
}

// insecureDownloadsPolicy reports downloads and clones over plain HTTP.
func insecureDownloadsPolicy() Policy {
	return Policy{
		Name:        "insecure-downloads",
		Description: "Reports downloads and clones that do not use TLS",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"network", "supply-chain"},
		Rego: `package manifold.policies.downloads

import rego.v1

deny contains violation if {
	some action in input.actions
	some atom in action.atoms
	atom.type in {"http.download", "git.clone"}
	startswith(lower(atom.url), "http://")
	violation := {
		"message": sprintf("%s fetches over plain http: %s", [atom.type, atom.url]),
		"manifest": action.manifest,
		"action": action.action,
	}
}
`,
	}
}
