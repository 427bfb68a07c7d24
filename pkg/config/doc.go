// Package config loads the manifold configuration file.
//
// The file is YAML and decoded strictly on top of Default, so a file only
// needs the keys it changes:
//
//	manifests: [~/dotfiles/manifests]
//	variables:
//	  editor: vim
//	store:
//	  path: history.db
//	  keep: 50
//	policy:
//	  mode: advisory
//	  paths: [policies]
//	conditions:
//	  timeout: 2s
//	  max_steps: 100000
//	telemetry:
//	  logging:
//	    level: debug
//
// Relative paths are resolved against the directory of the file. Values are
// validated with go-playground/validator; command line flags override them.
package config
