// Package manifests loads provisioning manifests and orders them by their
// declared dependencies.
//
// A manifest is a YAML (.yaml, .yml) or CUE (.cue) document:
//
//	name: dev.tools
//	depends: [base]
//	actions:
//	  - action: package.install
//	    list: [git, curl]
//
// The name defaults to the file name without extension. Files referenced by
// copy and link actions live in a "files" directory next to the manifest;
// directories named "files" are never scanned for manifests.
package manifests
