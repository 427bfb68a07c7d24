// Package contexts builds the read-only run context that guard conditions and
// templates are evaluated against.
//
// A context is organised in namespaces:
//
//   - os: name, family, arch, hostname, distribution, version, codename
//   - user: name, id, home_dir, config_dir
//   - env: the process environment
//   - variables: values supplied by the operator
//
// Operator variables are additionally exposed as top-level names as long as they
// do not shadow a namespace, so a manifest may write `where: Debian` or
// `where: os.distribution == "debian"`.
//
// A Contexts value is built once per run and never mutated afterwards.
package contexts
