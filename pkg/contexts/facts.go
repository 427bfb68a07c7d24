package contexts

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"
)

// Options controls which facts Build collects.
type Options struct {
	// Variables are operator supplied values, exposed under "variables" and at
	// the top level.
	Variables map[string]any

	// IncludeEnv adds the process environment under "env".
	IncludeEnv bool

	// OSReleasePath overrides the os-release file used for distribution facts.
	OSReleasePath string
}

// Build collects the facts of the local machine and returns the run context.
func Build(opts Options) (Contexts, error) {
	values := make(map[string]any)

	osFacts, err := collectOSFacts(opts.OSReleasePath)
	if err != nil {
		return Contexts{}, fmt.Errorf("failed to collect os facts: %w", err)
	}
	values[NamespaceOS] = osFacts

	userFacts, err := collectUserFacts()
	if err != nil {
		// Containers frequently run with a uid that has no passwd entry.
		log.Warn().Err(err).Msg("Failed to collect user facts")
		userFacts = map[string]any{}
	}
	values[NamespaceUser] = userFacts

	if opts.IncludeEnv {
		values[NamespaceEnv] = collectEnvFacts()
	} else {
		values[NamespaceEnv] = map[string]any{}
	}

	variables := make(map[string]any, len(opts.Variables))
	for k, v := range opts.Variables {
		if err := checkValue(v); err != nil {
			return Contexts{}, fmt.Errorf("variable %q: %w", k, err)
		}
		variables[k] = v
	}
	values[NamespaceVariables] = variables

	for k, v := range opts.Variables {
		if isNamespace(k) {
			log.Warn().Str("variable", k).Msg("Variable shadows a context namespace, only reachable via variables")
			continue
		}
		values[k] = v
	}

	return New(values), nil
}

func isNamespace(name string) bool {
	switch name {
	case NamespaceOS, NamespaceUser, NamespaceEnv, NamespaceVariables:
		return true
	}
	return false
}

// collectOSFacts collects OS information.
func collectOSFacts(releasePath string) (map[string]any, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	facts := map[string]any{
		"name":         runtime.GOOS,
		"family":       osFamily(runtime.GOOS),
		"arch":         runtime.GOARCH,
		"hostname":     hostname,
		"distribution": "",
		"version":      "",
		"codename":     "",
	}

	if runtime.GOOS != "linux" && releasePath == "" {
		return facts, nil
	}

	if releasePath == "" {
		releasePath = "/etc/os-release"
	}
	release, err := readOSRelease(releasePath)
	if err != nil {
		log.Debug().Err(err).Str("path", releasePath).Msg("No os-release information")
		return facts, nil
	}
	for k, v := range release {
		facts[k] = v
	}

	return facts, nil
}

// readOSRelease parses an os-release(5) file.
func readOSRelease(path string) (map[string]string, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	section := cfg.Section(ini.DefaultSection)

	return map[string]string{
		"distribution": strings.ToLower(section.Key("ID").String()),
		"version":      section.Key("VERSION_ID").String(),
		"codename":     section.Key("VERSION_CODENAME").String(),
	}, nil
}

func osFamily(goos string) string {
	switch goos {
	case "windows":
		return "windows"
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos":
		return "unix"
	default:
		return goos
	}
}

// collectUserFacts collects information about the invoking user.
func collectUserFacts() (map[string]any, error) {
	u, err := user.Current()
	if err != nil {
		return nil, err
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(u.HomeDir, ".config")
	}

	return map[string]any{
		"name":       u.Username,
		"id":         u.Uid,
		"home_dir":   u.HomeDir,
		"config_dir": configDir,
	}, nil
}

func collectEnvFacts() map[string]any {
	env := make(map[string]any)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}
