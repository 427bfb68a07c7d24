package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/manifold/pkg/conditions"
	"github.com/openfroyo/manifold/pkg/policy"
	"github.com/openfroyo/manifold/pkg/telemetry"
)

// FileName is the configuration file looked up in the manifold config directory.
const FileName = "config.yaml"

// Config is the manifold configuration file.
type Config struct {
	// Manifests are the manifest files or directories applied when the
	// command line names none.
	Manifests []string `yaml:"manifests" validate:"dive,required"`

	// Variables are exposed to conditions and templates.
	Variables map[string]any `yaml:"variables"`

	// Store configures the run history.
	Store StoreConfig `yaml:"store"`

	// Policy configures the guard rails evaluated before execution.
	Policy PolicyConfig `yaml:"policy"`

	// Conditions bounds the evaluation of guard conditions.
	Conditions ConditionsConfig `yaml:"conditions"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Dir is the directory of the loaded file. Relative paths are resolved
	// against it.
	Dir string `yaml:"-"`
}

// StoreConfig configures the SQLite run history.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`

	// Keep is the number of runs retained after each apply. Zero keeps all.
	Keep int `yaml:"keep" validate:"gte=0"`

	// Events is the lowest event level recorded with a run.
	Events string `yaml:"events" validate:"omitempty,oneof=info warning error"`
}

// PolicyConfig configures policy evaluation.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Builtin loads the policies shipped with manifold.
	Builtin bool `yaml:"builtin"`

	// Paths are additional .rego or .json policy files and directories.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Enable and Disable switch policies by name after loading.
	Enable  []string `yaml:"enable" validate:"dive,required"`
	Disable []string `yaml:"disable" validate:"dive,required"`

	// Mode is enforcing or advisory.
	Mode string `yaml:"mode" validate:"omitempty,oneof=enforcing advisory"`
}

// ConditionsConfig bounds guard condition evaluation.
type ConditionsConfig struct {
	Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxSteps uint64        `yaml:"max_steps"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Variables: map[string]any{},
		Store: StoreConfig{
			Enabled: true,
			Path:    DefaultStorePath(),
			Keep:    100,
			Events:  telemetry.EventLevelInfo,
		},
		Policy: PolicyConfig{
			Enabled: true,
			Builtin: true,
			Mode:    string(policy.ModeEnforcing),
		},
		Conditions: ConditionsConfig{
			Timeout:  conditions.DefaultTimeout,
			MaxSteps: conditions.DefaultMaxSteps,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Dir returns the manifold configuration directory.
func Dir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "manifold")
	}
	return ".manifold"
}

// DefaultPath returns the default configuration file path.
func DefaultPath() string {
	return filepath.Join(Dir(), FileName)
}

// DefaultStorePath returns the default run history database path.
func DefaultStorePath() string {
	return filepath.Join(Dir(), "history.db")
}

// Load reads the configuration file at path on top of the defaults. A missing
// file at the default path is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.Dir = filepath.Dir(path)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config directory: %w", err)
	}
	cfg.Dir = abs
	cfg.resolvePaths()

	return cfg, nil
}

// Parse decodes a configuration document over the defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}

	return nil
}

// PolicyMode returns the parsed policy mode.
func (c *Config) PolicyMode() (policy.Mode, error) {
	return policy.ParseMode(c.Policy.Mode)
}

// Evaluator returns the condition evaluator configured by the file.
func (c *Config) Evaluator() *conditions.StarlarkEvaluator {
	return conditions.NewStarlarkEvaluator(c.Conditions.Timeout, c.Conditions.MaxSteps)
}

func (c *Config) resolvePaths() {
	for i, p := range c.Manifests {
		c.Manifests[i] = c.resolve(p)
	}
	for i, p := range c.Policy.Paths {
		c.Policy.Paths[i] = c.resolve(p)
	}
	if c.Store.Path != "" && c.Store.Path != ":memory:" {
		c.Store.Path = c.resolve(c.Store.Path)
	}
}

func (c *Config) resolve(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) || c.Dir == "" {
		return path
	}
	return filepath.Join(c.Dir, path)
}
