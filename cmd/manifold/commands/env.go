package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/manifold/pkg/config"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/engine"
	"github.com/openfroyo/manifold/pkg/manifests"
	"github.com/openfroyo/manifold/pkg/policy"
	"github.com/openfroyo/manifold/pkg/stores"
	"github.com/openfroyo/manifold/pkg/telemetry"
)

// environment holds what a command needs to run manifests.
type environment struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	policies *policy.Engine
	mode     policy.Mode
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	cfg.Telemetry.ServiceVersion = buildVersion
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	vars, err := parseVariables(variables)
	if err != nil {
		return nil, err
	}
	if cfg.Variables == nil {
		cfg.Variables = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		cfg.Variables[k] = v
	}

	return cfg, nil
}

// parseVariables parses key=value pairs. Values are decoded as YAML scalars so
// numbers and booleans keep their type.
func parseVariables(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", pair)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		vars[key] = value
	}
	return vars, nil
}

// newEnvironment sets up telemetry, the run history and the policy engine.
func newEnvironment(ctx context.Context, cfg *config.Config, withStore bool) (*environment, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	log.Logger = tel.Logger.Zerolog()

	env := &environment{cfg: cfg, tel: tel}

	if withStore && cfg.Store.Enabled {
		store, err := stores.Open(ctx, cfg.Store.Path)
		if err != nil {
			env.Close(ctx)
			return nil, fmt.Errorf("failed to open run history: %w", err)
		}
		env.store = store
	}

	if cfg.Policy.Enabled {
		if err := env.setupPolicies(ctx); err != nil {
			env.Close(ctx)
			return nil, err
		}
	}

	return env, nil
}

func (e *environment) setupPolicies(ctx context.Context) error {
	mode, err := e.cfg.PolicyMode()
	if err != nil {
		return err
	}

	policies, err := newPolicyEngine(ctx, e.cfg, e.tel.Logger.Zerolog())
	if err != nil {
		return err
	}

	e.policies = policies
	e.mode = mode
	return nil
}

// newPolicyEngine compiles the built-in and configured policies and applies
// the enable and disable lists.
func newPolicyEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*policy.Engine, error) {
	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if !cfg.Policy.Builtin {
		for _, p := range policy.BuiltinPolicies() {
			if err := policies.DisablePolicy(p.Name); err != nil {
				return nil, err
			}
		}
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := policies.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Policy.Enable {
		if err := policies.EnablePolicy(name); err != nil {
			return nil, err
		}
	}
	for _, name := range cfg.Policy.Disable {
		if err := policies.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// Close stops policy watches, releases the store and flushes traces.
func (e *environment) Close(ctx context.Context) {
	if e.policies != nil {
		if err := e.policies.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop watching policies")
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close run history")
		}
	}
	if err := e.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}
}

func (e *environment) runner() *engine.Runner {
	opts := []engine.Option{
		engine.WithTelemetry(e.tel),
		engine.WithEvaluator(e.cfg.Evaluator()),
	}
	if e.policies != nil {
		opts = append(opts, engine.WithPolicy(e.policies, e.mode))
	}
	if e.store != nil {
		opts = append(opts,
			engine.WithStore(e.store, e.cfg.Store.Keep),
			engine.WithEventLevel(e.cfg.Store.Events),
		)
	}
	return engine.NewRunner(opts...)
}

// manifestPaths returns the paths named on the command line, falling back to
// the configured ones.
func manifestPaths(cfg *config.Config, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(cfg.Manifests) > 0 {
		return cfg.Manifests, nil
	}
	return nil, errors.New("no manifests given and none configured")
}

func loadManifests(ctx context.Context, paths []string) ([]*manifests.Manifest, error) {
	op := telemetry.StartOperation(ctx, "manifests.load")

	loader, err := manifests.NewLoader()
	if err != nil {
		op.End(err)
		return nil, err
	}
	list, err := loader.LoadPaths(paths...)
	op.End(err)
	if err != nil {
		return nil, err
	}

	op.Logger.WithField("duration", op.Timer.Duration().String()).Debugf("Loaded %d manifests", len(list))
	return list, nil
}

func buildContexts(cfg *config.Config, includeEnv bool) (contexts.Contexts, error) {
	return contexts.Build(contexts.Options{
		Variables:  cfg.Variables,
		IncludeEnv: includeEnv,
	})
}
