package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openfroyo/manifold/pkg/atoms/command"
	"github.com/rs/zerolog"
)

const denyEcho = `# Flags echo commands.
# Second line.
package manifold.test.echo

import rego.v1

deny contains "echo is not allowed" if {
	some action in input.actions
	some atom in action.atoms
	atom.command == "echo"
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "no-echo.rego")
	writeFile(t, policyFile, denyEcho)

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "no-echo" {
		t.Errorf("Expected name 'no-echo', got '%s'", policy.Name)
	}
	if policy.Description != "Flags echo commands. Second line." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityWarning || !policy.Enabled {
		t.Errorf("Unexpected defaults: %+v", policy)
	}
	if policy.Source != policyFile {
		t.Errorf("Expected source %s, got %s", policyFile, policy.Source)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	policyFile := filepath.Join(t.TempDir(), "from-json.json")

	data, err := json.Marshal(map[string]any{
		"description": "json policy",
		"rego":        denyEcho,
		"severity":    "error",
	})
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writeFile(t, policyFile, string(data))

	policy, err := loader.loadFromFile(policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "from-json" {
		t.Errorf("Expected name from file stem, got %s", policy.Name)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity error, got %s", policy.Severity)
	}
	if !policy.Enabled {
		t.Error("JSON policies are enabled unless they say otherwise")
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	tests := map[string]string{
		"policy.txt":   "anything",
		"invalid.json": "{not json",
		"empty.json":   `{"name": "empty"}`,
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			writeFile(t, path, content)
			if _, err := loader.loadFromFile(path); err == nil {
				t.Errorf("Expected error loading %s", name)
			}
		})
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.rego"), denyEcho)
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), denyEcho)
	writeFile(t, filepath.Join(dir, "nested", "broken.json"), "{")
	writeFile(t, filepath.Join(dir, "README.md"), "# docs")
	single := filepath.Join(t.TempDir(), "single.rego")
	writeFile(t, single, denyEcho)

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir, single})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	names := map[string]bool{}
	for _, p := range policies {
		names[p.Name] = true
	}
	if len(policies) != 3 || !names["a"] || !names["b"] || !names["single"] {
		t.Errorf("Unexpected policies: %v", names)
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "no-echo.rego"), denyEcho)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), planInput(&command.Exec{Command: "echo"}))
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Violations) != 1 || result.Violations[0].Message != "echo is not allowed" {
		t.Errorf("Unexpected violations %+v", result.Violations)
	}
	if !result.Allowed {
		t.Error("Warning severity must not block")
	}
}

func TestEngineWatchReloads(t *testing.T) {
	dir := t.TempDir()
	policyFile := filepath.Join(dir, "no-echo.rego")
	writeFile(t, policyFile, denyEcho)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	writeFile(t, policyFile, `package manifold.test.echo

import rego.v1

deny contains "reloaded" if {
	input.mode == "apply"
}
`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := eng.Evaluate(context.Background(), planInput())
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		for _, v := range result.Violations {
			if v.Message == "reloaded" {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Policy was not reloaded after the file changed")
}

func TestEngineCloseStopsWatching(t *testing.T) {
	dir := t.TempDir()
	policyFile := filepath.Join(dir, "no-echo.rego")
	writeFile(t, policyFile, denyEcho)

	eng := newTestEngine(t)
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Failed to stop watching: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	writeFile(t, policyFile, `package manifold.test.echo

import rego.v1

deny contains "reloaded" if {
	input.mode == "apply"
}
`)

	time.Sleep(reloadDelay + 300*time.Millisecond)

	result, err := eng.Evaluate(context.Background(), planInput())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	for _, v := range result.Violations {
		if v.Message == "reloaded" {
			t.Fatal("Policy was reloaded after watching stopped")
		}
	}
}
