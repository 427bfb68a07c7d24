package manifests

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/manifold/pkg/actions"
	"github.com/openfroyo/manifold/pkg/contexts"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	return l
}

const gitManifest = `
depends: [base]
actions:
  - action: cmd.run
    command: echo
    args: [hi]
    variants:
      - where: Debian
        command: halt
  - action: package.install
    list: [git]
    where: os.family == "unix"
`

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "git.yaml")
	writeFile(t, path, gitManifest)

	m, err := newLoader(t).Load(path)
	require.NoError(t, err)

	assert.Equal(t, "git", m.Name)
	assert.Equal(t, []string{"base"}, m.Depends)
	assert.Equal(t, filepath.Dir(m.Source), m.Root)
	require.Len(t, m.Actions, 2)
	assert.Equal(t, actions.KindCommandRun, m.Actions[0].Kind())
	assert.Equal(t, "command.run", m.Actions[0].String())
	assert.Equal(t, actions.KindPackageInstall, m.Actions[1].Kind())

	origin := m.Origin(nil)
	assert.Equal(t, "git", origin.Name)
	assert.Equal(t, m.Root, origin.Root)
}

func TestParse_SharedAnchors(t *testing.T) {
	m, err := Parse([]byte(`
actions:
  - action: command.run
    command: echo
    args: &common [--color, never]
  - action: command.run
    command: ls
    args: *common
`))
	require.NoError(t, err)
	require.Len(t, m.Actions, 2)

	for _, a := range m.Actions {
		run, ok := actions.As[actions.RunCommand](a)
		require.True(t, ok)
		assert.Equal(t, []string{"--color", "never"}, run.Action.Args)
	}
}

func TestLoad_ExplicitName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file.yml")
	writeFile(t, path, "name: custom\nactions: []\n")

	m, err := newLoader(t).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", m.Name)
	assert.Empty(t, m.Actions)
}

func TestLoad_CUE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.cue")
	writeFile(t, path, `
_pkgs: ["git", "curl"]

depends: ["base"]
actions: [
	{
		action: "package.install"
		list:   _pkgs
	},
	{
		action: "command.run"
		command: "echo"
		args: ["hi"]
		where: false
		variants: [{where: "Debian", command: "halt"}]
	},
]
`)

	m, err := newLoader(t).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tools", m.Name)
	assert.Equal(t, []string{"base"}, m.Depends)
	require.Len(t, m.Actions, 2)

	install, ok := actions.As[actions.PackageInstall](m.Actions[0])
	require.True(t, ok)
	assert.Equal(t, []string{"git", "curl"}, install.Action.List)

	run, ok := actions.As[actions.RunCommand](m.Actions[1])
	require.True(t, ok)
	assert.Equal(t, "False", run.Condition)
	require.Len(t, run.Variants, 1)
	assert.Equal(t, "halt", run.Variants[0].Action.Command)

	planned, err := m.Actions[1].InnerRef().Plan(m.Origin(nil), contexts.New(map[string]any{"Debian": true}))
	require.NoError(t, err)
	require.Len(t, planned, 1)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantMsg string
	}{
		{name: "unknown manifest field", file: "a.yaml", content: "actions: []\nhosts: [web]\n", wantMsg: "hosts"},
		{name: "unknown action field", file: "b.yaml", content: "actions:\n  - action: file.remove\n    target: /tmp/x\n    force: true\n", wantMsg: "force"},
		{name: "empty file", file: "c.yaml", content: "", wantMsg: "empty manifest"},
		{name: "cue schema violation", file: "d.cue", content: "actions: \"nope\"\n", wantMsg: "actions"},
		{name: "cue missing discriminator", file: "e.cue", content: "actions: [{command: \"echo\"}]\n", wantMsg: "action"},
		{name: "cue unknown manifest field", file: "f.cue", content: "actions: []\nhosts: []\n", wantMsg: "hosts"},
		{name: "cue syntax error", file: "g.cue", content: "actions: [\n", wantMsg: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			_, err := newLoader(t).Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)

			var loadErr *LoadError
			require.True(t, errors.As(err, &loadErr))
			assert.Equal(t, path, loadErr.Path)
		})
	}
}

func TestLoadPaths(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "base.yaml"), "actions: []\n")
	writeFile(t, filepath.Join(root, "dev", "git.yml"), "depends: [base]\nactions: []\n")
	writeFile(t, filepath.Join(root, "dev", "files", "ignored.yaml"), "not: a manifest\n")
	writeFile(t, filepath.Join(root, ".hidden", "ignored.yaml"), "not: a manifest\n")
	writeFile(t, filepath.Join(root, "README.md"), "# docs\n")

	extra := filepath.Join(t.TempDir(), "extra.yaml")
	writeFile(t, extra, "actions: []\n")

	list, err := newLoader(t).LoadPaths(root, extra)
	require.NoError(t, err)

	var names []string
	for _, m := range list {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{"base", "dev.git", "extra"}, names)
}

func TestLoadPaths_DuplicateName(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.yaml"), "name: same\nactions: []\n")
	writeFile(t, filepath.Join(root, "b.yaml"), "name: same\nactions: []\n")

	_, err := newLoader(t).LoadPaths(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate manifest name")
}

func TestLoadPaths_Missing(t *testing.T) {
	_, err := newLoader(t).LoadPaths(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func manifest(name string, depends ...string) *Manifest {
	return &Manifest{Name: name, Depends: depends}
}

func names(list []*Manifest) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Name
	}
	return out
}

func TestOrder(t *testing.T) {
	list := []*Manifest{
		manifest("zsh", "base"),
		manifest("app", "git", "zsh"),
		manifest("git", "base"),
		manifest("base"),
		manifest("alone"),
	}

	ordered, err := Order(list)
	require.NoError(t, err)
	assert.Equal(t, []string{"alone", "base", "git", "zsh", "app"}, names(ordered))
}

func TestOrder_UnknownDependency(t *testing.T) {
	_, err := Order([]*Manifest{manifest("app", "ghost")})
	require.Error(t, err)

	var depErr *DependencyError
	require.True(t, errors.As(err, &depErr))
	assert.Equal(t, "app", depErr.Manifest)
	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestOrder_Cycle(t *testing.T) {
	_, err := Order([]*Manifest{
		manifest("a", "b"),
		manifest("b", "c"),
		manifest("c", "a"),
		manifest("d"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency detected: a -> b -> c -> a")
}

func TestOrder_SelfDependency(t *testing.T) {
	_, err := Order([]*Manifest{manifest("a", "a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a -> a")
}

func TestSelect(t *testing.T) {
	list := []*Manifest{
		manifest("base"),
		manifest("git", "base"),
		manifest("zsh", "base"),
		manifest("app", "git"),
	}

	selected, err := Select(list, []string{"app"})
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "git", "app"}, names(selected))

	all, err := Select(list, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = Select(list, []string{"nope"})
	require.Error(t, err)
}
