package contexts

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CopiesInput(t *testing.T) {
	in := map[string]any{
		"os": map[string]any{"family": "unix"},
	}
	c := New(in)

	in["os"].(map[string]any)["family"] = "windows"

	got, ok := c.Lookup("os.family")
	require.True(t, ok)
	assert.Equal(t, "unix", got)
}

func TestGet_ReturnsCopy(t *testing.T) {
	c := New(map[string]any{
		"os": map[string]any{"family": "unix"},
	})

	got, ok := c.Get("os")
	require.True(t, ok)
	got.(map[string]any)["family"] = "windows"

	family, _ := c.Lookup("os.family")
	assert.Equal(t, "unix", family)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLookup(t *testing.T) {
	c := New(map[string]any{
		"os":     map[string]any{"family": "unix", "arch": "amd64"},
		"Debian": true,
	})

	tests := []struct {
		path   string
		want   any
		wantOK bool
	}{
		{"os.family", "unix", true},
		{"Debian", true, true},
		{"os.missing", nil, false},
		{"Debian.nested", nil, false},
		{"missing", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := c.Lookup(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNames_Sorted(t *testing.T) {
	c := New(map[string]any{"b": 1, "a": 2, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, c.Names())
	assert.Equal(t, 3, c.Len())
}

func TestBuild(t *testing.T) {
	release := filepath.Join(t.TempDir(), "os-release")
	content := `NAME="Debian GNU/Linux"
ID=debian
VERSION_ID="12"
VERSION_CODENAME=bookworm
`
	require.NoError(t, os.WriteFile(release, []byte(content), 0o644))

	c, err := Build(Options{
		Variables: map[string]any{
			"Debian": true,
			"os":     "shadowed",
		},
		OSReleasePath: release,
	})
	require.NoError(t, err)

	name, ok := c.Lookup("os.name")
	require.True(t, ok)
	assert.Equal(t, runtime.GOOS, name)

	dist, _ := c.Lookup("os.distribution")
	assert.Equal(t, "debian", dist)

	version, _ := c.Lookup("os.version")
	assert.Equal(t, "12", version)

	debian, ok := c.Get("Debian")
	require.True(t, ok)
	assert.Equal(t, true, debian)

	viaNamespace, ok := c.Lookup("variables.os")
	require.True(t, ok)
	assert.Equal(t, "shadowed", viaNamespace)

	_, isMap := mustGet(t, c, "os").(map[string]any)
	assert.True(t, isMap, "variable must not replace the os namespace")
}

func TestBuild_Env(t *testing.T) {
	t.Setenv("MANIFOLD_TEST_VALUE", "present")

	c, err := Build(Options{IncludeEnv: true})
	require.NoError(t, err)

	v, ok := c.Lookup("env.MANIFOLD_TEST_VALUE")
	require.True(t, ok)
	assert.Equal(t, "present", v)
}

func TestBuild_RejectsUnsupportedVariable(t *testing.T) {
	_, err := Build(Options{
		Variables: map[string]any{
			"profile": "work",
			"ports":   map[interface{}]interface{}{1: "a"},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `variable "ports"`)
	assert.Contains(t, err.Error(), "map[interface {}]interface {}")

	_, err = Build(Options{
		Variables: map[string]any{
			"nested": map[string]any{"list": []any{"ok", map[int]string{1: "a"}}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `variable "nested": .list: [1]: unsupported type map[int]string`)
}

func TestOSFamily(t *testing.T) {
	assert.Equal(t, "unix", osFamily("linux"))
	assert.Equal(t, "unix", osFamily("darwin"))
	assert.Equal(t, "windows", osFamily("windows"))
	assert.Equal(t, "plan9", osFamily("plan9"))
}

func mustGet(t *testing.T, c Contexts, name string) any {
	t.Helper()
	v, ok := c.Get(name)
	require.True(t, ok)
	return v
}
