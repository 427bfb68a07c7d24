package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c")
	c := &Create{Path: path}

	outcome, err := c.Plan()
	require.NoError(t, err)
	require.True(t, outcome.ShouldRun)

	require.NoError(t, c.Execute(context.Background()))
	assert.DirExists(t, path)

	outcome, err = c.Plan()
	require.NoError(t, err)
	assert.False(t, outcome.ShouldRun)
}

func TestCreate_FileInTheWay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := (&Create{Path: path}).Plan()
	require.Error(t, err)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "nested", "file"), []byte("x"), 0644))

	r := &Remove{Path: path}
	outcome, err := r.Plan()
	require.NoError(t, err)
	require.True(t, outcome.ShouldRun)

	require.NoError(t, r.Execute(context.Background()))
	assert.NoDirExists(t, path)

	outcome, err = r.Plan()
	require.NoError(t, err)
	assert.False(t, outcome.ShouldRun)
}

func TestRemove_RefusesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := (&Remove{Path: path}).Plan()
	require.Error(t, err)
}
