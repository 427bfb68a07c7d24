package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/manifold/pkg/atoms"
)

// converge plans and executes a, then verifies a second plan is a no-op.
func converge(t *testing.T, a atoms.Atom) {
	t.Helper()

	outcome, err := a.Plan()
	require.NoError(t, err)
	require.True(t, outcome.ShouldRun, "first plan of %s", a)
	require.NotEmpty(t, outcome.SideEffects)

	require.NoError(t, a.Execute(context.Background()))

	outcome, err = a.Plan()
	require.NoError(t, err)
	assert.False(t, outcome.ShouldRun, "second plan of %s", a)
}

func TestCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	converge(t, &Create{Path: path})
	assert.FileExists(t, path)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doomed")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	converge(t, &Remove{Path: path})
	assert.NoFileExists(t, path)
}

func TestRemove_RefusesDirectory(t *testing.T) {
	_, err := (&Remove{Path: t.TempDir()}).Plan()
	require.Error(t, err)
}

func TestLink(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source")
	require.NoError(t, os.WriteFile(source, []byte("x"), 0644))
	target := filepath.Join(dir, "target")

	converge(t, &Link{Source: source, Target: target})

	dest, err := os.Readlink(target)
	require.NoError(t, err)
	assert.Equal(t, source, dest)

	other := filepath.Join(dir, "other")
	require.NoError(t, os.WriteFile(other, []byte("y"), 0644))
	converge(t, &Link{Source: other, Target: target})

	dest, err = os.Readlink(target)
	require.NoError(t, err)
	assert.Equal(t, other, dest)
}

func TestLink_RegularFileInTheWay(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	_, err := (&Link{Source: filepath.Join(dir, "source"), Target: target}).Plan()
	require.Error(t, err)
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source")
	require.NoError(t, os.WriteFile(source, []byte("contents"), 0600))
	target := filepath.Join(dir, "target")

	converge(t, &Copy{Source: source, Target: target})

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestCopy_MissingSource(t *testing.T) {
	dir := t.TempDir()
	_, err := (&Copy{Source: filepath.Join(dir, "nope"), Target: filepath.Join(dir, "target")}).Plan()
	require.Error(t, err)
}

func TestSetContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	converge(t, &SetContents{Path: path, Contents: []byte("a=1\n")})

	require.NoError(t, os.Chmod(path, 0600))
	converge(t, &SetContents{Path: path, Contents: []byte("a=2\n")})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a=2\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestChmod(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0644))

	converge(t, &Chmod{Path: path, Mode: 0755})

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestChmod_PlansMissingFile(t *testing.T) {
	outcome, err := (&Chmod{Path: filepath.Join(t.TempDir(), "later"), Mode: 0755}).Plan()
	require.NoError(t, err)
	assert.True(t, outcome.ShouldRun)
}
