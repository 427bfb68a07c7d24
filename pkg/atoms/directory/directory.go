// Package directory provides atoms that manage directories.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openfroyo/manifold/pkg/atoms"
)

// DefaultMode is applied to created directories.
const DefaultMode os.FileMode = 0755

var (
	_ atoms.Atom = (*Create)(nil)
	_ atoms.Atom = (*Remove)(nil)
)

// Create creates Path and any missing parents.
type Create struct {
	Path string
}

func (c *Create) String() string {
	return fmt.Sprintf("DirCreate %s", c.Path)
}

// Plan reports ShouldRun when Path is missing. A non-directory at Path is an
// error.
func (c *Create) Plan() (atoms.Outcome, error) {
	info, err := os.Stat(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return atoms.Run(atoms.SideEffect{Kind: atoms.SideEffectWrite, Description: "create directory " + c.Path}), nil
	}
	if err != nil {
		return atoms.Outcome{}, fmt.Errorf("failed to stat %s: %w", c.Path, err)
	}
	if !info.IsDir() {
		return atoms.Outcome{}, fmt.Errorf("%s exists and is not a directory", c.Path)
	}
	return atoms.Skip(), nil
}

// Execute creates the directory.
func (c *Create) Execute(ctx context.Context) error {
	if err := os.MkdirAll(c.Path, DefaultMode); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Remove deletes Path and everything below it.
type Remove struct {
	Path string
}

func (r *Remove) String() string {
	return fmt.Sprintf("DirRemove %s", r.Path)
}

// Plan reports ShouldRun when Path exists. A non-directory at Path is an error.
func (r *Remove) Plan() (atoms.Outcome, error) {
	info, err := os.Lstat(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return atoms.Skip(), nil
	}
	if err != nil {
		return atoms.Outcome{}, fmt.Errorf("failed to stat %s: %w", r.Path, err)
	}
	if !info.IsDir() {
		return atoms.Outcome{}, fmt.Errorf("%s is not a directory", r.Path)
	}
	return atoms.Run(atoms.SideEffect{Kind: atoms.SideEffectDelete, Description: "remove directory " + r.Path}), nil
}

// Execute removes the directory tree.
func (r *Remove) Execute(ctx context.Context) error {
	if err := os.RemoveAll(r.Path); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	return nil
}
