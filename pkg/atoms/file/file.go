// Package file provides atoms that manage regular files and symlinks.
package file

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/manifold/pkg/atoms"
)

// DefaultMode is applied to created files.
const DefaultMode os.FileMode = 0644

var (
	_ atoms.Atom = (*Create)(nil)
	_ atoms.Atom = (*Remove)(nil)
	_ atoms.Atom = (*Link)(nil)
	_ atoms.Atom = (*Copy)(nil)
	_ atoms.Atom = (*SetContents)(nil)
	_ atoms.Atom = (*Chmod)(nil)
)

// Create creates an empty file when Path does not exist.
type Create struct {
	Path string
}

func (c *Create) String() string {
	return fmt.Sprintf("FileCreate %s", c.Path)
}

// Plan reports ShouldRun when the file is missing.
func (c *Create) Plan() (atoms.Outcome, error) {
	found, err := exists(c.Path)
	if err != nil {
		return atoms.Outcome{}, err
	}
	if found {
		return atoms.Skip(), nil
	}
	return atoms.Run(atoms.SideEffect{Kind: atoms.SideEffectWrite, Description: "create " + c.Path}), nil
}

// Execute creates the file.
func (c *Create) Execute(ctx context.Context) error {
	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY, DefaultMode)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return f.Close()
}

// Remove deletes a file or symlink.
type Remove struct {
	Path string
}

func (r *Remove) String() string {
	return fmt.Sprintf("FileRemove %s", r.Path)
}

// Plan reports ShouldRun when the path exists. Directories are refused.
func (r *Remove) Plan() (atoms.Outcome, error) {
	info, err := os.Lstat(r.Path)
	if errors.Is(err, os.ErrNotExist) {
		return atoms.Skip(), nil
	}
	if err != nil {
		return atoms.Outcome{}, fmt.Errorf("failed to stat %s: %w", r.Path, err)
	}
	if info.IsDir() {
		return atoms.Outcome{}, fmt.Errorf("%s is a directory", r.Path)
	}
	return atoms.Run(atoms.SideEffect{Kind: atoms.SideEffectDelete, Description: "remove " + r.Path}), nil
}

// Execute removes the file.
func (r *Remove) Execute(ctx context.Context) error {
	if err := os.Remove(r.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// Link creates a symlink at Target pointing to Source.
type Link struct {
	Source string
	Target string
}

func (l *Link) String() string {
	return fmt.Sprintf("FileLink %s -> %s", l.Target, l.Source)
}

// Plan reports ShouldRun unless Target already links to Source. A regular
// file in the way is an error.
func (l *Link) Plan() (atoms.Outcome, error) {
	info, err := os.Lstat(l.Target)
	if errors.Is(err, os.ErrNotExist) {
		return atoms.Run(atoms.SideEffect{
			Kind:        atoms.SideEffectWrite,
			Description: fmt.Sprintf("link %s to %s", l.Target, l.Source),
		}), nil
	}
	if err != nil {
		return atoms.Outcome{}, fmt.Errorf("failed to stat %s: %w", l.Target, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return atoms.Outcome{}, fmt.Errorf("%s exists and is not a symlink", l.Target)
	}

	dest, err := os.Readlink(l.Target)
	if err != nil {
		return atoms.Outcome{}, fmt.Errorf("failed to read link %s: %w", l.Target, err)
	}
	if dest == l.Source {
		return atoms.Skip(), nil
	}
	return atoms.Run(atoms.SideEffect{
		Kind:        atoms.SideEffectWrite,
		Description: fmt.Sprintf("relink %s from %s to %s", l.Target, dest, l.Source),
	}), nil
}

// Execute creates or replaces the symlink.
func (l *Link) Execute(ctx context.Context) error {
	if info, err := os.Lstat(l.Target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(l.Target); err != nil {
			return fmt.Errorf("failed to remove stale link: %w", err)
		}
	}
	if err := os.Symlink(l.Source, l.Target); err != nil {
		return fmt.Errorf("failed to create link: %w", err)
	}
	return nil
}

// Copy copies Source to Target when their contents differ.
type Copy struct {
	Source string
	Target string
}

func (c *Copy) String() string {
	return fmt.Sprintf("FileCopy %s to %s", c.Source, c.Target)
}

// Plan reports ShouldRun when Target is missing or differs from Source.
func (c *Copy) Plan() (atoms.Outcome, error) {
	want, err := checksumFile(c.Source)
	if err != nil {
		return atoms.Outcome{}, fmt.Errorf("failed to read source: %w", err)
	}
	have, err := checksumFile(c.Target)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return atoms.Outcome{}, fmt.Errorf("failed to read target: %w", err)
	}
	if err == nil && have == want {
		return atoms.Skip(), nil
	}
	return atoms.Run(atoms.SideEffect{
		Kind:        atoms.SideEffectWrite,
		Description: fmt.Sprintf("copy %s to %s", c.Source, c.Target),
	}), nil
}

// Execute copies the file, preserving the source permissions.
func (c *Copy) Execute(ctx context.Context) error {
	if err := copyFile(c.Source, c.Target); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return nil
}

// SetContents writes Contents to Path when the current contents differ.
type SetContents struct {
	Path     string
	Contents []byte
}

func (s *SetContents) String() string {
	return fmt.Sprintf("FileSetContents %s (%d bytes)", s.Path, len(s.Contents))
}

// Plan reports ShouldRun when the file contents differ.
func (s *SetContents) Plan() (atoms.Outcome, error) {
	current, err := os.ReadFile(s.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return atoms.Outcome{}, fmt.Errorf("failed to read %s: %w", s.Path, err)
	}
	if err == nil && bytes.Equal(current, s.Contents) {
		return atoms.Skip(), nil
	}
	return atoms.Run(atoms.SideEffect{
		Kind:        atoms.SideEffectWrite,
		Description: fmt.Sprintf("write %d bytes to %s", len(s.Contents), s.Path),
	}), nil
}

// Execute writes the contents, keeping the mode of an existing file.
func (s *SetContents) Execute(ctx context.Context) error {
	mode := DefaultMode
	if info, err := os.Stat(s.Path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(s.Path, s.Contents, mode); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// Chmod sets the permission bits of Path.
type Chmod struct {
	Path string
	Mode os.FileMode
}

func (c *Chmod) String() string {
	return fmt.Sprintf("FileChmod %s %04o", c.Path, c.Mode)
}

// Plan reports ShouldRun when the permissions differ. A missing file is
// expected to be created by an earlier atom of the same step.
func (c *Chmod) Plan() (atoms.Outcome, error) {
	info, err := os.Stat(c.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return atoms.Outcome{}, fmt.Errorf("failed to stat %s: %w", c.Path, err)
	}
	if err == nil && info.Mode().Perm() == c.Mode.Perm() {
		return atoms.Skip(), nil
	}
	return atoms.Run(atoms.SideEffect{
		Kind:        atoms.SideEffectWrite,
		Description: fmt.Sprintf("chmod %04o %s", c.Mode.Perm(), c.Path),
	}), nil
}

// Execute applies the permissions.
func (c *Chmod) Execute(ctx context.Context) error {
	if err := os.Chmod(c.Path, c.Mode.Perm()); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

func exists(path string) (bool, error) {
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}
