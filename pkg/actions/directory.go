package actions

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/openfroyo/manifold/pkg/atoms"
	"github.com/openfroyo/manifold/pkg/atoms/directory"
	"github.com/openfroyo/manifold/pkg/atoms/file"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

// DirectoryCopy copies a directory from the manifest files directory.
type DirectoryCopy struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}

// Summarize implements Summarizer.
func (d DirectoryCopy) Summarize() string {
	return fmt.Sprintf("Copy directory %s to %s", d.From, d.To)
}

// Plan walks the source tree and produces one step creating directories and
// copying files in lexical order.
func (d DirectoryCopy) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	source := origin.FilePath(d.From)

	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", source)
	}

	list := []atoms.Atom{&directory.Create{Path: d.To}}
	err = filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == source {
			return nil
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(d.To, rel)

		if entry.IsDir() {
			list = append(list, &directory.Create{Path: target})
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		list = append(list, &file.Copy{Source: path, Target: target})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", source, err)
	}

	return []steps.Step{steps.New(list...)}, nil
}

// DirectoryCreate creates a directory.
type DirectoryCreate struct {
	Path string `yaml:"path" validate:"required"`
}

// Summarize implements Summarizer.
func (d DirectoryCreate) Summarize() string {
	return fmt.Sprintf("Create directory %s", d.Path)
}

// Plan implements Payload.
func (d DirectoryCreate) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	return []steps.Step{steps.New(&directory.Create{Path: d.Path})}, nil
}

// DirectoryRemove removes a directory tree.
type DirectoryRemove struct {
	Target string `yaml:"target" validate:"required"`
}

// Summarize implements Summarizer.
func (d DirectoryRemove) Summarize() string {
	return fmt.Sprintf("Remove directory %s", d.Target)
}

// Plan implements Payload.
func (d DirectoryRemove) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	return []steps.Step{steps.New(&directory.Remove{Path: d.Target})}, nil
}
