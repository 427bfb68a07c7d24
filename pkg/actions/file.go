package actions

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/openfroyo/manifold/pkg/atoms/directory"
	"github.com/openfroyo/manifold/pkg/atoms/file"
	"github.com/openfroyo/manifold/pkg/atoms/http"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

const defaultFileMode = "644"

// FileCopy copies a file from the manifest files directory, optionally
// rendering it as a template against the run context.
type FileCopy struct {
	From     string `yaml:"from" validate:"required"`
	To       string `yaml:"to" validate:"required"`
	Chmod    string `yaml:"chmod,omitempty" validate:"filemode"`
	Template bool   `yaml:"template,omitempty"`
}

func (f *FileCopy) applyDefaults() error {
	if f.Chmod == "" {
		f.Chmod = defaultFileMode
	}
	return nil
}

// Summarize implements Summarizer.
func (f FileCopy) Summarize() string {
	return fmt.Sprintf("Copy %s to %s", f.From, f.To)
}

// Plan reads the source at planning time so that a missing file fails the
// plan rather than the run.
func (f FileCopy) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	source := origin.FilePath(f.From)

	contents, err := os.ReadFile(source)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}

	if f.Template {
		contents, err = render(source, contents, scope)
		if err != nil {
			return nil, err
		}
	}

	mode, err := parseMode(f.Chmod)
	if err != nil {
		return nil, err
	}

	return []steps.Step{
		steps.New(
			&directory.Create{Path: filepath.Dir(f.To)},
			&file.Create{Path: f.To},
			&file.SetContents{Path: f.To, Contents: contents},
			&file.Chmod{Path: f.To, Mode: mode},
		),
	}, nil
}

// FileDownload fetches a URL into a file.
type FileDownload struct {
	From  string `yaml:"from" validate:"required,url"`
	To    string `yaml:"to" validate:"required"`
	Chmod string `yaml:"chmod,omitempty" validate:"filemode"`
}

func (f *FileDownload) applyDefaults() error {
	if f.Chmod == "" {
		f.Chmod = defaultFileMode
	}
	return nil
}

// Summarize implements Summarizer.
func (f FileDownload) Summarize() string {
	return fmt.Sprintf("Download %s to %s", f.From, f.To)
}

// Plan implements Payload.
func (f FileDownload) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	mode, err := parseMode(f.Chmod)
	if err != nil {
		return nil, err
	}

	return []steps.Step{
		steps.New(
			&directory.Create{Path: filepath.Dir(f.To)},
			&http.Download{URL: f.From, Path: f.To},
			&file.Chmod{Path: f.To, Mode: mode},
		),
	}, nil
}

// FileLink links To to a file from the manifest files directory.
type FileLink struct {
	From string `yaml:"from" validate:"required"`
	To   string `yaml:"to" validate:"required"`
}

// Summarize implements Summarizer.
func (f FileLink) Summarize() string {
	return fmt.Sprintf("Link %s to %s", f.To, f.From)
}

// Plan implements Payload.
func (f FileLink) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	return []steps.Step{
		steps.New(
			&directory.Create{Path: filepath.Dir(f.To)},
			&file.Link{Source: origin.FilePath(f.From), Target: f.To},
		),
	}, nil
}

// FileRemove removes a file.
type FileRemove struct {
	Target string `yaml:"target" validate:"required"`
}

// Summarize implements Summarizer.
func (f FileRemove) Summarize() string {
	return fmt.Sprintf("Remove file %s", f.Target)
}

// Plan implements Payload.
func (f FileRemove) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	return []steps.Step{steps.New(&file.Remove{Path: f.Target})}, nil
}

func parseMode(s string) (os.FileMode, error) {
	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid chmod %q: %w", s, err)
	}
	return os.FileMode(mode), nil
}

// render executes contents as a text/template with the run context as data.
// Unknown keys fail the render.
func render(name string, contents []byte, scope contexts.Contexts) ([]byte, error) {
	tmpl, err := template.New(filepath.Base(name)).Option("missingkey=error").Parse(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, scope.ToMap()); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
