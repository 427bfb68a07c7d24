package manifests

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// manifestSchema constrains the shape of CUE manifests before their actions
// are decoded.
const manifestSchema = `
#Action: {
	action:    string
	where?:    string | bool
	variants?: [...{...}]
	...
}

#Manifest: {
	name?:    string
	depends?: [...string]
	actions:  [...#Action]
}
`

// Loader reads manifest files.
type Loader struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewLoader creates a new manifest loader.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(manifestSchema, cue.Filename("manifest.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	return &Loader{
		ctx:    ctx,
		schema: schema.LookupPath(cue.ParsePath("#Manifest")),
	}, nil
}

// IsManifest reports whether path has a manifest extension.
func IsManifest(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".cue":
		return true
	}
	return false
}

// Load reads a single manifest file. The name defaults to the file name
// without extension.
func (l *Loader) Load(path string) (*Manifest, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return l.load(path, stem)
}

func (l *Loader) load(path, defaultName string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	if strings.ToLower(filepath.Ext(path)) == ".cue" {
		data, err = l.cueToJSON(path, data)
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
	}

	m, err := Parse(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	if m.Name == "" {
		m.Name = defaultName
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	m.Source = abs
	m.Root = filepath.Dir(abs)

	return m, nil
}

// Parse decodes a YAML (or JSON) manifest document. Unknown fields are
// rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty manifest")
		}
		return nil, err
	}

	return &m, nil
}

// cueToJSON evaluates a CUE manifest against the manifest schema and exports
// it as JSON.
func (l *Loader) cueToJSON(path string, data []byte) ([]byte, error) {
	val := l.ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, cueError(err)
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cueError(err)
	}

	out, err := unified.MarshalJSON()
	if err != nil {
		return nil, cueError(err)
	}
	return out, nil
}

func cueError(err error) error {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msgs = append(msgs, strings.TrimSpace(cueerrors.Details(e, nil)))
	}
	if len(msgs) == 0 {
		return err
	}
	return errors.New(strings.Join(msgs, "; "))
}

// LoadPaths loads every manifest found in paths. Directories are walked
// recursively; manifests found in a directory are named after their path
// relative to it, with separators replaced by dots ("dev/git.yaml" becomes
// "dev.git"). Hidden directories and "files" directories are skipped.
func (l *Loader) LoadPaths(paths ...string) ([]*Manifest, error) {
	var list []*Manifest
	seen := make(map[string]string)

	add := func(m *Manifest) error {
		if other, ok := seen[m.Name]; ok {
			return &LoadError{Path: m.Source, Err: fmt.Errorf("duplicate manifest name %q, also declared in %s", m.Name, other)}
		}
		seen[m.Name] = m.Source
		list = append(list, m)
		return nil
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, &LoadError{Path: root, Err: err}
		}

		if !info.IsDir() {
			m, err := l.Load(root)
			if err != nil {
				return nil, err
			}
			if err := add(m); err != nil {
				return nil, err
			}
			continue
		}

		var files []string
		err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if entry.IsDir() {
				if path != root && (entry.Name() == "files" || strings.HasPrefix(entry.Name(), ".")) {
					return filepath.SkipDir
				}
				return nil
			}
			if IsManifest(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, &LoadError{Path: root, Err: err}
		}
		sort.Strings(files)

		for _, path := range files {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil, &LoadError{Path: path, Err: err}
			}
			name := strings.TrimSuffix(rel, filepath.Ext(rel))
			name = strings.ReplaceAll(name, string(filepath.Separator), ".")

			m, err := l.load(path, name)
			if err != nil {
				return nil, err
			}
			if err := add(m); err != nil {
				return nil, err
			}
		}
	}

	return list, nil
}
