package actions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

// Kind is the canonical name of an action kind.
type Kind string

// Action kinds.
const (
	KindCommandRun        Kind = "command.run"
	KindDirectoryCopy     Kind = "directory.copy"
	KindDirectoryCreate   Kind = "directory.create"
	KindDirectoryRemove   Kind = "directory.remove"
	KindFileCopy          Kind = "file.copy"
	KindFileDownload      Kind = "file.download"
	KindFileLink          Kind = "file.link"
	KindFileRemove        Kind = "file.remove"
	KindBinaryGitHub      Kind = "binary.github"
	KindGroupAdd          Kind = "group.add"
	KindMacOSDefault      Kind = "macos.default"
	KindPackageInstall    Kind = "package.install"
	KindPackageRepository Kind = "package.repository"
	KindUserAdd           Kind = "user.add"
	KindUserGroup         Kind = "user.group"
)

type definition struct {
	kind    Kind
	aliases []string
	decode  func(node *yaml.Node) (Action, error)
	matches func(action Action) bool
}

func define[T Payload](kind Kind, aliases ...string) definition {
	return definition{
		kind:    kind,
		aliases: aliases,
		decode: func(node *yaml.Node) (Action, error) {
			return decodeConditional[T](node)
		},
		matches: func(action Action) bool {
			_, ok := action.(*ConditionalVariantAction[T])
			return ok
		},
	}
}

var definitions = []definition{
	define[RunCommand](KindCommandRun, "cmd.run"),
	define[DirectoryCopy](KindDirectoryCopy, "dir.copy"),
	define[DirectoryCreate](KindDirectoryCreate, "dir.create"),
	define[DirectoryRemove](KindDirectoryRemove, "dir.remove"),
	define[FileCopy](KindFileCopy),
	define[FileDownload](KindFileDownload),
	define[FileLink](KindFileLink),
	define[FileRemove](KindFileRemove),
	define[BinaryGitHub](KindBinaryGitHub, "binary.gh", "bin.github", "bin.gh"),
	define[GroupAdd](KindGroupAdd),
	define[MacOSDefault](KindMacOSDefault),
	define[PackageInstall](KindPackageInstall, "package.installed"),
	define[PackageRepository](KindPackageRepository, "package.repo"),
	define[UserAdd](KindUserAdd),
	define[UserGroup](KindUserGroup),
}

var byName = indexDefinitions(definitions)

func indexDefinitions(defs []definition) map[string]*definition {
	index := make(map[string]*definition)
	for i := range defs {
		def := &defs[i]
		index[string(def.kind)] = def
		for _, alias := range def.aliases {
			index[alias] = def
		}
	}
	return index
}

// Kinds returns the canonical names of all action kinds.
func Kinds() []Kind {
	kinds := make([]Kind, len(definitions))
	for i, def := range definitions {
		kinds[i] = def.kind
	}
	return kinds
}

// Names returns every accepted discriminator, canonical names and aliases,
// sorted.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Aliases returns the aliases accepted for kind.
func Aliases(kind Kind) []string {
	def, ok := byName[string(kind)]
	if !ok {
		return nil
	}
	return append([]string(nil), def.aliases...)
}

// LookupKind resolves a canonical name or alias.
func LookupKind(name string) (Kind, bool) {
	def, ok := byName[name]
	if !ok {
		return "", false
	}
	return def.kind, true
}

// UnknownActionError reports an unrecognized discriminator.
type UnknownActionError struct {
	Name string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q (known: %s)", e.Name, strings.Join(Names(), ", "))
}

// Actions is one declared action of any kind.
type Actions struct {
	kind   Kind
	action Action
}

// Wrap builds an Actions value for kind. The action must be the
// ConditionalVariantAction of the payload registered for kind.
func Wrap(kind Kind, action Action) (Actions, error) {
	def, ok := byName[string(kind)]
	if !ok {
		return Actions{}, &UnknownActionError{Name: string(kind)}
	}
	if !def.matches(action) {
		return Actions{}, fmt.Errorf("%s cannot wrap %s", def.kind, typeName(action))
	}
	return Actions{kind: def.kind, action: action}, nil
}

// As returns the typed action held by a.
func As[T Payload](a Actions) (*ConditionalVariantAction[T], bool) {
	c, ok := a.action.(*ConditionalVariantAction[T])
	return c, ok
}

// Kind returns the canonical kind.
func (a Actions) Kind() Kind {
	return a.kind
}

// InnerRef returns the wrapped action.
func (a Actions) InnerRef() Action {
	return a.action
}

// String returns the canonical name, regardless of the alias used to declare
// the action.
func (a Actions) String() string {
	return string(a.kind)
}

// Summarize describes the wrapped action.
func (a Actions) Summarize() string {
	if a.action == nil {
		return unsummarized
	}
	return a.action.Summarize()
}

// Plan plans the wrapped action.
func (a Actions) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	if a.action == nil {
		return nil, errors.New("empty action")
	}
	return a.action.Plan(origin, scope)
}

// UnmarshalYAML decodes an action using its "action" discriminator.
func (a *Actions) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return &DecodeError{Line: node.Line, Err: fmt.Errorf("expected a mapping, got %s", nodeKind(node))}
	}

	resolved, err := resolveAliases(node, nil)
	if err != nil {
		return &DecodeError{Line: node.Line, Err: err}
	}
	pairs, err := mappingPairs(resolved)
	if err != nil {
		return &DecodeError{Line: node.Line, Err: err}
	}

	name := ""
	for _, pair := range pairs {
		if pair[0].Value == keyAction {
			name = pair[1].Value
			break
		}
	}
	if name == "" {
		return &DecodeError{Line: node.Line, Err: errors.New(`missing "action" field`)}
	}

	def, ok := byName[name]
	if !ok {
		return &DecodeError{Line: node.Line, Action: name, Err: &UnknownActionError{Name: name}}
	}

	action, err := def.decode(resolved)
	if err != nil {
		return &DecodeError{Line: node.Line, Action: string(def.kind), Err: err}
	}

	*a = Actions{kind: def.kind, action: action}
	return nil
}

// Decode decodes a single action document.
func Decode(data []byte) (Actions, error) {
	var a Actions
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&a); err != nil {
		if errors.Is(err, io.EOF) {
			return Actions{}, errors.New("empty action document")
		}
		return Actions{}, err
	}
	return a, nil
}
