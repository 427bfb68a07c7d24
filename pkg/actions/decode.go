package actions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	keyAction   = "action"
	keyWhere    = "where"
	keyVariants = "variants"
)

// DecodeError reports an action that does not match its schema.
type DecodeError struct {
	Action string
	Line   int
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Action, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// defaulter is implemented by payload pointers that fill unset fields.
type defaulter interface {
	applyDefaults() error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// filemode accepts an octal permission string such as "644" or "0755".
	_ = v.RegisterValidation("filemode", func(fl validator.FieldLevel) bool {
		mode, err := strconv.ParseUint(fl.Field().String(), 8, 32)
		return err == nil && mode <= 0o7777
	})

	return v
}

func decodeConditional[T Payload](node *yaml.Node) (*ConditionalVariantAction[T], error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping, got %s", nodeKind(node))
	}

	node, err := resolveAliases(node, nil)
	if err != nil {
		return nil, err
	}
	pairs, err := mappingPairs(node)
	if err != nil {
		return nil, err
	}

	result := &ConditionalVariantAction[T]{}
	payload := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}

	for _, pair := range pairs {
		key, value := pair[0], pair[1]

		switch key.Value {
		case keyAction:
			continue
		case keyWhere:
			condition, err := decodeCondition(value)
			if err != nil {
				return nil, err
			}
			result.Condition = condition
		case keyVariants:
			variants, err := decodeVariants[T](value)
			if err != nil {
				return nil, err
			}
			result.Variants = variants
		default:
			payload.Content = append(payload.Content, key, value)
		}
	}

	action, err := decodePayload[T](payload)
	if err != nil {
		return nil, err
	}
	result.Action = action

	return result, nil
}

func decodeVariants[T Payload](node *yaml.Node) ([]Variant[T], error) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("variants: expected a sequence, got %s", nodeKind(node))
	}

	variants := make([]Variant[T], 0, len(node.Content))
	for i, item := range node.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("variants[%d]: expected a mapping, got %s", i, nodeKind(item))
		}

		pairs, err := mappingPairs(item)
		if err != nil {
			return nil, fmt.Errorf("variants[%d]: %w", i, err)
		}

		var variant Variant[T]
		payload := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, pair := range pairs {
			key, value := pair[0], pair[1]
			if key.Value == keyWhere {
				condition, err := decodeCondition(value)
				if err != nil {
					return nil, fmt.Errorf("variants[%d]: %w", i, err)
				}
				variant.Condition = condition
				continue
			}
			payload.Content = append(payload.Content, key, value)
		}

		action, err := decodePayload[T](payload)
		if err != nil {
			return nil, fmt.Errorf("variants[%d]: %w", i, err)
		}
		variant.Action = action
		variants = append(variants, variant)
	}

	return variants, nil
}

// resolveAliases returns a copy of node with every alias replaced by the node
// it refers to, so a sub-tree can be encoded on its own.
func resolveAliases(node *yaml.Node, visiting map[*yaml.Node]bool) (*yaml.Node, error) {
	if node.Kind == yaml.AliasNode {
		if node.Alias == nil {
			return nil, fmt.Errorf("line %d: unknown anchor %q", node.Line, node.Value)
		}
		if visiting[node.Alias] {
			return nil, fmt.Errorf("line %d: anchor %q refers to itself", node.Line, node.Value)
		}
		if visiting == nil {
			visiting = make(map[*yaml.Node]bool)
		}
		visiting[node.Alias] = true
		defer delete(visiting, node.Alias)
		return resolveAliases(node.Alias, visiting)
	}

	out := *node
	out.Anchor = ""
	if len(node.Content) > 0 {
		out.Content = make([]*yaml.Node, len(node.Content))
		for i, child := range node.Content {
			resolved, err := resolveAliases(child, visiting)
			if err != nil {
				return nil, err
			}
			out.Content[i] = resolved
		}
	}
	return &out, nil
}

// mappingPairs returns the key/value pairs of a mapping with "<<" merge keys
// expanded. Explicit keys override merged ones; a repeated explicit key is an
// error.
func mappingPairs(node *yaml.Node) ([][2]*yaml.Node, error) {
	seen := make(map[string]int)
	var pairs, merged [][2]*yaml.Node

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]

		if key.Tag == "!!merge" {
			sources := []*yaml.Node{value}
			if value.Kind == yaml.SequenceNode {
				sources = value.Content
			}
			for _, src := range sources {
				if src.Kind != yaml.MappingNode {
					return nil, fmt.Errorf("line %d: merge value must be a mapping, got %s", src.Line, nodeKind(src))
				}
				inner, err := mappingPairs(src)
				if err != nil {
					return nil, err
				}
				merged = append(merged, inner...)
			}
			continue
		}

		if line, ok := seen[key.Value]; ok {
			return nil, fmt.Errorf("line %d: key %q already defined at line %d", key.Line, key.Value, line)
		}
		seen[key.Value] = key.Line
		pairs = append(pairs, [2]*yaml.Node{key, value})
	}

	for _, pair := range merged {
		if _, ok := seen[pair[0].Value]; ok {
			continue
		}
		seen[pair[0].Value] = pair[0].Line
		pairs = append(pairs, pair)
	}

	return pairs, nil
}

// decodeCondition accepts a string expression. YAML booleans are mapped to
// their expression form.
func decodeCondition(node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("where: expected an expression, got %s", nodeKind(node))
	}
	switch node.Tag {
	case "!!null":
		return "", nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return "", fmt.Errorf("where: %w", err)
		}
		if b {
			return "True", nil
		}
		return "False", nil
	}
	return strings.TrimSpace(node.Value), nil
}

// decodePayload decodes a payload mapping strictly, applies defaults and
// validates the result.
func decodePayload[T Payload](node *yaml.Node) (T, error) {
	var payload T

	data, err := yaml.Marshal(node)
	if err != nil {
		return payload, fmt.Errorf("failed to encode payload: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		return payload, fmt.Errorf("invalid payload: %w", err)
	}

	if d, ok := any(&payload).(defaulter); ok {
		if err := d.applyDefaults(); err != nil {
			return payload, fmt.Errorf("failed to apply defaults: %w", err)
		}
	}

	if err := validate.Struct(payload); err != nil {
		return payload, validationError(err)
	}

	return payload, nil
}

func validationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		// Namespace is "<Type>.<yaml path>".
		_, field, _ := strings.Cut(fe.Namespace(), ".")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid payload: %s", strings.Join(msgs, "; "))
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar " + strconv.Quote(node.Value)
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
