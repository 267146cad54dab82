package processmodel

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Parse decodes model code into a tree. It checks the grammar only;
// Validate applies the structural rules.
func Parse(code string) (*Model, error) {
	if strings.TrimSpace(code) == "" {
		return nil, errors.New("model code is empty")
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(code), &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, errors.New("model code must contain exactly one YAML document")
	}
	root, err := parseNode(doc.Content[0], 1)
	if err != nil {
		return nil, err
	}
	return &Model{Root: root}, nil
}

func parseNode(y *yaml.Node, depth int) (*Node, error) {
	if depth > MaxDepth {
		return nil, fmt.Errorf("line %d: model is nested deeper than %d levels", y.Line, MaxDepth)
	}
	if y.Kind == yaml.AliasNode {
		return nil, fmt.Errorf("line %d: YAML aliases are not allowed", y.Line)
	}
	if y.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a node like {activity: ...} or {sequence: [...]}, got %s", y.Line, describe(y))
	}
	if len(y.Content) != 2 {
		return nil, fmt.Errorf("line %d: each node must have exactly one key, got %d", y.Line, len(y.Content)/2)
	}
	key, val := y.Content[0], y.Content[1]

	switch Kind(key.Value) {
	case KindActivity:
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: activity label must be a string", val.Line)
		}
		label := strings.TrimSpace(val.Value)
		if label == "" {
			return nil, fmt.Errorf("line %d: activity label is empty", val.Line)
		}
		return &Node{Kind: KindActivity, Label: label}, nil

	case KindSkip:
		if val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: skip takes no children", val.Line)
		}
		var on bool
		if val.ShortTag() != "!!bool" || val.Decode(&on) != nil || !on {
			return nil, fmt.Errorf("line %d: skip must be written as skip: true, got %s", val.Line, describe(val))
		}
		return &Node{Kind: KindSkip}, nil

	case KindSequence, KindChoice, KindParallel:
		if val.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("line %d: %s expects a list of nodes", val.Line, key.Value)
		}
		n := &Node{Kind: Kind(key.Value)}
		for _, c := range val.Content {
			child, err := parseNode(c, depth+1)
			if err != nil {
				return nil, err
			}
			n.Children = append(n.Children, child)
		}
		return n, nil

	case KindLoop:
		return parseLoop(val, depth)
	}
	return nil, fmt.Errorf("line %d: unknown node type %q (expected one of activity, skip, sequence, choice, parallel, loop)", key.Line, key.Value)
}

func parseLoop(val *yaml.Node, depth int) (*Node, error) {
	if val.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: loop expects {do: ..., redo: ...}", val.Line)
	}
	n := &Node{Kind: KindLoop}
	for i := 0; i+1 < len(val.Content); i += 2 {
		k, v := val.Content[i], val.Content[i+1]
		child, err := parseNode(v, depth+1)
		if err != nil {
			return nil, err
		}
		switch k.Value {
		case "do":
			if n.Do != nil {
				return nil, fmt.Errorf("line %d: duplicate loop key %q", k.Line, k.Value)
			}
			n.Do = child
		case "redo":
			if n.Redo != nil {
				return nil, fmt.Errorf("line %d: duplicate loop key %q", k.Line, k.Value)
			}
			n.Redo = child
		default:
			return nil, fmt.Errorf("line %d: unknown loop key %q (expected do or redo)", k.Line, k.Value)
		}
	}
	if n.Do == nil {
		return nil, fmt.Errorf("line %d: loop is missing its do part", val.Line)
	}
	return n, nil
}

func describe(y *yaml.Node) string {
	switch y.Kind {
	case yaml.ScalarNode:
		return fmt.Sprintf("the value %q", y.Value)
	case yaml.SequenceNode:
		return "a list"
	}
	return "something else"
}

// Code renders m back to canonical YAML.
func (m *Model) Code() string {
	out, err := yaml.Marshal(toYAML(m.Root))
	if err != nil {
		// yaml.Node trees built by toYAML always marshal.
		panic(err)
	}
	return string(out)
}

func toYAML(n *Node) *yaml.Node {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	key := &yaml.Node{Kind: yaml.ScalarNode, Value: string(n.Kind)}
	var val *yaml.Node
	switch n.Kind {
	case KindActivity:
		val = &yaml.Node{Kind: yaml.ScalarNode, Value: n.Label}
	case KindSkip:
		val = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"}
	case KindLoop:
		val = &yaml.Node{Kind: yaml.MappingNode}
		val.Content = append(val.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "do"}, toYAML(n.Do))
		if n.Redo != nil {
			val.Content = append(val.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: "redo"}, toYAML(n.Redo))
		}
	default:
		val = &yaml.Node{Kind: yaml.SequenceNode}
		for _, c := range n.Children {
			val.Content = append(val.Content, toYAML(c))
		}
	}
	mapping.Content = []*yaml.Node{key, val}
	return mapping
}
