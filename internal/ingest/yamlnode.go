package ingest

import (
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// documentMapping returns the top-level mapping of a decoded document.
func documentMapping(root *yaml.Node) *yaml.Node {
	n := root
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return nil
		}
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	return n
}

// mappingValue looks up key in a mapping node, following aliases.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return resolveAlias(m.Content[i+1])
		}
	}
	return nil
}

func resolveAlias(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}

func scalar(n *yaml.Node) string {
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

// jsonToNode converts a gjson value into a yaml.Node tree, keeping key order.
func jsonToNode(r gjson.Result) *yaml.Node {
	switch {
	case r.IsObject():
		n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		r.ForEach(func(k, v gjson.Result) bool {
			n.Content = append(n.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k.String()},
				jsonToNode(v))
			return true
		})
		return n
	case r.IsArray():
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		r.ForEach(func(_, v gjson.Result) bool {
			n.Content = append(n.Content, jsonToNode(v))
			return true
		})
		return n
	}

	n := &yaml.Node{Kind: yaml.ScalarNode, Value: r.String()}
	switch r.Type {
	case gjson.Null:
		n.Tag, n.Value = "!!null", "null"
	case gjson.True, gjson.False:
		n.Tag = "!!bool"
	case gjson.Number:
		n.Tag, n.Value = "!!float", r.Raw
		if r.Num == float64(int64(r.Num)) {
			n.Tag = "!!int"
		}
	default:
		n.Tag = "!!str"
	}
	return n
}
