package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Path item keys that hold operations, in OpenAPI order.
var openAPIOperations = map[string]bool{
	"get": true, "put": true, "post": true, "delete": true,
	"options": true, "head": true, "patch": true, "trace": true,
}

type openAPIDoc struct {
	root     *yaml.Node
	basePath string
}

func decodeOpenAPI(v Variant, data []byte) (*openAPIDoc, error) {
	var root *yaml.Node
	if v == OpenAPIJSON {
		var raw json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			var syn *json.SyntaxError
			if errors.As(err, &syn) {
				return nil, newParseError(v, fmt.Sprintf("offset %d", syn.Offset), err)
			}
			return nil, newParseError(v, "", err)
		}
		root = jsonToNode(gjson.ParseBytes(data))
	} else {
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, newParseError(v, "", err)
		}
		root = documentMapping(&node)
	}
	if root == nil || root.Kind != yaml.MappingNode {
		return nil, parseErrorf(v, "", "document is not a mapping")
	}
	if mappingValue(root, "openapi") == nil && mappingValue(root, "swagger") == nil {
		return nil, parseErrorf(v, "", "missing openapi or swagger version key")
	}
	return &openAPIDoc{root: root, basePath: openAPIBasePath(root)}, nil
}

// openAPIBasePath is the Swagger 2 basePath or the path of the first OAS3 server.
func openAPIBasePath(root *yaml.Node) string {
	base := scalar(mappingValue(root, "basePath"))
	if servers := mappingValue(root, "servers"); servers != nil && servers.Kind == yaml.SequenceNode && len(servers.Content) > 0 {
		base = urlPath(scalar(mappingValue(resolveAlias(servers.Content[0]), "url")))
	}
	return strings.TrimRight(base, "/")
}

func parseOpenAPI(v Variant, data []byte) (ParseResult, error) {
	var res ParseResult
	doc, err := decodeOpenAPI(v, data)
	if err != nil {
		return res, err
	}

	paths := mappingValue(doc.root, "paths")
	if paths == nil {
		res.skip(-1, "document declares no paths")
		return res, nil
	}
	if paths.Kind != yaml.MappingNode {
		return res, parseErrorf(v, "paths", "paths is not a mapping")
	}

	for i := 0; i+1 < len(paths.Content); i += 2 {
		index := i / 2
		key := paths.Content[i].Value
		item := resolveAlias(paths.Content[i+1])

		if strings.HasPrefix(key, "x-") {
			continue
		}
		if !strings.HasPrefix(key, "/") {
			res.skip(index, "path %q must begin with /", key)
			continue
		}
		if item == nil || item.Kind != yaml.MappingNode {
			res.skip(index, "path item %s is not a mapping", key)
			continue
		}
		if ref := scalar(mappingValue(item, "$ref")); ref != "" {
			target := resolveLocalRef(doc.root, ref)
			if target == nil || target.Kind != yaml.MappingNode {
				res.skip(index, "path item %s has unresolved $ref %s", key, ref)
				continue
			}
			item = target
		}

		before := len(res.Drafts)
		var bad []string
		for j := 0; j+1 < len(item.Content); j += 2 {
			method := strings.ToLower(item.Content[j].Value)
			if !openAPIOperations[method] {
				continue
			}
			op := resolveAlias(item.Content[j+1])
			if op == nil || op.Kind != yaml.MappingNode {
				bad = append(bad, method)
				continue
			}
			res.add(Draft{
				Method:     strings.ToUpper(method),
				Endpoint:   doc.basePath + key,
				RawRequest: operationFragment(key, item.Content[j], op),
				Variant:    v,
			})
		}

		switch {
		case len(bad) > 0:
			res.skip(index, "path item %s has malformed operations: %s", key, strings.Join(bad, ", "))
		case len(res.Drafts) == before:
			res.skip(index, "path item %s has no operations", key)
		}
	}
	return res, nil
}

// resolveLocalRef follows a "#/a/b" JSON pointer within the document.
// External references resolve to nil.
func resolveLocalRef(root *yaml.Node, ref string) *yaml.Node {
	if !strings.HasPrefix(ref, "#/") {
		return nil
	}
	unescape := strings.NewReplacer("~1", "/", "~0", "~")
	node := root
	for _, part := range strings.Split(ref[2:], "/") {
		node = mappingValue(node, unescape.Replace(part))
		if node == nil {
			return nil
		}
	}
	return node
}

// parseOpenAPIDocument stages the whole document as a single ANY draft.
func parseOpenAPIDocument(v Variant, data []byte) (ParseResult, error) {
	doc, err := decodeOpenAPI(v, data)
	if err != nil {
		return ParseResult{}, err
	}
	endpoint := doc.basePath
	if endpoint == "" {
		endpoint = "/"
	}
	return ParseResult{Drafts: []Draft{{
		Method:     "ANY",
		Endpoint:   endpoint,
		RawRequest: string(data),
		Variant:    v,
	}}}, nil
}

// operationFragment renders "path: {method: operation}" as YAML.
func operationFragment(path string, methodKey, op *yaml.Node) string {
	frag := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: path},
		{Kind: yaml.MappingNode, Content: []*yaml.Node{methodKey, op}},
	}}
	out, err := yaml.Marshal(frag)
	if err != nil {
		return ""
	}
	return string(out)
}

// urlPath extracts the path of a possibly templated URL such as
// "https://{region}.example.com/v1".
func urlPath(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
		j := strings.IndexByte(raw, '/')
		if j < 0 {
			return ""
		}
		raw = raw[j:]
	}
	if k := strings.IndexAny(raw, "?#"); k >= 0 {
		raw = raw[:k]
	}
	return raw
}
