package ingest

import (
	"bytes"
	"encoding/xml"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

var (
	utf8BOM = []byte{0xEF, 0xBB, 0xBF}

	// Cheap pre-check so arbitrary text is not fed to the YAML decoder.
	openAPIYAMLKey = regexp.MustCompile(`(?m)^["']?(openapi|swagger)["']?\s*:`)

	httpVerbs = map[string]bool{
		"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
		"HEAD": true, "OPTIONS": true, "TRACE": true, "CONNECT": true,
	}

	structuredExtensions = map[string]bool{
		".json": true, ".yaml": true, ".yml": true, ".har": true, ".xml": true,
	}
)

// Detect classifies data into exactly one variant. Detection is decided by
// content alone and never fails.
func Detect(data []byte) Variant {
	text := bytes.TrimSpace(bytes.TrimPrefix(data, utf8BOM))
	if len(text) == 0 {
		return PlainTextUnknown
	}

	if text[0] == '{' && gjson.ValidBytes(text) {
		doc := gjson.ParseBytes(text)
		switch {
		case doc.Get("openapi").Exists() || doc.Get("swagger").Exists():
			return OpenAPIJSON
		case doc.Get("info").Exists() && doc.Get("item").IsArray():
			return PostmanCollection
		case doc.Get("log.entries").IsArray():
			return HAR
		}
		return PlainTextUnknown
	}

	if isOpenAPIYAML(text) {
		return OpenAPIYAML
	}

	if text[0] == '<' && isBurpXML(text) {
		return BurpXML
	}

	line := firstLine(text)
	if isRequestLine(line) {
		return RawHTTPMessage
	}
	if isCurlLine(line) {
		return CurlCommand
	}
	return PlainTextUnknown
}

// DetectStrict behaves like Detect but fails with a FormatDetectionError when
// the filename hint names a structured format and nothing matched.
func DetectStrict(data []byte, hint string) (Variant, error) {
	v := Detect(data)
	if v == PlainTextUnknown && structuredExtensions[strings.ToLower(filepath.Ext(hint))] {
		return v, &FormatDetectionError{Hint: hint}
	}
	return v, nil
}

func isOpenAPIYAML(text []byte) bool {
	if !openAPIYAMLKey.Match(text) {
		return false
	}
	var root yaml.Node
	if err := yaml.Unmarshal(text, &root); err != nil {
		return false
	}
	doc := documentMapping(&root)
	return doc != nil && (mappingValue(doc, "openapi") != nil || mappingValue(doc, "swagger") != nil)
}

func isBurpXML(text []byte) bool {
	dec := xml.NewDecoder(bytes.NewReader(text))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if err != nil {
			return false
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local == "items"
		}
	}
}

func firstLine(text []byte) string {
	for len(text) > 0 {
		line := text
		if i := bytes.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			text = nil
		}
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// isRequestLine matches "VERB target [HTTP/x]" where target is a path,
// an absolute URL or "*".
func isRequestLine(line string) bool {
	fields := strings.Fields(line)
	if len(fields) < 2 || len(fields) > 3 {
		return false
	}
	if !httpVerbs[strings.ToUpper(fields[0])] {
		return false
	}
	target := fields[1]
	if !(strings.HasPrefix(target, "/") || target == "*" || hasHTTPScheme(target)) {
		return false
	}
	return len(fields) == 2 || strings.HasPrefix(strings.ToUpper(fields[2]), "HTTP/")
}

func isCurlLine(line string) bool {
	line = strings.TrimPrefix(line, "$ ")
	return line == "curl" || strings.HasPrefix(line, "curl ") || strings.HasPrefix(line, "curl\t")
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
