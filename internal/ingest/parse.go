package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parse runs the parser for variant v over data. Every variant has a parser;
// an unknown value is a programming error and is reported as such.
func Parse(v Variant, data []byte) (ParseResult, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	switch v {
	case OpenAPIJSON, OpenAPIYAML:
		return parseOpenAPI(v, data)
	case PostmanCollection:
		return parsePostman(data)
	case HAR:
		return parseHAR(data)
	case BurpXML:
		return parseBurp(data)
	case RawHTTPMessage:
		return parseRawHTTP(data)
	case CurlCommand:
		return parseCurl(data)
	case PlainTextUnknown:
		return parsePlainText(data), nil
	default:
		return ParseResult{}, fmt.Errorf("no parser for input format %s", v)
	}
}

// jsonSyntaxError returns a ParseError locating the first JSON syntax error,
// or nil when data is well formed.
func jsonSyntaxError(v Variant, data []byte) error {
	var raw json.RawMessage
	err := json.Unmarshal(data, &raw)
	if err == nil {
		return nil
	}
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return newParseError(v, "offset "+strconv.FormatInt(syn.Offset, 10), err)
	}
	return newParseError(v, "", err)
}

type header struct {
	Name  string
	Value string
}

// formatRequest renders a request in HTTP/1.1 message form.
func formatRequest(method, target, version string, headers []header, body string) string {
	if version == "" {
		version = "HTTP/1.1"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", method, target, version)
	writeHeaders(&b, headers)
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

// formatResponse renders a response in HTTP/1.1 message form.
func formatResponse(version string, status int, reason string, headers []header, body string) string {
	if version == "" {
		version = "HTTP/1.1"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d", version, status)
	if reason != "" {
		b.WriteString(" " + reason)
	}
	b.WriteString("\r\n")
	writeHeaders(&b, headers)
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func writeHeaders(b *strings.Builder, headers []header) {
	for _, h := range headers {
		if h.Name == "" {
			continue
		}
		fmt.Fprintf(b, "%s: %s\r\n", h.Name, h.Value)
	}
}
