// Package ingest turns heterogeneous API traffic descriptions into canonical assets.
//
// The pipeline is Detect, then Parse for the detected Variant, then Normalize.
// Parsers recover from malformed sub-items and report them as diagnostics; only a
// document that cannot be read at all fails with a ParseError.
package ingest

import (
	"fmt"
	"strings"
)

// Variant is one of the closed set of recognized input formats.
type Variant int

// Recognized input formats, in detection priority order.
const (
	PlainTextUnknown Variant = iota
	OpenAPIJSON
	OpenAPIYAML
	PostmanCollection
	HAR
	BurpXML
	RawHTTPMessage
	CurlCommand
)

var variantNames = map[Variant]string{
	PlainTextUnknown:  "plaintext",
	OpenAPIJSON:       "openapi-json",
	OpenAPIYAML:       "openapi-yaml",
	PostmanCollection: "postman",
	HAR:               "har",
	BurpXML:           "burp",
	RawHTTPMessage:    "raw-http",
	CurlCommand:       "curl",
}

// Variants returns every variant.
func Variants() []Variant {
	return []Variant{
		OpenAPIJSON, OpenAPIYAML, PostmanCollection, HAR,
		BurpXML, RawHTTPMessage, CurlCommand, PlainTextUnknown,
	}
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// MarshalText renders the variant by name.
func (v Variant) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// IsOpenAPI reports whether v is either OpenAPI encoding.
func (v Variant) IsOpenAPI() bool {
	return v == OpenAPIJSON || v == OpenAPIYAML
}

// ParseVariant resolves a variant name such as "har" or "openapi-yaml".
func ParseVariant(name string) (Variant, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for v, n := range variantNames {
		if n == want {
			return v, nil
		}
	}
	return PlainTextUnknown, &ValidationError{Field: "format", Reason: fmt.Sprintf("unknown input format %q", name)}
}

// Draft is an un-normalized endpoint record produced by a parser.
type Draft struct {
	Method      string
	Endpoint    string
	RawRequest  string
	RawResponse string
	Variant     Variant
}

// Pipeline stages that can skip an item.
const (
	StageParse     = "parse"
	StageNormalize = "normalize"
	StagePersist   = "persist"
)

// Diagnostic records a skipped item. ItemIndex is -1 for document-level notes
// and otherwise indexes the items seen by Stage.
type Diagnostic struct {
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
	ItemIndex int    `json:"item_index"`
}

func (d Diagnostic) String() string {
	if d.ItemIndex < 0 {
		return fmt.Sprintf("%s: %s", d.Stage, d.Reason)
	}
	return fmt.Sprintf("%s item %d: %s", d.Stage, d.ItemIndex, d.Reason)
}

// ParseResult is the outcome of parsing one document.
type ParseResult struct {
	Drafts      []Draft
	Diagnostics []Diagnostic
}

func (r *ParseResult) add(d Draft) {
	r.Drafts = append(r.Drafts, d)
}

func (r *ParseResult) skip(index int, format string, args ...any) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Stage:     StageParse,
		ItemIndex: index,
		Reason:    fmt.Sprintf(format, args...),
	})
}
