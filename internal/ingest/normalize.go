package ingest

import (
	"strings"

	"github.com/joshsymonds/apisentry/internal/models"
)

// NormalizeOptions stamps provenance onto normalized assets.
type NormalizeOptions struct {
	WorkspaceID string
	Source      string
}

// NormalizeResult holds the canonical inputs of one batch.
type NormalizeResult struct {
	Inputs      []models.AssetInput
	Diagnostics []Diagnostic
	Duplicates  int
}

// NormalizeDraft validates one draft and returns its canonical method and endpoint.
func NormalizeDraft(d Draft) (models.Method, string, error) {
	method, ok := models.ParseMethod(d.Method)
	if !ok {
		return "", "", &ValidationError{Field: "method", Reason: "unsupported method " + quoteOrEmpty(d.Method)}
	}
	endpoint := NormalizeEndpoint(d.Endpoint)
	if endpoint == "" {
		return "", "", &ValidationError{Field: "endpoint", Reason: "endpoint is empty"}
	}
	return method, endpoint, nil
}

// NormalizeEndpoint trims whitespace and drops any fragment.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if i := strings.IndexByte(endpoint, '#'); i >= 0 {
		endpoint = endpoint[:i]
	}
	return strings.TrimSpace(endpoint)
}

// Normalize converts drafts into asset inputs. Invalid drafts are dropped with
// a diagnostic. Drafts sharing method and endpoint collapse into the last one,
// which keeps the position of that last occurrence.
func Normalize(drafts []Draft, opts NormalizeOptions) NormalizeResult {
	var res NormalizeResult
	valid := make([]models.AssetInput, 0, len(drafts))
	last := make(map[string]int, len(drafts))

	for i, d := range drafts {
		method, endpoint, err := NormalizeDraft(d)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{Stage: StageNormalize, ItemIndex: i, Reason: err.Error()})
			continue
		}
		in := models.AssetInput{
			WorkspaceID: opts.WorkspaceID,
			Method:      method,
			Endpoint:    endpoint,
			Source:      opts.Source,
			RawRequest:  models.StringPtr(d.RawRequest),
			RawResponse: models.StringPtr(d.RawResponse),
		}
		if _, seen := last[in.Key()]; seen {
			res.Duplicates++
		}
		last[in.Key()] = len(valid)
		valid = append(valid, in)
	}

	for i, in := range valid {
		if last[in.Key()] == i {
			res.Inputs = append(res.Inputs, in)
		}
	}
	return res
}

func quoteOrEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(empty)"
	}
	return `"` + s + `"`
}
