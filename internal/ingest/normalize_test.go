package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/apisentry/internal/models"
)

func TestNormalizeDraft(t *testing.T) {
	tests := []struct {
		name      string
		draft     Draft
		method    models.Method
		endpoint  string
		wantField string
	}{
		{name: "uppercases method", draft: Draft{Method: "get", Endpoint: "/a"}, method: models.MethodGet, endpoint: "/a"},
		{name: "strips fragment", draft: Draft{Method: "POST", Endpoint: "  /a/b#section "}, method: models.MethodPost, endpoint: "/a/b"},
		{name: "keeps query", draft: Draft{Method: "patch", Endpoint: "https://x.test/a?b=1#c"}, method: models.MethodPatch, endpoint: "https://x.test/a?b=1"},
		{name: "any is accepted", draft: Draft{Method: "Any", Endpoint: "/"}, method: models.MethodAny, endpoint: "/"},
		{name: "head is not in the closed set", draft: Draft{Method: "HEAD", Endpoint: "/a"}, wantField: "method"},
		{name: "empty method", draft: Draft{Method: " ", Endpoint: "/a"}, wantField: "method"},
		{name: "empty endpoint", draft: Draft{Method: "GET", Endpoint: "   "}, wantField: "endpoint"},
		{name: "fragment only", draft: Draft{Method: "GET", Endpoint: "#top"}, wantField: "endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, endpoint, err := NormalizeDraft(tt.draft)
			if tt.wantField != "" {
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantField, ve.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.method, method)
			assert.Equal(t, tt.endpoint, endpoint)
		})
	}
}

func TestNormalizeDeduplicatesKeepingLast(t *testing.T) {
	drafts := []Draft{
		{Method: "GET", Endpoint: "/a", RawRequest: "first"},
		{Method: "POST", Endpoint: "/b"},
		{Method: "get", Endpoint: "/a#frag", RawRequest: "second"},
		{Method: "TRACE", Endpoint: "/c"},
		{Method: "GET", Endpoint: "/d"},
	}
	res := Normalize(drafts, NormalizeOptions{WorkspaceID: "ws", Source: "File Import"})

	require.Len(t, res.Inputs, 3)
	assert.Equal(t, "POST /b", res.Inputs[0].Key())
	assert.Equal(t, "GET /a", res.Inputs[1].Key())
	assert.Equal(t, "second", models.Deref(res.Inputs[1].RawRequest), "last occurrence wins")
	assert.Equal(t, "GET /d", res.Inputs[2].Key())
	assert.Equal(t, 1, res.Duplicates)

	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, 3, res.Diagnostics[0].ItemIndex)
	assert.Equal(t, StageNormalize, res.Diagnostics[0].Stage)

	for _, in := range res.Inputs {
		assert.Equal(t, "ws", in.WorkspaceID)
		assert.Equal(t, "File Import", in.Source)
	}
	assert.Nil(t, res.Inputs[0].RawRequest, "empty raw text is stored as absent")
}

func TestNormalizeEmptyBatch(t *testing.T) {
	res := Normalize(nil, NormalizeOptions{})
	assert.Empty(t, res.Inputs)
	assert.Empty(t, res.Diagnostics)
	assert.Zero(t, res.Duplicates)
}
