package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/scanner"
	"github.com/joshsymonds/apisentry/internal/store"
	"github.com/joshsymonds/apisentry/internal/store/storetest"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

type testServer struct {
	repo   *storetest.Repository
	engine *storetest.Engine
	store  *store.Store
	srv    *httptest.Server
}

func newTestServer(t *testing.T, opts ...scanner.Option) *testServer {
	t.Helper()
	return newTestServerWith(t, Options{}, opts...)
}

func newTestServerWith(t *testing.T, apiOpts Options, opts ...scanner.Option) *testServer {
	t.Helper()
	log := logger.NewMockLogger()
	repo := storetest.NewRepository()
	engine := storetest.NewEngine(repo, 1)
	s := store.NewWithLogger(repo, scanner.NewOrchestratorWithLogger(engine, log, opts...), log)
	im := ingest.NewImporterWithLogger(s, 2, log)
	apiOpts.Logger = log
	apiOpts.CORSOrigins = []string{"https://ui.example.com"}
	srv := httptest.NewServer(NewRouter(s, im, apiOpts))
	t.Cleanup(srv.Close)
	return &testServer{repo: repo, engine: engine, store: s, srv: srv}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAssetLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/workspaces/default-workspace/assets",
		`{"method":"post","endpoint":"/users/7","raw_request":"POST /users/7 HTTP/1.1\r\nHost: a\r\n\r\n{}"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	asset := decode[models.Asset](t, resp)
	assert.Equal(t, models.MethodPost, asset.Method)
	assert.Equal(t, models.SourceManualEntry, asset.Source)

	resp = ts.do(t, http.MethodGet, "/api/workspaces/default-workspace/assets", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[[]models.Asset](t, resp)
	require.Len(t, list, 1)
	assert.Equal(t, asset.ID, list[0].ID)

	resp = ts.do(t, http.MethodPost, "/api/assets/"+asset.ID+"/scan", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scan := decode[scanResponse](t, resp)
	require.Len(t, scan.Findings, 1)
	assert.NotNil(t, scan.ScannedAt)
	assert.Equal(t, 1, scan.Summary.Total)

	resp = ts.do(t, http.MethodGet, "/api/assets/"+asset.ID+"/findings", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	findings := decode[[]models.Finding](t, resp)
	require.Len(t, findings, 1)

	resp = ts.do(t, http.MethodPatch, "/api/findings/"+findings[0].ID, `{"status":"ack"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusAcknowledged, decode[models.Finding](t, resp).Status)

	resp = ts.do(t, http.MethodDelete, "/api/assets/"+asset.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = ts.do(t, http.MethodDelete, "/api/assets/"+asset.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode, "delete is idempotent")

	resp = ts.do(t, http.MethodPost, "/api/assets/"+asset.ID+"/scan", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	doc := `{"openapi":"3.0.0","paths":{"/a":{"get":{}},"/b":{"post":{}},"/c":"broken"}}`

	resp := ts.do(t, http.MethodPost, "/api/workspaces/default-workspace/imports?filename=spec.json", doc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Variant     string              `json:"variant"`
		Summary     string              `json:"summary"`
		Imported    []models.Asset      `json:"imported"`
		Diagnostics []ingest.Diagnostic `json:"diagnostics"`
		Skipped     int                 `json:"skipped"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "openapi-json", body.Variant)
	assert.Len(t, body.Imported, 2)
	assert.Len(t, body.Diagnostics, 1)
	assert.Equal(t, 1, body.Skipped)
	assert.Equal(t, "2 imported, 1 skipped", body.Summary)
	assert.Len(t, ts.store.Assets(models.DefaultWorkspaceID), 2)
}

func TestImportBodyTooLarge(t *testing.T) {
	ts := newTestServerWith(t, Options{MaxImportBytes: 16})

	resp := ts.do(t, http.MethodPost, "/api/workspaces/w/imports", "GET /api/v1/users HTTP/1.1\r\nHost: api\r\n\r\n")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "too_large", body.Kind)
	assert.Contains(t, body.Error, "16 bytes")
	assert.Empty(t, ts.store.Assets("w"))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
		kind   string
		status int
	}{
		{"invalid method", http.MethodPost, "/api/workspaces/w/assets", `{"method":"HEAD","endpoint":"/x"}`, "validation", http.StatusUnprocessableEntity},
		{"malformed json body", http.MethodPost, "/api/workspaces/w/assets", `{`, "bad_request", http.StatusBadRequest},
		{"parse error", http.MethodPost, "/api/workspaces/w/imports?format=openapi-json", `{"openapi": "3.0.0", "paths": `, "parse", http.StatusBadRequest},
		{"strict detection", http.MethodPost, "/api/workspaces/w/imports?filename=x.json&strict=true", "just words", "format_detection", http.StatusUnsupportedMediaType},
		{"unknown format", http.MethodPost, "/api/workspaces/w/imports?format=wsdl", "x", "validation", http.StatusUnprocessableEntity},
		{"bad bool", http.MethodPost, "/api/workspaces/w/imports?strict=maybe", "x", "bad_request", http.StatusBadRequest},
		{"unknown status", http.MethodPatch, "/api/findings/f1", `{"status":"closed"}`, "validation", http.StatusUnprocessableEntity},
		{"missing finding", http.MethodPatch, "/api/findings/f1", `{"status":"open"}`, "repository", http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.kind, decode[errorBody](t, resp).Kind)
		})
	}
}

func TestScanConflictAndTimeout(t *testing.T) {
	ts := newTestServer(t, scanner.WithTimeout(300*time.Millisecond))
	asset := ts.repo.Seed(models.AssetInput{WorkspaceID: models.DefaultWorkspaceID, Method: models.MethodGet, Endpoint: "/x"})

	gate := ts.engine.Hold()
	t.Cleanup(gate.Release)
	done := make(chan *http.Response, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/assets/"+asset.ID+"/scan", nil)
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			done <- resp
		}
		close(done)
	}()
	gate.Wait(t)

	resp := ts.do(t, http.MethodPost, "/api/assets/"+asset.ID+"/scan", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.Equal(t, "conflict", body.Kind)
	assert.True(t, body.Retryable)

	first, ok := <-done
	require.True(t, ok)
	defer func() { _ = first.Body.Close() }()
	assert.Equal(t, http.StatusGatewayTimeout, first.StatusCode)
	assert.Equal(t, "scan_timeout", decode[errorBody](t, first).Kind)
}

func TestRepositoryFailureMapsToBadGateway(t *testing.T) {
	ts := newTestServer(t)
	ts.repo.FailNext(storetest.OpGetAssets, errors.New("db down"))

	resp := ts.do(t, http.MethodGet, "/api/workspaces/w/assets", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	body := decode[errorBody](t, resp)
	assert.True(t, body.Retryable)

	resp = ts.do(t, http.MethodGet, "/api/status", "")
	status := decode[statusResponse](t, resp)
	assert.Equal(t, "error", status.State)
	assert.Equal(t, "error", status.Last)
	assert.Zero(t, status.Pending)
	assert.Contains(t, status.Reason, "db down")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.srv.URL+"/api/status", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ui.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "https://ui.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
