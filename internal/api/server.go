// Package api exposes the asset store over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/store"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

// DefaultMaxImportBytes caps import request bodies.
const DefaultMaxImportBytes int64 = 64 << 20

// Importer runs the ingestion pipeline. *ingest.Importer implements it.
type Importer interface {
	Import(ctx context.Context, data []byte, opts ingest.ImportOptions) (*ingest.Report, error)
}

// Options configures the router.
type Options struct {
	Logger         logger.Logger
	CORSOrigins    []string
	MaxImportBytes int64
}

// Router serves the HTTP API.
type Router struct {
	store    *store.Store
	importer Importer
	logger   logger.Logger
	maxBody  int64
}

// NewRouter builds the HTTP handler.
func NewRouter(s *store.Store, im Importer, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logger.GetGlobalLogger()
	}
	if opts.MaxImportBytes <= 0 {
		opts.MaxImportBytes = DefaultMaxImportBytes
	}
	r := &Router{store: s, importer: im, logger: opts.Logger, maxBody: opts.MaxImportBytes}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(r.logRequests)
	if len(opts.CORSOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	mux.Route("/api", func(rt chi.Router) {
		rt.Get("/status", r.wrap(r.handleStatus))
		rt.Route("/workspaces/{workspace}", func(ws chi.Router) {
			ws.Get("/assets", r.wrap(r.handleListAssets))
			ws.Post("/assets", r.wrap(r.handleAddAsset))
			ws.Post("/imports", r.wrap(r.handleImport))
		})
		rt.Delete("/assets/{id}", r.wrap(r.handleDeleteAsset))
		rt.Get("/assets/{id}/findings", r.wrap(r.handleListFindings))
		rt.Post("/assets/{id}/scan", r.wrap(r.handleScan))
		rt.Patch("/findings/{id}", r.wrap(r.handleTriage))
	})
	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status, kind := classify(err)
			if status >= http.StatusInternalServerError {
				r.logger.Error("Request failed", "path", req.URL.Path, "status", status, "error", err)
			}
			writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind, Retryable: isRetryable(err)})
		}
	}
}

func (r *Router) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, req)
		r.logger.Debug("Handled request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(req.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusResponse struct {
	State   string `json:"state"`
	Last    string `json:"last"`
	Reason  string `json:"reason"`
	Pending int    `json:"pending"`
}

// GET /api/status
func (r *Router) handleStatus(w http.ResponseWriter, _ *http.Request) error {
	st := r.store.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		State:   st.State.String(),
		Last:    st.Last.String(),
		Reason:  st.Reason,
		Pending: st.Pending,
	})
	return nil
}

// GET /api/workspaces/{workspace}/assets
func (r *Router) handleListAssets(w http.ResponseWriter, req *http.Request) error {
	assets, err := r.store.FetchAssets(req.Context(), chi.URLParam(req, "workspace"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, assets)
	return nil
}

type assetRequest struct {
	RawRequest  *string `json:"raw_request"`
	RawResponse *string `json:"raw_response"`
	Method      string  `json:"method"`
	Endpoint    string  `json:"endpoint"`
	Source      string  `json:"source"`
}

// POST /api/workspaces/{workspace}/assets
func (r *Router) handleAddAsset(w http.ResponseWriter, req *http.Request) error {
	var body assetRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return &badRequest{msg: "decoding asset: " + err.Error()}
	}
	asset, err := r.store.AddAsset(req.Context(), models.AssetInput{
		WorkspaceID: chi.URLParam(req, "workspace"),
		Method:      models.Method(body.Method),
		Endpoint:    body.Endpoint,
		Source:      body.Source,
		RawRequest:  body.RawRequest,
		RawResponse: body.RawResponse,
	})
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, asset)
	return nil
}

type importResponse struct {
	*ingest.Report
	Summary string `json:"summary"`
	Skipped int    `json:"skipped"`
}

// POST /api/workspaces/{workspace}/imports?filename=&format=&strict=&spec_as_single=
// The request body is the raw document.
func (r *Router) handleImport(w http.ResponseWriter, req *http.Request) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, req.Body, r.maxBody))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return &tooLarge{limit: mbe.Limit}
		}
		return &badRequest{msg: "reading import body: " + err.Error()}
	}
	q := req.URL.Query()
	opts := ingest.ImportOptions{
		WorkspaceID: chi.URLParam(req, "workspace"),
		Filename:    q.Get("filename"),
		Format:      q.Get("format"),
		Source:      q.Get("source"),
	}
	if opts.Strict, err = boolParam(q.Get("strict")); err != nil {
		return err
	}
	if opts.SpecAsSingleAsset, err = boolParam(q.Get("spec_as_single")); err != nil {
		return err
	}

	report, err := r.importer.Import(req.Context(), data, opts)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, importResponse{Report: report, Summary: report.Summary(), Skipped: report.Skipped()})
	return nil
}

func boolParam(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &badRequest{msg: "invalid boolean " + strconv.Quote(v)}
	}
	return b, nil
}

// DELETE /api/assets/{id}
func (r *Router) handleDeleteAsset(w http.ResponseWriter, req *http.Request) error {
	if err := r.store.DeleteAsset(req.Context(), chi.URLParam(req, "id")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /api/assets/{id}/findings
func (r *Router) handleListFindings(w http.ResponseWriter, req *http.Request) error {
	findings, err := r.store.FetchFindings(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, findings)
	return nil
}

type scanResponse struct {
	ScannedAt *time.Time            `json:"scanned_at,omitempty"`
	Findings  []models.Finding      `json:"findings"`
	Summary   models.FindingSummary `json:"summary"`
	Discarded bool                  `json:"discarded"`
}

// POST /api/assets/{id}/scan
func (r *Router) handleScan(w http.ResponseWriter, req *http.Request) error {
	res, err := r.store.RunScan(req.Context(), chi.URLParam(req, "id"))
	if err != nil {
		return err
	}
	out := scanResponse{Findings: res.Findings, Discarded: res.Discarded, Summary: models.Summarize(res.Findings)}
	if out.Findings == nil {
		out.Findings = []models.Finding{}
	}
	if !res.ScannedAt.IsZero() {
		out.ScannedAt = &res.ScannedAt
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

// PATCH /api/findings/{id} with {"status": "Acknowledged"}
func (r *Router) handleTriage(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return &badRequest{msg: "decoding triage request: " + err.Error()}
	}
	status, err := models.ParseStatus(body.Status)
	if err != nil {
		return &ingest.ValidationError{Field: "status", Reason: err.Error()}
	}
	updated, err := r.store.TriageFinding(req.Context(), chi.URLParam(req, "id"), status)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, updated)
	return nil
}
