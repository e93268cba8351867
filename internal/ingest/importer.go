package ingest

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

const instrumentationName = "github.com/joshsymonds/apisentry/internal/ingest"

// AssetAdder persists one normalized asset. The asset store satisfies it.
type AssetAdder interface {
	AddAsset(ctx context.Context, in models.AssetInput) (models.Asset, error)
}

// ImportOptions controls a single import call.
type ImportOptions struct {
	WorkspaceID string
	// Source labels the assets; derived from Filename when empty.
	Source string
	// Filename is used as the detection hint and for the default source label.
	Filename string
	// Format forces a variant by name instead of detecting it.
	Format string
	// Strict turns undetectable structured input into a FormatDetectionError.
	Strict bool
	// SpecAsSingleAsset stages an OpenAPI document as one ANY asset.
	SpecAsSingleAsset bool
}

// Report summarizes an import.
type Report struct {
	Imported    []models.Asset `json:"imported"`
	Diagnostics []Diagnostic   `json:"diagnostics"`
	Variant     Variant        `json:"variant"`
	Duplicates  int            `json:"duplicates"`
	Failed      int            `json:"failed"`
}

// Skipped counts items that did not become assets, excluding merged duplicates.
func (r *Report) Skipped() int {
	return len(r.Diagnostics)
}

// Summary renders "N imported, M skipped".
func (r *Report) Summary() string {
	s := fmt.Sprintf("%d imported, %d skipped", len(r.Imported), r.Skipped())
	if r.Duplicates > 0 {
		s += fmt.Sprintf(", %d duplicates merged", r.Duplicates)
	}
	return s
}

// Plan is the persisted-nothing result of running detection, parsing and
// normalization over one document.
type Plan struct {
	Inputs      []models.AssetInput
	Diagnostics []Diagnostic
	Variant     Variant
	Duplicates  int
}

// Importer runs the ingestion pipeline and hands assets to an AssetAdder.
type Importer struct {
	adder       AssetAdder
	logger      logger.Logger
	imported    metric.Int64Counter
	skipped     metric.Int64Counter
	concurrency int
}

// NewImporter creates an importer using the global logger.
func NewImporter(adder AssetAdder, concurrency int) *Importer {
	return NewImporterWithLogger(adder, concurrency, logger.GetGlobalLogger())
}

// NewImporterWithLogger creates an importer with a custom logger.
func NewImporterWithLogger(adder AssetAdder, concurrency int, log logger.Logger) *Importer {
	if concurrency < 1 {
		concurrency = 1
	}
	meter := otel.Meter(instrumentationName)
	imported, _ := meter.Int64Counter("apisentry.import.assets",
		metric.WithDescription("Assets created by imports"))
	skipped, _ := meter.Int64Counter("apisentry.import.skipped",
		metric.WithDescription("Import items skipped with a diagnostic"))
	return &Importer{
		adder:       adder,
		logger:      log,
		imported:    imported,
		skipped:     skipped,
		concurrency: concurrency,
	}
}

// PlanImport detects, parses and normalizes data without persisting anything.
func PlanImport(data []byte, opts ImportOptions) (*Plan, error) {
	variant, err := resolveVariant(data, opts)
	if err != nil {
		return nil, err
	}

	var parsed ParseResult
	if opts.SpecAsSingleAsset && variant.IsOpenAPI() {
		parsed, err = parseOpenAPIDocument(variant, data)
	} else {
		parsed, err = Parse(variant, data)
	}
	if err != nil {
		return nil, err
	}

	norm := Normalize(parsed.Drafts, NormalizeOptions{
		WorkspaceID: workspaceOrDefault(opts.WorkspaceID),
		Source:      sourceLabel(opts),
	})
	return &Plan{
		Variant:     variant,
		Inputs:      norm.Inputs,
		Diagnostics: append(parsed.Diagnostics, norm.Diagnostics...),
		Duplicates:  norm.Duplicates,
	}, nil
}

// Import runs the full pipeline. Per-item failures are reported in the
// returned Report; only undetectable or unreadable documents fail the call.
// When ctx ends mid-import the partial Report is returned with the error.
func (im *Importer) Import(ctx context.Context, data []byte, opts ImportOptions) (*Report, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "ingest.Import")
	defer span.End()

	plan, err := PlanImport(data, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		im.logger.Warn("Import rejected", "file", opts.Filename, "error", err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("apisentry.import.variant", plan.Variant.String()),
		attribute.Int("apisentry.import.candidates", len(plan.Inputs)),
	)
	im.logger.Debug("Import planned",
		"variant", plan.Variant.String(),
		"candidates", len(plan.Inputs),
		"diagnostics", len(plan.Diagnostics),
		"duplicates", plan.Duplicates)

	report := &Report{
		Variant:     plan.Variant,
		Diagnostics: plan.Diagnostics,
		Duplicates:  plan.Duplicates,
	}

	assets := make([]*models.Asset, len(plan.Inputs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for i, in := range plan.Inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			asset, err := im.adder.AddAsset(gctx, in)
			if err != nil {
				im.logger.Warn("Failed to persist imported asset",
					"method", in.Method, "endpoint", in.Endpoint, "error", err)
				mu.Lock()
				report.Failed++
				report.Diagnostics = append(report.Diagnostics, Diagnostic{
					Stage: StagePersist, ItemIndex: i, Reason: err.Error(),
				})
				mu.Unlock()
				return nil
			}
			assets[i] = &asset
			return nil
		})
	}
	werr := g.Wait()
	for _, a := range assets {
		if a != nil {
			report.Imported = append(report.Imported, *a)
		}
	}
	if werr != nil {
		span.RecordError(werr)
		im.logger.Warn("Import interrupted", "imported", len(report.Imported), "error", werr)
		return report, fmt.Errorf("import interrupted: %w", werr)
	}

	variantAttr := metric.WithAttributes(attribute.String("variant", plan.Variant.String()))
	im.imported.Add(ctx, int64(len(report.Imported)), variantAttr)
	im.skipped.Add(ctx, int64(report.Skipped()), variantAttr)
	im.logger.Info("Import complete",
		"variant", plan.Variant.String(),
		"imported", len(report.Imported),
		"skipped", report.Skipped(),
		"duplicates", report.Duplicates)
	return report, nil
}

func resolveVariant(data []byte, opts ImportOptions) (Variant, error) {
	if opts.Format != "" {
		return ParseVariant(opts.Format)
	}
	if opts.Strict {
		return DetectStrict(data, opts.Filename)
	}
	return Detect(data), nil
}

func sourceLabel(opts ImportOptions) string {
	switch {
	case opts.Source != "":
		return opts.Source
	case opts.Filename != "" && opts.Filename != "-":
		return models.SourceFileImport
	default:
		return models.SourceManualPaste
	}
}

func workspaceOrDefault(id string) string {
	if id == "" {
		return models.DefaultWorkspaceID
	}
	return id
}
