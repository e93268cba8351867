package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

const instrumentationName = "github.com/joshsymonds/apisentry/internal/scanner"

// DefaultTimeout bounds a scan when no timeout is configured.
const DefaultTimeout = 2 * time.Minute

// Engine evaluates one asset and returns its findings. Calls are not
// idempotent; exclusivity is the orchestrator's job.
type Engine interface {
	RunScanAsset(ctx context.Context, assetID string) ([]models.Finding, error)
}

// Result is the outcome of one scan run.
type Result struct {
	ScannedAt time.Time
	Findings  []models.Finding
	// Discarded is set when the asset was invalidated while the scan ran.
	Discarded bool
}

type ticket struct {
	invalidated bool
}

// Orchestrator runs at most one scan per asset at a time.
type Orchestrator struct {
	engine   Engine
	logger   logger.Logger
	limiter  *rate.Limiter
	lease    Lease
	tracer   trace.Tracer
	runs     metric.Int64Counter
	duration metric.Float64Histogram
	inflight map[string]*ticket
	now      func() time.Time
	timeout  time.Duration
	mu       sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout bounds each scan.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRateLimit limits engine calls to perSecond with the given burst.
// Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(o *Orchestrator) {
		if perSecond <= 0 {
			o.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLease adds a cross-process lease taken before each scan.
func WithLease(l Lease) Option {
	return func(o *Orchestrator) {
		o.lease = l
	}
}

// WithClock overrides the clock used for ScannedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates a new scan orchestrator.
func NewOrchestrator(engine Engine, opts ...Option) *Orchestrator {
	return NewOrchestratorWithLogger(engine, logger.GetGlobalLogger(), opts...)
}

// NewOrchestratorWithLogger creates a new scan orchestrator with a custom logger.
func NewOrchestratorWithLogger(engine Engine, log logger.Logger, opts ...Option) *Orchestrator {
	meter := otel.Meter(instrumentationName)
	runs, _ := meter.Int64Counter("apisentry.scan.runs",
		metric.WithDescription("Scan runs by outcome"))
	duration, _ := meter.Float64Histogram("apisentry.scan.duration",
		metric.WithDescription("Scan engine wall time"),
		metric.WithUnit("s"))

	o := &Orchestrator{
		engine:   engine,
		logger:   log,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		tracer:   otel.Tracer(instrumentationName),
		runs:     runs,
		duration: duration,
		inflight: make(map[string]*ticket),
		now:      time.Now,
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Timeout returns the per-scan deadline.
func (o *Orchestrator) Timeout() time.Duration {
	return o.timeout
}

// IsRunning reports whether a scan for assetID is outstanding.
func (o *Orchestrator) IsRunning(assetID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[assetID]
	return ok
}

// Invalidate marks an outstanding scan so its result is discarded on completion.
// It is a no-op when no scan is running.
func (o *Orchestrator) Invalidate(assetID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if t, ok := o.inflight[assetID]; ok {
		t.invalidated = true
		o.logger.Debug("Invalidated outstanding scan", "asset_id", assetID)
	}
}

// Run scans one asset. A second call for the same asset while one is
// outstanding fails with ConflictError. Scans exceeding the timeout fail
// with ScanTimeoutError.
func (o *Orchestrator) Run(ctx context.Context, assetID string) (Result, error) {
	t, err := o.claim(assetID)
	if err != nil {
		o.record(ctx, "conflict")
		return Result{}, err
	}
	defer o.release(assetID, t)

	ctx, span := o.tracer.Start(ctx, "scanner.Run", trace.WithAttributes(attribute.String("apisentry.asset_id", assetID)))
	defer span.End()

	res, outcome, err := o.run(ctx, assetID, t)
	o.record(ctx, outcome)
	span.SetAttributes(attribute.String("apisentry.scan.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, assetID string, t *ticket) (Result, string, error) {
	log := o.logger.With("asset_id", assetID)

	if o.lease != nil {
		release, err := o.lease.Acquire(ctx, assetID, o.timeout)
		if err != nil {
			if IsConflictError(err) {
				return Result{}, "conflict", err
			}
			return Result{}, "error", NewScanError(assetID, ErrorTypeLease, err)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to release scan lease", "error", err)
			}
		}()
	}

	if err := o.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return Result{}, "canceled", NewScanError(assetID, ErrorTypeContext, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type outcome struct {
		err      error
		findings []models.Finding
	}
	done := make(chan outcome, 1)
	start := time.Now()
	log.Info("Running scan", "timeout", o.timeout)
	go func() {
		findings, err := o.engine.RunScanAsset(scanCtx, assetID)
		done <- outcome{findings: findings, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-scanCtx.Done():
		out.err = scanCtx.Err()
	}
	o.duration.Record(ctx, time.Since(start).Seconds())

	if o.invalidated(t) {
		log.Info("Discarding scan result for removed asset")
		return Result{Discarded: true}, "discarded", nil
	}

	if out.err != nil {
		if errors.Is(scanCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			log.Warn("Scan timed out", "elapsed", time.Since(start))
			return Result{}, "timeout", &ScanTimeoutError{AssetID: assetID, Timeout: o.timeout}
		}
		if ctx.Err() != nil {
			log.Warn("Scan stopped by caller", "error", ctx.Err())
			return Result{}, "canceled", NewScanError(assetID, ErrorTypeContext, ctx.Err())
		}
		log.Error("Scan failed", "error", out.err)
		return Result{}, "error", WrapError(assetID, out.err)
	}

	if out.findings == nil {
		out.findings = []models.Finding{}
	}
	log.Info("Scan complete", "findings", len(out.findings), "elapsed", time.Since(start))
	return Result{Findings: out.findings, ScannedAt: o.now().UTC()}, "success", nil
}

func (o *Orchestrator) claim(assetID string) (*ticket, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[assetID]; busy {
		return nil, &ConflictError{AssetID: assetID, Reason: "scan already in progress"}
	}
	t := &ticket{}
	o.inflight[assetID] = t
	return t, nil
}

func (o *Orchestrator) release(assetID string, t *ticket) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight[assetID] == t {
		delete(o.inflight, assetID)
	}
}

func (o *Orchestrator) invalidated(t *ticket) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return t.invalidated
}

func (o *Orchestrator) record(ctx context.Context, outcome string) {
	o.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
