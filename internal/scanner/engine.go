package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

// Repository is the persistence boundary the passive engine reads from and
// writes results to.
type Repository interface {
	GetAsset(ctx context.Context, id string) (models.Asset, error)
	ReplaceFindings(ctx context.Context, assetID string, findings []models.Finding, scannedAt time.Time) error
}

// PassiveEngine evaluates stored traffic without touching the network and
// persists each run's findings in place of the previous run's.
type PassiveEngine struct {
	repo   Repository
	logger logger.Logger
	now    func() time.Time
	checks []Check
}

// NewPassiveEngine creates an engine running checks against repo.
func NewPassiveEngine(repo Repository, checks []Check) *PassiveEngine {
	return NewPassiveEngineWithLogger(repo, checks, logger.GetGlobalLogger())
}

// NewPassiveEngineWithLogger creates an engine with a custom logger.
func NewPassiveEngineWithLogger(repo Repository, checks []Check, log logger.Logger) *PassiveEngine {
	if checks == nil {
		checks = DefaultChecks(nil)
	}
	return &PassiveEngine{repo: repo, checks: checks, logger: log, now: time.Now}
}

// Evaluate runs every check against asset without persisting anything.
func (e *PassiveEngine) Evaluate(asset models.Asset) []models.Finding {
	ex := ParseExchange(models.Deref(asset.RawRequest), models.Deref(asset.RawResponse))
	findings := []models.Finding{}
	for _, c := range e.checks {
		found := c.Evaluate(asset, ex)
		if len(found) > 0 {
			e.logger.Debug("Check matched", "check", c.Name(), "asset_id", asset.ID, "count", len(found))
		}
		findings = append(findings, found...)
	}
	return findings
}

// RunScanAsset implements Engine.
func (e *PassiveEngine) RunScanAsset(ctx context.Context, assetID string) ([]models.Finding, error) {
	asset, err := e.repo.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("loading asset: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	findings := e.Evaluate(asset)
	if err := e.repo.ReplaceFindings(ctx, assetID, findings, e.now().UTC()); err != nil {
		return nil, fmt.Errorf("storing findings: %w", err)
	}
	return findings, nil
}
