package store

import (
	"context"
	"fmt"

	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/scanner"
)

// FetchFindings loads an asset's findings. Like FetchAssets, only the latest
// issued fetch per asset is applied. A fetch is also dropped when a scan or
// triage changed the asset's findings after it was issued, or when the asset
// was deleted meanwhile.
func (s *Store) FetchFindings(ctx context.Context, assetID string) ([]models.Finding, error) {
	s.mu.Lock()
	if s.deleted(assetID) {
		s.mu.Unlock()
		return []models.Finding{}, nil
	}
	s.findingSeq++
	seq := s.findingSeq
	s.latestFindings[assetID] = seq
	issued := s.findingsGen[assetID]
	tracked := s.trackFetchLocked()
	s.beginLocked()
	s.mu.Unlock()

	findings, err := s.repo.GetFindings(ctx, assetID)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.untrackFetchLocked(tracked)
	if err != nil {
		rerr := &RepositoryError{Op: "get_findings", Err: err}
		s.resolveLocked(rerr)
		s.logger.Error("Failed to fetch findings", "asset_id", assetID, "error", err)
		return nil, rerr
	}
	s.resolveLocked(nil)

	switch {
	case s.deleted(assetID):
		s.logger.Debug("Discarding findings of deleted asset", "asset_id", assetID)
		return []models.Finding{}, nil
	case s.latestFindings[assetID] != seq:
		s.logger.Debug("Discarding superseded findings fetch", "asset_id", assetID, "seq", seq)
	case s.findingsGen[assetID] != issued:
		s.logger.Debug("Discarding findings fetch overtaken by local change", "asset_id", assetID)
	default:
		if findings == nil {
			findings = []models.Finding{}
		}
		s.findings[assetID] = cloneFindings(findings)
	}

	cached, ok := s.findings[assetID]
	if !ok {
		return []models.Finding{}, nil
	}
	return cloneFindings(cached), nil
}

// RunScan scans one asset and replaces its cached findings with the result,
// setting last_scanned. When the asset is deleted while the scan runs the
// result is discarded and Result.Discarded is set. Scanner errors, including
// timeouts and conflicts, are returned unchanged and leave the cache as is.
func (s *Store) RunScan(ctx context.Context, assetID string) (scanner.Result, error) {
	s.mu.Lock()
	if s.deleted(assetID) {
		s.mu.Unlock()
		return scanner.Result{}, fmt.Errorf("asset %s: %w", assetID, ErrAssetNotFound)
	}
	s.beginLocked()
	s.mu.Unlock()

	res, err := s.scans.Run(ctx, assetID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.resolveLocked(err)
		return scanner.Result{}, err
	}
	s.resolveLocked(nil)

	if res.Discarded || s.deleted(assetID) {
		s.logger.Info("Discarded scan result for deleted asset", "asset_id", assetID)
		return scanner.Result{Discarded: true}, nil
	}

	s.gen++
	s.findings[assetID] = cloneFindings(res.Findings)
	s.findingsGen[assetID] = s.gen
	if a, ok := s.assets[assetID]; ok {
		scanned := res.ScannedAt
		a.LastScanned = &scanned
		s.assets[assetID] = a
	}
	s.logger.Info("Scan applied", "asset_id", assetID, "findings", len(res.Findings))
	return res, nil
}

// TriageFinding moves a finding to a new status if the transition table allows it.
func (s *Store) TriageFinding(ctx context.Context, findingID string, to models.FindingStatus) (models.Finding, error) {
	if !models.IsValidStatus(to) {
		return models.Finding{}, &ingest.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	triager, ok := s.repo.(Triager)
	if !ok {
		return models.Finding{}, ErrTriageUnsupported
	}

	current, cached := s.cachedFinding(findingID)
	if !cached {
		f, err := triager.GetFinding(ctx, findingID)
		if err != nil {
			return models.Finding{}, &RepositoryError{Op: "get_finding", Err: err}
		}
		current = f
	}
	if !s.transitions.Allows(current.Status, to) {
		return models.Finding{}, &TransitionError{FindingID: findingID, From: current.Status, To: to}
	}

	s.mu.Lock()
	s.beginLocked()
	s.mu.Unlock()

	updated, err := triager.UpdateFindingStatus(ctx, findingID, to)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		rerr := &RepositoryError{Op: "update_finding_status", Err: err}
		s.resolveLocked(rerr)
		return models.Finding{}, rerr
	}
	s.resolveLocked(nil)

	list := s.findings[updated.AssetID]
	for i := range list {
		if list[i].ID == findingID {
			list[i].Status = updated.Status
			s.gen++
			s.findingsGen[updated.AssetID] = s.gen
			break
		}
	}
	s.logger.Info("Finding triaged", "finding_id", findingID, "from", current.Status, "to", updated.Status)
	return updated, nil
}

func (s *Store) cachedFinding(id string) (models.Finding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.findings {
		for _, f := range list {
			if f.ID == id {
				return f, true
			}
		}
	}
	return models.Finding{}, false
}
