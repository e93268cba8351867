package store

import (
	"context"

	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/models"
)

// FetchAssets loads a workspace's assets from the repository. The response is
// applied only if no later FetchAssets for the same workspace was issued;
// superseded responses are dropped and the current cache is returned.
func (s *Store) FetchAssets(ctx context.Context, workspaceID string) ([]models.Asset, error) {
	if workspaceID == "" {
		workspaceID = models.DefaultWorkspaceID
	}

	s.mu.Lock()
	s.assetSeq++
	seq := s.assetSeq
	s.latestAssets[workspaceID] = seq
	issued := s.trackFetchLocked()
	s.beginLocked()
	s.mu.Unlock()

	assets, err := s.repo.GetAssets(ctx, workspaceID)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.untrackFetchLocked(issued)
	if err != nil {
		rerr := &RepositoryError{Op: "get_assets", Err: err}
		s.resolveLocked(rerr)
		s.logger.Error("Failed to fetch assets", "workspace_id", workspaceID, "error", err)
		return nil, rerr
	}
	s.resolveLocked(nil)

	if s.latestAssets[workspaceID] != seq {
		s.logger.Debug("Discarding superseded asset fetch", "workspace_id", workspaceID, "seq", seq)
		return s.assetsLocked(workspaceID), nil
	}
	s.applyAssetsLocked(workspaceID, assets, issued)
	return s.assetsLocked(workspaceID), nil
}

// applyAssetsLocked replaces the workspace's cached assets with a repository
// snapshot taken at local generation issued. Local adds and deletes that
// completed after issue win over the snapshot.
func (s *Store) applyAssetsLocked(workspaceID string, assets []models.Asset, issued uint64) {
	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if t, ok := s.tombstones[a.ID]; ok {
			if t.workspaceID == "" {
				t.workspaceID = a.WorkspaceID
				s.tombstones[a.ID] = t
			}
			continue
		}
		seen[a.ID] = struct{}{}
		a = a.Clone()
		if cur, ok := s.assets[a.ID]; ok {
			a.LastScanned = laterOf(cur.LastScanned, a.LastScanned)
		}
		s.assets[a.ID] = a
	}

	for id, a := range s.assets {
		if a.WorkspaceID != workspaceID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		if gen, ok := s.addedGen[id]; ok && gen > issued {
			continue
		}
		delete(s.assets, id)
		delete(s.findings, id)
	}

	for id, gen := range s.addedGen {
		if gen > issued {
			continue
		}
		if a, ok := s.assets[id]; !ok || a.WorkspaceID == workspaceID {
			delete(s.addedGen, id)
		}
	}
	for id, t := range s.tombstones {
		if _, ok := seen[id]; !ok && t.workspaceID == workspaceID && t.gen <= issued {
			delete(s.tombstones, id)
		}
	}
}

// AddAsset validates and persists a new asset, then appends it to the cache.
// Each call creates a distinct asset. It satisfies ingest.AssetAdder so
// imports flow through the cache.
func (s *Store) AddAsset(ctx context.Context, in models.AssetInput) (models.Asset, error) {
	method, endpoint, err := ingest.NormalizeDraft(ingest.Draft{Method: string(in.Method), Endpoint: in.Endpoint})
	if err != nil {
		return models.Asset{}, err
	}
	in.Method = method
	in.Endpoint = endpoint
	if in.WorkspaceID == "" {
		in.WorkspaceID = models.DefaultWorkspaceID
	}
	if in.Source == "" {
		in.Source = models.SourceManualEntry
	}

	s.mu.Lock()
	s.beginLocked()
	s.mu.Unlock()

	asset, err := s.repo.AddAsset(ctx, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		rerr := &RepositoryError{Op: "add_asset", Err: err}
		s.resolveLocked(rerr)
		return models.Asset{}, rerr
	}
	s.resolveLocked(nil)

	if _, exists := s.assets[asset.ID]; !exists && !s.deleted(asset.ID) {
		s.gen++
		s.assets[asset.ID] = asset.Clone()
		s.addedGen[asset.ID] = s.gen
	}
	s.logger.Debug("Added asset", "asset_id", asset.ID, "method", asset.Method, "endpoint", asset.Endpoint)
	return asset.Clone(), nil
}

// DeleteAsset removes an asset and its findings. Any scan in flight for it is
// invalidated first so its result is discarded. Deleting an unknown id succeeds.
func (s *Store) DeleteAsset(ctx context.Context, id string) error {
	s.scans.Invalidate(id)

	s.mu.Lock()
	s.beginLocked()
	s.mu.Unlock()

	err := s.repo.DeleteAsset(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		rerr := &RepositoryError{Op: "delete_asset", Err: err}
		s.resolveLocked(rerr)
		s.logger.Error("Failed to delete asset", "asset_id", id, "error", err)
		return rerr
	}
	s.resolveLocked(nil)

	s.gen++
	t := tombstone{gen: s.gen}
	if a, ok := s.assets[id]; ok {
		t.workspaceID = a.WorkspaceID
	}
	s.tombstones[id] = t
	delete(s.assets, id)
	delete(s.findings, id)
	delete(s.addedGen, id)
	delete(s.findingsGen, id)
	s.pruneTombstonesLocked()
	s.logger.Info("Deleted asset", "asset_id", id)
	return nil
}
