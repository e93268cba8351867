package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/apisentry/internal/models"
)

// Operation names accepted by Hold and FailNext.
const (
	OpGetAssets           = "get_assets"
	OpGetAsset            = "get_asset"
	OpAddAsset            = "add_asset"
	OpDeleteAsset         = "delete_asset"
	OpGetFindings         = "get_findings"
	OpGetFinding          = "get_finding"
	OpReplaceFindings     = "replace_findings"
	OpUpdateFindingStatus = "update_finding_status"
)

// ErrNotFound is returned for unknown assets and findings.
var ErrNotFound = errors.New("not found")

// Repository is an in-memory repository. Reads take their snapshot when
// called and writes apply immediately; a held call only delays the response.
type Repository struct {
	gates    gates
	failures map[string][]error
	calls    map[string]int
	assets   map[string]models.Asset
	findings map[string][]models.Finding
	base     time.Time
	seq      int
	mu       sync.Mutex
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		assets:   make(map[string]models.Asset),
		findings: make(map[string][]models.Finding),
		base:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Hold makes the next call of op block after doing its work until the gate is released.
func (r *Repository) Hold(op string) *Gate {
	return r.gates.hold(op)
}

// FailNext makes the next call of op fail with err without touching state.
func (r *Repository) FailNext(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = append(r.failures[op], err)
}

// Calls returns how many times op was called.
func (r *Repository) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Seed stores an asset directly and returns it with id and timestamps set.
func (r *Repository) Seed(in models.AssetInput) models.Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(in)
}

// SeedFindings replaces an asset's stored findings directly.
func (r *Repository) SeedFindings(assetID string, findings ...models.Finding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.findings[assetID] = append([]models.Finding(nil), findings...)
}

// begin counts the call and pops an injected failure.
func (r *Repository) begin(op string) error {
	r.calls[op]++
	q := r.failures[op]
	if len(q) == 0 {
		return nil
	}
	r.failures[op] = q[1:]
	return q[0]
}

func (r *Repository) insertLocked(in models.AssetInput) models.Asset {
	r.seq++
	a := models.Asset{
		ID:          uuid.NewString(),
		WorkspaceID: in.WorkspaceID,
		Method:      in.Method,
		Endpoint:    in.Endpoint,
		Source:      in.Source,
		RawRequest:  in.RawRequest,
		RawResponse: in.RawResponse,
		CreatedAt:   r.base.Add(time.Duration(r.seq) * time.Second),
	}
	if a.WorkspaceID == "" {
		a.WorkspaceID = models.DefaultWorkspaceID
	}
	r.assets[a.ID] = a
	return a.Clone()
}

// GetAssets returns a workspace's assets in creation order.
func (r *Repository) GetAssets(ctx context.Context, workspaceID string) ([]models.Asset, error) {
	r.mu.Lock()
	if err := r.begin(OpGetAssets); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	out := []models.Asset{}
	for _, a := range r.assets {
		if a.WorkspaceID == workspaceID {
			out = append(out, a.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if err := r.gates.wait(ctx, OpGetAssets); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAsset returns one asset.
func (r *Repository) GetAsset(ctx context.Context, id string) (models.Asset, error) {
	r.mu.Lock()
	if err := r.begin(OpGetAsset); err != nil {
		r.mu.Unlock()
		return models.Asset{}, err
	}
	a, ok := r.assets[id]
	r.mu.Unlock()

	if err := r.gates.wait(ctx, OpGetAsset); err != nil {
		return models.Asset{}, err
	}
	if !ok {
		return models.Asset{}, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

// AddAsset creates a new asset with a fresh id.
func (r *Repository) AddAsset(ctx context.Context, in models.AssetInput) (models.Asset, error) {
	r.mu.Lock()
	if err := r.begin(OpAddAsset); err != nil {
		r.mu.Unlock()
		return models.Asset{}, err
	}
	a := r.insertLocked(in)
	r.mu.Unlock()

	if err := r.gates.wait(ctx, OpAddAsset); err != nil {
		return models.Asset{}, err
	}
	return a, nil
}

// DeleteAsset removes an asset and its findings. Unknown ids succeed.
func (r *Repository) DeleteAsset(ctx context.Context, id string) error {
	r.mu.Lock()
	if err := r.begin(OpDeleteAsset); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.assets, id)
	delete(r.findings, id)
	r.mu.Unlock()

	return r.gates.wait(ctx, OpDeleteAsset)
}

// GetFindings returns an asset's findings.
func (r *Repository) GetFindings(ctx context.Context, assetID string) ([]models.Finding, error) {
	r.mu.Lock()
	if err := r.begin(OpGetFindings); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	out := append([]models.Finding{}, r.findings[assetID]...)
	r.mu.Unlock()

	if err := r.gates.wait(ctx, OpGetFindings); err != nil {
		return nil, err
	}
	return out, nil
}

// GetFinding returns one finding.
func (r *Repository) GetFinding(ctx context.Context, id string) (models.Finding, error) {
	r.mu.Lock()
	if err := r.begin(OpGetFinding); err != nil {
		r.mu.Unlock()
		return models.Finding{}, err
	}
	f, ok := r.findFindingLocked(id)
	r.mu.Unlock()

	if err := r.gates.wait(ctx, OpGetFinding); err != nil {
		return models.Finding{}, err
	}
	if !ok {
		return models.Finding{}, fmt.Errorf("finding %s: %w", id, ErrNotFound)
	}
	return f, nil
}

// ReplaceFindings swaps an asset's findings and stamps last_scanned.
func (r *Repository) ReplaceFindings(ctx context.Context, assetID string, findings []models.Finding, scannedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.begin(OpReplaceFindings); err != nil {
		return err
	}
	a, ok := r.assets[assetID]
	if !ok {
		return fmt.Errorf("asset %s: %w", assetID, ErrNotFound)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.LastScanned = &scannedAt
	r.assets[assetID] = a
	r.findings[assetID] = append([]models.Finding(nil), findings...)
	return nil
}

// UpdateFindingStatus sets a finding's status.
func (r *Repository) UpdateFindingStatus(ctx context.Context, id string, status models.FindingStatus) (models.Finding, error) {
	r.mu.Lock()
	if err := r.begin(OpUpdateFindingStatus); err != nil {
		r.mu.Unlock()
		return models.Finding{}, err
	}
	var updated models.Finding
	found := false
	for _, list := range r.findings {
		for i := range list {
			if list[i].ID == id {
				list[i].Status = status
				updated = list[i]
				found = true
			}
		}
	}
	r.mu.Unlock()

	if err := r.gates.wait(ctx, OpUpdateFindingStatus); err != nil {
		return models.Finding{}, err
	}
	if !found {
		return models.Finding{}, fmt.Errorf("finding %s: %w", id, ErrNotFound)
	}
	return updated, nil
}

// StoredAsset returns the repository's copy of an asset.
func (r *Repository) StoredAsset(id string) (models.Asset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	return a.Clone(), ok
}

// StoredFindings returns the repository's copy of an asset's findings.
func (r *Repository) StoredFindings(assetID string) []models.Finding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Finding(nil), r.findings[assetID]...)
}

func (r *Repository) findFindingLocked(id string) (models.Finding, bool) {
	for _, list := range r.findings {
		for _, f := range list {
			if f.ID == id {
				return f, true
			}
		}
	}
	return models.Finding{}, false
}
