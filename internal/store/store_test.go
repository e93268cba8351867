package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/scanner"
	"github.com/joshsymonds/apisentry/internal/store/storetest"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

const ws = models.DefaultWorkspaceID

type fixture struct {
	repo   *storetest.Repository
	engine *storetest.Engine
	store  *Store
	log    *logger.MockLogger
}

func newFixture(t *testing.T, opts ...scanner.Option) *fixture {
	t.Helper()
	repo := storetest.NewRepository()
	engine := storetest.NewEngine(repo, 2)
	log := logger.NewMockLogger()
	orch := scanner.NewOrchestratorWithLogger(engine, log, opts...)
	return &fixture{
		repo:   repo,
		engine: engine,
		store:  NewWithLogger(repo, orch, log),
		log:    log,
	}
}

func input(method models.Method, endpoint string) models.AssetInput {
	return models.AssetInput{WorkspaceID: ws, Method: method, Endpoint: endpoint, Source: models.SourceManualEntry}
}

func ids(assets []models.Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.ID
	}
	return out
}

type fetchResult struct {
	err    error
	assets []models.Asset
}

func fetchAsync(s *Store) <-chan fetchResult {
	ch := make(chan fetchResult, 1)
	go func() {
		assets, err := s.FetchAssets(context.Background(), ws)
		ch <- fetchResult{assets: assets, err: err}
	}()
	return ch
}

func TestFetchAssetsLaterIssuedWins(t *testing.T) {
	f := newFixture(t)
	x := f.repo.Seed(input(models.MethodGet, "/x"))

	gate := f.repo.Hold(storetest.OpGetAssets)
	first := fetchAsync(f.store)
	gate.Wait(t)

	y := f.repo.Seed(input(models.MethodGet, "/y"))
	got, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, []string{x.ID, y.ID}, ids(got))

	gate.Release()
	res := <-first
	require.NoError(t, res.err)
	assert.Equal(t, []string{x.ID, y.ID}, ids(res.assets), "superseded fetch returns the current cache")
	assert.Equal(t, []string{x.ID, y.ID}, ids(f.store.Assets(ws)))
	assert.True(t, f.log.HasMessage("DEBUG", "Discarding superseded asset fetch"))
}

func TestFetchAssetsStaleResponseDoesNotResurrect(t *testing.T) {
	f := newFixture(t)
	x := f.repo.Seed(input(models.MethodGet, "/x"))
	y := f.repo.Seed(input(models.MethodGet, "/y"))

	gate := f.repo.Hold(storetest.OpGetAssets)
	first := fetchAsync(f.store)
	gate.Wait(t)

	require.NoError(t, f.repo.DeleteAsset(context.Background(), y.ID))
	_, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)

	gate.Release()
	<-first
	assert.Equal(t, []string{x.ID}, ids(f.store.Assets(ws)))
}

func TestFetchAssetsKeepsAddCompletedAfterIssue(t *testing.T) {
	f := newFixture(t)
	gate := f.repo.Hold(storetest.OpGetAssets)
	pending := fetchAsync(f.store)
	gate.Wait(t)

	added, err := f.store.AddAsset(context.Background(), input(models.MethodPost, "/new"))
	require.NoError(t, err)

	gate.Release()
	res := <-pending
	require.NoError(t, res.err)
	assert.Equal(t, []string{added.ID}, ids(f.store.Assets(ws)))

	// A fetch issued after the add confirms it as usual.
	got, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, []string{added.ID}, ids(got))
}

func TestFetchAssetsIgnoresDeleteCompletedAfterIssue(t *testing.T) {
	f := newFixture(t)
	x := f.repo.Seed(input(models.MethodGet, "/x"))
	_, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)

	gate := f.repo.Hold(storetest.OpGetAssets)
	pending := fetchAsync(f.store)
	gate.Wait(t)
	require.NoError(t, f.store.DeleteAsset(context.Background(), x.ID))
	gate.Release()
	<-pending

	_, ok := f.store.Asset(x.ID)
	assert.False(t, ok)
	assert.Empty(t, f.store.Assets(ws))
}

func TestFetchAssetsKeepsNewerLastScanned(t *testing.T) {
	f := newFixture(t)
	x := f.repo.Seed(input(models.MethodGet, "/x"))
	_, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)

	gate := f.repo.Hold(storetest.OpGetAssets)
	pending := fetchAsync(f.store)
	gate.Wait(t)
	_, err = f.store.RunScan(context.Background(), x.ID)
	require.NoError(t, err)
	gate.Release()
	<-pending

	a, ok := f.store.Asset(x.ID)
	require.True(t, ok)
	assert.NotNil(t, a.LastScanned)
}

func TestFetchAssetsError(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(input(models.MethodGet, "/x"))
	_, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)

	f.repo.FailNext(storetest.OpGetAssets, errors.New("connection reset"))
	_, err = f.store.FetchAssets(context.Background(), ws)
	require.Error(t, err)
	assert.True(t, IsRepositoryError(err))
	assert.Len(t, f.store.Assets(ws), 1, "cache keeps last known-good state")

	status := f.store.Status()
	assert.Equal(t, StateError, status.State)
	assert.Contains(t, status.Reason, "connection reset")
}

func TestFetchAssetsWorkspacesAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.repo.Seed(input(models.MethodGet, "/default"))
	other := f.repo.Seed(models.AssetInput{WorkspaceID: "other", Method: models.MethodGet, Endpoint: "/other"})

	_, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)
	got, err := f.store.FetchAssets(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, ids(got))
	assert.Len(t, f.store.Assets(ws), 1)
}

func TestAddAssetTwiceCreatesDistinctAssets(t *testing.T) {
	f := newFixture(t)
	in := input(models.MethodGet, "/api/v1/users")
	in.RawRequest = models.StringPtr("GET /api/v1/users HTTP/1.1\r\n\r\n")

	a, err := f.store.AddAsset(context.Background(), in)
	require.NoError(t, err)
	b, err := f.store.AddAsset(context.Background(), in)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Len(t, f.store.Assets(ws), 2)
}

func TestAddAssetNormalizesAndValidates(t *testing.T) {
	f := newFixture(t)

	a, err := f.store.AddAsset(context.Background(), models.AssetInput{Method: "post", Endpoint: "  /orders#frag "})
	require.NoError(t, err)
	assert.Equal(t, models.MethodPost, a.Method)
	assert.Equal(t, "/orders", a.Endpoint)
	assert.Equal(t, ws, a.WorkspaceID)
	assert.Equal(t, models.SourceManualEntry, a.Source)

	_, err = f.store.AddAsset(context.Background(), models.AssetInput{Method: "HEAD", Endpoint: "/x"})
	assert.True(t, ingest.IsValidationError(err))
	_, err = f.store.AddAsset(context.Background(), models.AssetInput{Method: "GET", Endpoint: "  "})
	assert.True(t, ingest.IsValidationError(err))
	assert.Equal(t, 1, f.repo.Calls(storetest.OpAddAsset))
}

func TestAddAssetRepositoryError(t *testing.T) {
	f := newFixture(t)
	f.repo.FailNext(storetest.OpAddAsset, errors.New("disk full"))

	_, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	var rerr *RepositoryError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "add_asset", rerr.Op)
	assert.True(t, rerr.Retryable())
	assert.Empty(t, f.store.Assets(ws))
}

func TestDeleteAsset(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)
	_, err = f.store.RunScan(context.Background(), a.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.DeleteAsset(context.Background(), a.ID))
	_, ok := f.store.Asset(a.ID)
	assert.False(t, ok)
	_, ok = f.store.Findings(a.ID)
	assert.False(t, ok, "no orphaned findings")

	assert.NoError(t, f.store.DeleteAsset(context.Background(), a.ID), "deleting twice succeeds")
	assert.NoError(t, f.store.DeleteAsset(context.Background(), "never-existed"))
}

func TestDeleteAssetRepositoryError(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)

	f.repo.FailNext(storetest.OpDeleteAsset, errors.New("locked"))
	err = f.store.DeleteAsset(context.Background(), a.ID)
	assert.True(t, IsRepositoryError(err))
	_, ok := f.store.Asset(a.ID)
	assert.True(t, ok)
}

func TestRunScanReplacesFindings(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/users/1"))
	require.NoError(t, err)

	first, err := f.store.RunScan(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, first.Findings, 2)

	second, err := f.store.RunScan(context.Background(), a.ID)
	require.NoError(t, err)

	cached, ok := f.store.Findings(a.ID)
	require.True(t, ok)
	require.Len(t, cached, 2, "findings are replaced, never unioned")
	for _, finding := range cached {
		assert.True(t, strings.HasPrefix(finding.Description, "run 2"), finding.Description)
	}
	assert.Equal(t, second.Findings[0].ID, cached[0].ID)

	stored, ok := f.store.Asset(a.ID)
	require.True(t, ok)
	require.NotNil(t, stored.LastScanned)
	assert.Equal(t, second.ScannedAt, *stored.LastScanned)
}

func TestDeleteDuringScanDiscardsResult(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)

	gate := f.engine.Hold()
	type scanResult struct {
		err error
		res scanner.Result
	}
	done := make(chan scanResult, 1)
	go func() {
		res, err := f.store.RunScan(context.Background(), a.ID)
		done <- scanResult{res: res, err: err}
	}()
	gate.Wait(t)

	require.NoError(t, f.store.DeleteAsset(context.Background(), a.ID))
	gate.Release()

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.res.Discarded)
	_, ok := f.store.Asset(a.ID)
	assert.False(t, ok)
	_, ok = f.store.Findings(a.ID)
	assert.False(t, ok)
	assert.Empty(t, f.repo.StoredFindings(a.ID))
}

func TestDuplicateScanIsRejected(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)

	gate := f.engine.Hold()
	done := make(chan error, 1)
	go func() {
		_, err := f.store.RunScan(context.Background(), a.ID)
		done <- err
	}()
	gate.Wait(t)

	_, err = f.store.RunScan(context.Background(), a.ID)
	assert.True(t, scanner.IsConflictError(err))

	gate.Release()
	require.NoError(t, <-done)
	assert.Equal(t, 1, f.engine.Calls(a.ID))
}

func TestScanTimeoutLeavesAssetUnchanged(t *testing.T) {
	f := newFixture(t, scanner.WithTimeout(20*time.Millisecond))
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/slow"))
	require.NoError(t, err)

	gate := f.engine.Hold()
	t.Cleanup(gate.Release)

	_, err = f.store.RunScan(context.Background(), a.ID)
	require.Error(t, err)
	assert.True(t, scanner.IsTimeoutError(err))

	cached, ok := f.store.Asset(a.ID)
	require.True(t, ok)
	assert.Nil(t, cached.LastScanned)
	_, ok = f.store.Findings(a.ID)
	assert.False(t, ok)
	assert.Equal(t, StateError, f.store.Status().State)
}

func TestRunScanEngineFailureKeepsPreviousFindings(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)
	first, err := f.store.RunScan(context.Background(), a.ID)
	require.NoError(t, err)

	f.engine.FailNext(errors.New("engine crashed"))
	_, err = f.store.RunScan(context.Background(), a.ID)
	assert.True(t, scanner.IsEngineError(err))

	cached, _ := f.store.Findings(a.ID)
	assert.Equal(t, first.Findings[0].ID, cached[0].ID)
}

func TestDeleteUnknownAssetsDoesNotGrowTombstones(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 1000; i++ {
		require.NoError(t, f.store.DeleteAsset(context.Background(), fmt.Sprintf("ghost-%d", i)))
	}
	for i := 0; i < 3; i++ {
		_, err := f.store.FetchAssets(context.Background(), ws)
		require.NoError(t, err)
	}

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Empty(t, f.store.tombstones)
	assert.Empty(t, f.store.fetching)
}

func TestDeleteUncachedAssetDuringFetch(t *testing.T) {
	f := newFixture(t)
	x := f.repo.Seed(input(models.MethodGet, "/x"))

	gate := f.repo.Hold(storetest.OpGetAssets)
	pending := fetchAsync(f.store)
	gate.Wait(t)
	require.NoError(t, f.store.DeleteAsset(context.Background(), x.ID))
	gate.Release()
	res := <-pending
	require.NoError(t, res.err)
	assert.Empty(t, ids(res.assets), "snapshot taken before the delete must not resurrect it")

	_, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)
	assert.Empty(t, f.store.Assets(ws))

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.Empty(t, f.store.tombstones)
}

func TestRunScanDeletedAsset(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteAsset(context.Background(), a.ID))

	_, err = f.store.RunScan(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrAssetNotFound)
	assert.Zero(t, f.engine.Calls(a.ID))
}

func TestFetchFindingsLaterIssuedWins(t *testing.T) {
	f := newFixture(t)
	a := f.repo.Seed(input(models.MethodGet, "/x"))
	old := models.NewFinding(a.ID, "c", models.SeverityLow, "old")
	fresh := models.NewFinding(a.ID, "c", models.SeverityHigh, "fresh")
	f.repo.SeedFindings(a.ID, old)

	gate := f.repo.Hold(storetest.OpGetFindings)
	done := make(chan []models.Finding, 1)
	go func() {
		got, err := f.store.FetchFindings(context.Background(), a.ID)
		assert.NoError(t, err)
		done <- got
	}()
	gate.Wait(t)

	f.repo.SeedFindings(a.ID, fresh)
	got, err := f.store.FetchFindings(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)

	gate.Release()
	stale := <-done
	require.Len(t, stale, 1)
	assert.Equal(t, fresh.ID, stale[0].ID)

	cached, _ := f.store.Findings(a.ID)
	assert.Equal(t, fresh.ID, cached[0].ID)
}

func TestFetchFindingsOvertakenByScan(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)
	f.repo.SeedFindings(a.ID, models.NewFinding(a.ID, "c", models.SeverityLow, "before scan"))

	gate := f.repo.Hold(storetest.OpGetFindings)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.store.FetchFindings(context.Background(), a.ID)
	}()
	gate.Wait(t)

	res, err := f.store.RunScan(context.Background(), a.ID)
	require.NoError(t, err)
	gate.Release()
	<-done

	cached, _ := f.store.Findings(a.ID)
	require.Len(t, cached, len(res.Findings))
	assert.Equal(t, res.Findings[0].ID, cached[0].ID)
}

func TestFetchFindingsOfDeletedAsset(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)
	f.repo.SeedFindings(a.ID, models.NewFinding(a.ID, "c", models.SeverityLow, "d"))

	gate := f.repo.Hold(storetest.OpGetFindings)
	done := make(chan []models.Finding, 1)
	go func() {
		got, _ := f.store.FetchFindings(context.Background(), a.ID)
		done <- got
	}()
	gate.Wait(t)
	require.NoError(t, f.store.DeleteAsset(context.Background(), a.ID))
	gate.Release()

	assert.Empty(t, <-done)
	_, ok := f.store.Findings(a.ID)
	assert.False(t, ok)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, Status{State: StateIdle}, f.store.Status())

	gate := f.repo.Hold(storetest.OpGetAssets)
	pending := fetchAsync(f.store)
	gate.Wait(t)
	assert.Equal(t, StateLoading, f.store.Status().State)
	gate.Release()
	<-pending
	assert.Equal(t, StateIdle, f.store.Status().State)

	f.repo.FailNext(storetest.OpGetAssets, errors.New("boom"))
	_, _ = f.store.FetchAssets(context.Background(), ws)
	assert.Equal(t, StateError, f.store.Status().State)

	_, err := f.store.FetchAssets(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, f.store.Status().State)
	assert.Equal(t, "idle", StateIdle.String())
}

func TestStatusKeepsLastOutcomeWhileLoading(t *testing.T) {
	f := newFixture(t)
	f.repo.FailNext(storetest.OpGetAssets, errors.New("db down"))
	_, _ = f.store.FetchAssets(context.Background(), ws)

	gate := f.repo.Hold(storetest.OpGetAssets)
	pending := fetchAsync(f.store)
	gate.Wait(t)

	st := f.store.Status()
	assert.Equal(t, StateLoading, st.State)
	assert.Equal(t, StateError, st.Last)
	assert.Equal(t, 1, st.Pending)
	assert.Contains(t, st.Reason, "db down")

	gate.Release()
	<-pending
	assert.Equal(t, Status{State: StateIdle, Last: StateIdle}, f.store.Status())
}

func TestTriageFinding(t *testing.T) {
	f := newFixture(t)
	a, err := f.store.AddAsset(context.Background(), input(models.MethodGet, "/x"))
	require.NoError(t, err)
	res, err := f.store.RunScan(context.Background(), a.ID)
	require.NoError(t, err)
	id := res.Findings[0].ID

	updated, err := f.store.TriageFinding(context.Background(), id, models.StatusAcknowledged)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAcknowledged, updated.Status)
	cached, _ := f.store.Findings(a.ID)
	assert.Equal(t, models.StatusAcknowledged, cached[0].Status)

	_, err = f.store.TriageFinding(context.Background(), id, models.StatusMitigated)
	require.NoError(t, err)
	_, err = f.store.TriageFinding(context.Background(), id, models.StatusFalsePositive)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.StatusMitigated, terr.From)
	assert.False(t, terr.Retryable())

	_, err = f.store.TriageFinding(context.Background(), id, "Closed")
	assert.True(t, ingest.IsValidationError(err))
}

func TestTriageUncachedFinding(t *testing.T) {
	f := newFixture(t)
	a := f.repo.Seed(input(models.MethodGet, "/x"))
	finding := models.NewFinding(a.ID, "c", models.SeverityLow, "d")
	f.repo.SeedFindings(a.ID, finding)

	updated, err := f.store.TriageFinding(context.Background(), finding.ID, models.StatusFalsePositive)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFalsePositive, updated.Status)
	assert.Equal(t, 1, f.repo.Calls(storetest.OpGetFinding))

	_, err = f.store.TriageFinding(context.Background(), "missing", models.StatusOpen)
	assert.ErrorIs(t, err, storetest.ErrNotFound)
}

func TestTriageCustomTransitions(t *testing.T) {
	repo := storetest.NewRepository()
	orch := scanner.NewOrchestratorWithLogger(storetest.NewEngine(repo, 1), logger.NewMockLogger())
	s := NewWithLogger(repo, orch, logger.NewMockLogger(), WithTransitions(models.Transitions{
		models.StatusOpen: {models.StatusMitigated},
	}))
	a := repo.Seed(input(models.MethodGet, "/x"))
	finding := models.NewFinding(a.ID, "c", models.SeverityLow, "d")
	repo.SeedFindings(a.ID, finding)

	_, err := s.TriageFinding(context.Background(), finding.ID, models.StatusAcknowledged)
	assert.True(t, IsTransitionError(err))
	_, err = s.TriageFinding(context.Background(), finding.ID, models.StatusMitigated)
	assert.NoError(t, err)
}

func TestTriageUnsupported(t *testing.T) {
	repo := storetest.NewRepository()
	var r Repository = struct{ Repository }{repo}
	s := NewWithLogger(r, scanner.NewOrchestratorWithLogger(storetest.NewEngine(repo, 0), logger.NewMockLogger()), logger.NewMockLogger())
	_, err := s.TriageFinding(context.Background(), "id", models.StatusOpen)
	assert.ErrorIs(t, err, ErrTriageUnsupported)
}

func TestImportFlowsThroughStore(t *testing.T) {
	f := newFixture(t)
	im := ingest.NewImporterWithLogger(f.store, 2, f.log)

	report, err := im.Import(context.Background(), []byte("GET /api/v1/users HTTP/1.1\r\nHost: api\r\n\r\n"), ingest.ImportOptions{})
	require.NoError(t, err)
	require.Len(t, report.Imported, 1)

	cached := f.store.Assets(ws)
	require.Len(t, cached, 1)
	assert.Equal(t, models.MethodGet, cached[0].Method)
	assert.Equal(t, "/api/v1/users", cached[0].Endpoint)
}
