// Package store keeps an in-memory view of assets and findings in sync with
// the repository while fetches, adds, deletes and scans overlap.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/scanner"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

// Repository is the persistence boundary the store reads and writes through.
type Repository interface {
	GetAssets(ctx context.Context, workspaceID string) ([]models.Asset, error)
	AddAsset(ctx context.Context, in models.AssetInput) (models.Asset, error)
	DeleteAsset(ctx context.Context, id string) error
	GetFindings(ctx context.Context, assetID string) ([]models.Finding, error)
}

// Triager is implemented by repositories that can change finding status.
type Triager interface {
	GetFinding(ctx context.Context, id string) (models.Finding, error)
	UpdateFindingStatus(ctx context.Context, id string, status models.FindingStatus) (models.Finding, error)
}

// Scanner runs scans with per-asset exclusivity. *scanner.Orchestrator
// implements it.
type Scanner interface {
	Run(ctx context.Context, assetID string) (scanner.Result, error)
	Invalidate(assetID string)
}

// State is the coarse store status.
type State int

// Store states.
const (
	StateIdle State = iota
	StateLoading
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Status reports whether operations are outstanding and how the most
// recently resolved one ended. State is Loading while Pending > 0; Last and
// Reason keep the previous outcome visible meanwhile.
type Status struct {
	Reason  string
	State   State
	Last    State
	Pending int
}

type tombstone struct {
	workspaceID string
	gen         uint64
}

// Store is the asset and finding cache. All mutation goes through its methods.
type Store struct {
	repo        Repository
	scans       Scanner
	logger      logger.Logger
	transitions models.Transitions

	assets     map[string]models.Asset
	findings   map[string][]models.Finding
	tombstones map[string]tombstone
	// gen counts local mutations. Fetches remember the value at issue time.
	addedGen    map[string]uint64
	findingsGen map[string]uint64
	// fetching counts outstanding fetches by the gen they were issued at.
	fetching map[uint64]int

	latestAssets   map[string]uint64
	latestFindings map[string]uint64
	lastErr        error

	assetSeq   uint64
	findingSeq uint64
	gen        uint64
	pending    int
	mu         sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithTransitions replaces the default triage transition table.
func WithTransitions(t models.Transitions) Option {
	return func(s *Store) {
		if len(t) > 0 {
			s.transitions = t
		}
	}
}

// New creates a store over repo, running scans through scans.
func New(repo Repository, scans Scanner, opts ...Option) *Store {
	return NewWithLogger(repo, scans, logger.GetGlobalLogger(), opts...)
}

// NewWithLogger creates a store with a custom logger.
func NewWithLogger(repo Repository, scans Scanner, log logger.Logger, opts ...Option) *Store {
	s := &Store{
		repo:           repo,
		scans:          scans,
		logger:         log,
		transitions:    models.DefaultTransitions(),
		assets:         make(map[string]models.Asset),
		findings:       make(map[string][]models.Finding),
		tombstones:     make(map[string]tombstone),
		addedGen:       make(map[string]uint64),
		findingsGen:    make(map[string]uint64),
		fetching:       make(map[uint64]int),
		latestAssets:   make(map[string]uint64),
		latestFindings: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns Loading while any operation is outstanding, otherwise the
// outcome of the most recently resolved operation.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Last: StateIdle, Pending: s.pending}
	if s.lastErr != nil {
		st.Last = StateError
		st.Reason = s.lastErr.Error()
	}
	st.State = st.Last
	if s.pending > 0 {
		st.State = StateLoading
	}
	return st
}

// Assets returns the cached assets of a workspace ordered by creation.
func (s *Store) Assets(workspaceID string) []models.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assetsLocked(workspaceID)
}

// Asset returns one cached asset.
func (s *Store) Asset(id string) (models.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return models.Asset{}, false
	}
	return a.Clone(), true
}

// Findings returns the cached findings of an asset. The second value is false
// when nothing has been loaded for it.
func (s *Store) Findings(assetID string) ([]models.Finding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.findings[assetID]
	if !ok {
		return nil, false
	}
	return cloneFindings(list), true
}

func (s *Store) assetsLocked(workspaceID string) []models.Asset {
	out := make([]models.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		if a.WorkspaceID == workspaceID {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) beginLocked() {
	s.pending++
}

// resolveLocked records the outcome of an operation started with beginLocked.
func (s *Store) resolveLocked(err error) {
	s.pending--
	s.lastErr = err
}

// trackFetchLocked registers an outstanding fetch and returns its issue gen.
func (s *Store) trackFetchLocked() uint64 {
	s.fetching[s.gen]++
	return s.gen
}

func (s *Store) untrackFetchLocked(issued uint64) {
	if s.fetching[issued]--; s.fetching[issued] <= 0 {
		delete(s.fetching, issued)
	}
	s.pruneTombstonesLocked()
}

// pruneTombstonesLocked drops tombstones of ids that were never cached once
// no fetch issued before their delete is outstanding. Tombstones of cached
// assets wait for a later fetch of their workspace instead.
func (s *Store) pruneTombstonesLocked() {
	oldest, found := uint64(0), false
	for gen := range s.fetching {
		if !found || gen < oldest {
			oldest, found = gen, true
		}
	}
	for id, t := range s.tombstones {
		if t.workspaceID == "" && (!found || t.gen <= oldest) {
			delete(s.tombstones, id)
		}
	}
}

func (s *Store) deleted(id string) bool {
	_, ok := s.tombstones[id]
	return ok
}

func cloneFindings(list []models.Finding) []models.Finding {
	out := make([]models.Finding, len(list))
	for i, f := range list {
		out[i] = f
		if f.Evidence != nil {
			e := *f.Evidence
			out[i].Evidence = &e
		}
	}
	return out
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.After(*b):
		return a
	default:
		return b
	}
}
