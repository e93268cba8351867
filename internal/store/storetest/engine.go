package storetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joshsymonds/apisentry/internal/models"
)

// Engine is a scripted scan engine. Each call produces Findings(assetID, n)
// where n counts calls for that asset from 1, persists them to Repo when set,
// and honors held gates.
type Engine struct {
	Repo     *Repository
	Findings func(assetID string, call int) []models.Finding
	gates    gates
	errs     []error
	calls    map[string]int
	mu       sync.Mutex
}

// NewEngine creates an engine that emits count Medium findings per call,
// each labeled with the call number.
func NewEngine(repo *Repository, count int) *Engine {
	return &Engine{
		Repo: repo,
		Findings: func(assetID string, call int) []models.Finding {
			out := make([]models.Finding, 0, count)
			for i := range count {
				out = append(out, models.NewFinding(assetID, "Test Category", models.SeverityMedium,
					fmt.Sprintf("run %d finding %d", call, i)))
			}
			return out
		},
	}
}

// Hold makes the next scan block before returning until released.
func (e *Engine) Hold() *Gate {
	return e.gates.hold("scan")
}

// FailNext makes the next scan fail with err.
func (e *Engine) FailNext(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// Calls returns how many scans ran for assetID.
func (e *Engine) Calls(assetID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[assetID]
}

// RunScanAsset implements scanner.Engine.
func (e *Engine) RunScanAsset(ctx context.Context, assetID string) ([]models.Finding, error) {
	e.mu.Lock()
	if e.calls == nil {
		e.calls = make(map[string]int)
	}
	e.calls[assetID]++
	call := e.calls[assetID]
	var injected error
	if len(e.errs) > 0 {
		injected, e.errs = e.errs[0], e.errs[1:]
	}
	e.mu.Unlock()

	if err := e.gates.wait(ctx, "scan"); err != nil {
		return nil, err
	}
	if injected != nil {
		return nil, injected
	}

	var findings []models.Finding
	if e.Findings != nil {
		findings = e.Findings(assetID, call)
	}
	if e.Repo != nil {
		if err := e.Repo.ReplaceFindings(ctx, assetID, findings, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	return findings, nil
}
