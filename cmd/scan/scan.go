// Package scan implements the scan command.
package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/apisentry/internal/app"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/store"
	"github.com/joshsymonds/apisentry/internal/ui"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

// Options represents scan command options.
type Options struct {
	Output      string
	All         bool
	Concurrency int
}

// NewCommand returns the scan command.
func NewCommand(rt *app.Runtime) *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "scan [asset-id]...",
		Short: "Run the passive checks against assets",
		Long: `Scan evaluates the stored request and response of each asset and replaces
the asset's findings with the result. An asset is scanned by at most one
process at a time; a second scan of the same asset is rejected.`,
		Example: `  apisentry scan 6f1c2e0a-4f9b-4d7e-9a65-2f4a1b8c9d10
  apisentry scan --all --workspace staging`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.All == (len(args) > 0) {
				return errors.New("pass asset ids or --all, not both")
			}
			return Run(cmd.Context(), rt, args, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Output, "output", "o", ui.FormatTable, "Output format (table, json)")
	f.BoolVar(&opts.All, "all", false, "Scan every asset in the workspace")
	f.IntVar(&opts.Concurrency, "concurrency", 4, "Assets scanned in parallel with --all")
	return cmd
}

type outcome struct {
	Err      error            `json:"-"`
	AssetID  string           `json:"asset_id"`
	Error    string           `json:"error,omitempty"`
	Findings []models.Finding `json:"findings"`
}

// Run scans the given assets, or the whole workspace with opts.All.
func Run(ctx context.Context, rt *app.Runtime, ids []string, opts *Options) error {
	a, err := rt.App(ctx)
	if err != nil {
		return err
	}

	if opts.All {
		assets, err := a.Store.FetchAssets(ctx, a.Config.Workspace)
		if err != nil {
			return fmt.Errorf("listing assets: %w", err)
		}
		for _, asset := range assets {
			ids = append(ids, asset.ID)
		}
		logger.WithWorkspace(a.Config.Workspace).Info("Scanning workspace", "assets", len(ids))
	}

	results := scanAll(ctx, a.Store, ids, max(1, opts.Concurrency))

	if opts.Output == ui.FormatJSON {
		if err := ui.JSON(rt.Out, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			if _, err := fmt.Fprintln(rt.Out, ui.Title("asset "+r.AssetID)); err != nil {
				return err
			}
			if err := ui.Findings(rt.Out, r.Findings, opts.Output); err != nil {
				return err
			}
		}
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("scanning %s: %w", r.AssetID, r.Err))
		}
	}
	return errors.Join(errs...)
}

func scanAll(ctx context.Context, s *store.Store, ids []string, concurrency int) []outcome {
	results := make([]outcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			res, err := s.RunScan(gctx, id)
			o := outcome{AssetID: id, Findings: res.Findings, Err: err}
			switch {
			case err != nil:
				o.Error = err.Error()
				logger.WithAsset(id).Warn("Scan failed", "error", err)
			case res.Discarded:
				logger.WithAsset(id).Info("Scan result discarded")
			}
			if o.Findings == nil {
				o.Findings = []models.Finding{}
			}
			results[i] = o
			return nil
		})
	}
	_ = g.Wait()
	return results
}
