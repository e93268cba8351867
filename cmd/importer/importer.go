// Package importer implements the import command.
package importer

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/apisentry/internal/app"
	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/ui"
)

// Options represents import command options.
type Options struct {
	Source       string
	Format       string
	Output       string
	Strict       bool
	SpecAsSingle bool
	DryRun       bool
}

// NewCommand returns the import command.
func NewCommand(rt *app.Runtime) *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "import <file|-|s3://bucket/key>",
		Short: "Import endpoints from an API description or captured traffic",
		Long: `Import detects the input format (OpenAPI, Postman, HAR, Burp XML, raw HTTP,
cURL or plain text), extracts endpoints and adds them to the workspace.
Malformed items are skipped and reported; the rest are imported.`,
		Example: `  apisentry import openapi.yaml
  apisentry import --strict capture.har
  curl -s https://api.example.com/openapi.json | apisentry import -
  apisentry import s3://traffic/burp-export.xml --source burp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd, rt, args[0], opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Source, "source", "", "Source label for imported assets (default: file name)")
	f.StringVar(&opts.Format, "format", "", "Force an input format instead of detecting it")
	f.StringVarP(&opts.Output, "output", "o", ui.FormatTable, "Output format (table, json)")
	f.BoolVar(&opts.Strict, "strict", false, "Fail when a structured file matches no known format")
	f.BoolVar(&opts.SpecAsSingle, "spec-as-single", false, "Stage an OpenAPI document as one asset")
	f.BoolVar(&opts.DryRun, "dry-run", false, "Show what would be imported without saving")
	return cmd
}

// Run executes the import.
func Run(cmd *cobra.Command, rt *app.Runtime, ref string, opts *Options) error {
	ctx := cmd.Context()
	a, err := rt.App(ctx)
	if err != nil {
		return err
	}

	in, err := a.Reader.Read(ctx, ref)
	if err != nil {
		return err
	}

	source := opts.Source
	if source == "" {
		source = a.Config.Import.DefaultSource
	}
	importOpts := ingest.ImportOptions{
		WorkspaceID:       a.Config.Workspace,
		Filename:          in.Name,
		Format:            opts.Format,
		Source:            source,
		Strict:            opts.Strict,
		SpecAsSingleAsset: opts.SpecAsSingle || a.Config.Import.SpecAsSingleAsset,
	}

	if opts.DryRun {
		plan, err := ingest.PlanImport(in.Data, importOpts)
		if err != nil {
			return err
		}
		return ui.Report(rt.Out, planReport(plan), opts.Output)
	}

	report, err := a.Importer.Import(ctx, in.Data, importOpts)
	if err != nil {
		if report != nil {
			_ = ui.Report(rt.Out, report, opts.Output)
		}
		return err
	}
	if err := ui.Report(rt.Out, report, opts.Output); err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d assets could not be saved", report.Failed)
	}
	return nil
}

// planReport shows planned inputs as unsaved assets.
func planReport(plan *ingest.Plan) *ingest.Report {
	r := &ingest.Report{
		Variant:     plan.Variant,
		Diagnostics: plan.Diagnostics,
		Duplicates:  plan.Duplicates,
	}
	for _, in := range plan.Inputs {
		r.Imported = append(r.Imported, models.Asset{
			WorkspaceID: in.WorkspaceID,
			Method:      in.Method,
			Endpoint:    in.Endpoint,
			Source:      in.Source,
		})
	}
	return r
}
