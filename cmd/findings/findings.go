// Package findings implements the findings command.
package findings

import (
	"github.com/spf13/cobra"

	"github.com/joshsymonds/apisentry/internal/app"
	"github.com/joshsymonds/apisentry/internal/ingest"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/ui"
)

// NewCommand returns the findings command group.
func NewCommand(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Review and triage findings",
	}
	cmd.AddCommand(newListCommand(rt), newTriageCommand(rt))
	return cmd
}

func newListCommand(rt *app.Runtime) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:     "list <asset-id>",
		Aliases: []string{"ls"},
		Short:   "List the findings of an asset",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			list, err := a.Store.FetchFindings(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return ui.Findings(rt.Out, list, format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", ui.FormatTable, "Output format (table, json)")
	return cmd
}

func newTriageCommand(rt *app.Runtime) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "triage <finding-id> <status>",
		Short: "Move a finding to a new status",
		Long: `Triage changes a finding's status. Allowed statuses are Open, Acknowledged,
Mitigated and False Positive; the permitted moves come from triage.transitions.`,
		Example: `  apisentry findings triage 0b9e... ack
  apisentry findings triage 0b9e... false_positive`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := models.ParseStatus(args[1])
			if err != nil {
				return &ingest.ValidationError{Field: "status", Reason: err.Error()}
			}
			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			updated, err := a.Store.TriageFinding(cmd.Context(), args[0], status)
			if err != nil {
				return err
			}
			return ui.Findings(rt.Out, []models.Finding{updated}, format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", ui.FormatTable, "Output format (table, json)")
	return cmd
}
