// Package assets implements the assets command for listing, adding and
// deleting workspace assets.
package assets

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/apisentry/internal/app"
	"github.com/joshsymonds/apisentry/internal/models"
	"github.com/joshsymonds/apisentry/internal/ui"
)

// NewCommand returns the assets command group.
func NewCommand(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage workspace assets",
	}
	cmd.AddCommand(newListCommand(rt), newAddCommand(rt), newDeleteCommand(rt))
	return cmd
}

func newListCommand(rt *app.Runtime) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List assets in the workspace",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			list, err := a.Store.FetchAssets(cmd.Context(), a.Config.Workspace)
			if err != nil {
				return fmt.Errorf("listing assets: %w", err)
			}
			return ui.Assets(rt.Out, list, format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", ui.FormatTable, "Output format (table, json)")
	return cmd
}

// AddOptions represents assets add options.
type AddOptions struct {
	Method       string
	Endpoint     string
	Source       string
	RequestFile  string
	ResponseFile string
	Output       string
}

func newAddCommand(rt *app.Runtime) *cobra.Command {
	opts := &AddOptions{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a single asset by hand",
		Example: `  apisentry assets add --method GET --endpoint /users/{id}
  apisentry assets add -m POST -e https://api.example.com/orders --request-file order.http`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdd(cmd, rt, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Method, "method", "m", "", "HTTP method (GET, POST, PUT, DELETE, PATCH)")
	f.StringVarP(&opts.Endpoint, "endpoint", "e", "", "Endpoint path or URL")
	f.StringVar(&opts.Source, "source", "", "Source label (default: Manual Entry)")
	f.StringVar(&opts.RequestFile, "request-file", "", "File holding the raw request")
	f.StringVar(&opts.ResponseFile, "response-file", "", "File holding the raw response")
	f.StringVarP(&opts.Output, "output", "o", ui.FormatTable, "Output format (table, json)")
	_ = cmd.MarkFlagRequired("method")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func runAdd(cmd *cobra.Command, rt *app.Runtime, opts *AddOptions) error {
	ctx := cmd.Context()
	a, err := rt.App(ctx)
	if err != nil {
		return err
	}

	in := models.AssetInput{
		WorkspaceID: a.Config.Workspace,
		Method:      models.Method(opts.Method),
		Endpoint:    opts.Endpoint,
		Source:      opts.Source,
	}
	if opts.RequestFile != "" {
		raw, err := a.Reader.Read(ctx, opts.RequestFile)
		if err != nil {
			return err
		}
		in.RawRequest = models.StringPtr(string(raw.Data))
	}
	if opts.ResponseFile != "" {
		raw, err := a.Reader.Read(ctx, opts.ResponseFile)
		if err != nil {
			return err
		}
		in.RawResponse = models.StringPtr(string(raw.Data))
	}

	asset, err := a.Store.AddAsset(ctx, in)
	if err != nil {
		return err
	}
	return ui.Assets(rt.Out, []models.Asset{asset}, opts.Output)
}

func newDeleteCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <asset-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete assets and their findings",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rt.App(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := a.Store.DeleteAsset(cmd.Context(), id); err != nil {
					return fmt.Errorf("deleting asset %s: %w", id, err)
				}
				if _, err := fmt.Fprintf(rt.Out, "Deleted %s\n", id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
