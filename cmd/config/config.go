// Package config implements the config command.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/apisentry/internal/app"
	"github.com/joshsymonds/apisentry/internal/config"
	"github.com/joshsymonds/apisentry/internal/ui"
)

// NewCommand returns the config command group.
func NewCommand(rt *app.Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and validate configuration",
	}
	cmd.AddCommand(newInitCommand(rt), newValidateCommand(rt))
	return cmd
}

func newInitCommand(rt *app.Runtime) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with the built-in defaults",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.Default().Write(path, force); err != nil {
				return err
			}
			_, err := fmt.Fprintf(rt.Out, "Wrote %s\n", path)
			return err
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}

func newValidateCommand(rt *app.Runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := rt.Config()
			if err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}
			if _, err := cfg.Transitions(); err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}
			return printSummary(rt.Out, cfg)
		},
	}
}

func printSummary(w io.Writer, cfg *config.Config) error {
	lock := cfg.Scan.Lock.Backend
	if strings.EqualFold(lock, "redis") {
		lock += " (" + cfg.Scan.Lock.Redis.Addr + ")"
	}
	telemetry := "disabled"
	if cfg.Telemetry.Enabled {
		telemetry = cfg.Telemetry.Endpoint
	}
	rows := [][2]string{
		{"workspace", cfg.Workspace},
		{"database", cfg.Database.Driver},
		{"scan timeout", cfg.Scan.Timeout.String()},
		{"scan lock", lock},
		{"import concurrency", fmt.Sprint(cfg.Import.Concurrency)},
		{"logging", cfg.Logging.Backend + "/" + cfg.Logging.Format + "/" + cfg.Logging.Level},
		{"server", cfg.Server.Addr},
		{"telemetry", telemetry},
	}

	if _, err := fmt.Fprintln(w, ui.Title("configuration is valid")); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "  %-20s %s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return nil
}
