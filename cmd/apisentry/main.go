// Package main is the entry point for the apisentry CLI.
// apisentry imports API traffic descriptions into a workspace catalog,
// runs passive scans over the stored traffic and tracks findings.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/apisentry/cmd/assets"
	configcmd "github.com/joshsymonds/apisentry/cmd/config"
	"github.com/joshsymonds/apisentry/cmd/findings"
	"github.com/joshsymonds/apisentry/cmd/importer"
	"github.com/joshsymonds/apisentry/cmd/scan"
	"github.com/joshsymonds/apisentry/cmd/serve"
	"github.com/joshsymonds/apisentry/internal/app"
	"github.com/joshsymonds/apisentry/pkg/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rt := app.NewRuntime(version)

	err := newRootCommand(rt).ExecuteContext(ctx)
	stop()
	if closeErr := rt.Close(context.Background()); closeErr != nil {
		logger.Warn("Failed to release resources", "error", closeErr)
	}
	if err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(rt *app.Runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "apisentry",
		Short:         "Catalog API endpoints and track their security findings",
		Version:       fmt.Sprintf("%s (built %s)", version, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			// Until configuration is loaded, log at the level the flags ask for.
			logger.SetupLogger(rt.Viper.GetString("logging.level") == "debug", rt.Viper.GetString("logging.format"))
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&rt.ConfigPath, "config", "c", "", "Configuration file (default ./apisentry.yaml)")
	flags.String("workspace", "", "Workspace to operate on")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (text or json)")
	flags.String("log-backend", "", "Logger implementation (slog or zap)")
	// Explicitly set flags override file and environment values.
	for key, name := range map[string]string{
		"workspace":       "workspace",
		"logging.level":   "log-level",
		"logging.format":  "log-format",
		"logging.backend": "log-backend",
	} {
		if err := rt.Viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	root.AddCommand(
		importer.NewCommand(rt),
		assets.NewCommand(rt),
		scan.NewCommand(rt),
		findings.NewCommand(rt),
		serve.NewCommand(rt),
		configcmd.NewCommand(rt),
	)
	return root
}
