package app

import (
	"context"
	"io"
	"os"

	"github.com/spf13/viper"

	"github.com/joshsymonds/apisentry/internal/config"
)

// Runtime carries CLI-wide state. Configuration and the App are built on
// first use so commands such as `config init` never open the database.
type Runtime struct {
	Viper      *viper.Viper
	Out        io.Writer
	ConfigPath string
	Version    string
	cfg        *config.Config
	app        *App
}

// NewRuntime returns a runtime with a fresh viper instance writing to stdout.
func NewRuntime(version string) *Runtime {
	return &Runtime{Viper: config.NewViper(), Out: os.Stdout, Version: version}
}

// Config loads and validates configuration once.
func (r *Runtime) Config() (*config.Config, error) {
	if r.cfg != nil {
		return r.cfg, nil
	}
	cfg, err := config.LoadWith(r.Viper, r.ConfigPath)
	if err != nil {
		return nil, err
	}
	r.cfg = cfg
	return cfg, nil
}

// App wires components once.
func (r *Runtime) App(ctx context.Context) (*App, error) {
	if r.app != nil {
		return r.app, nil
	}
	cfg, err := r.Config()
	if err != nil {
		return nil, err
	}
	a, err := New(ctx, cfg, r.Version)
	if err != nil {
		return nil, err
	}
	r.app = a
	return a, nil
}

// Close releases the App if one was built.
func (r *Runtime) Close(ctx context.Context) error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close(ctx)
	r.app = nil
	return err
}
