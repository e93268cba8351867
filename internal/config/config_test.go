package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/apisentry/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apisentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, models.DefaultWorkspaceID, cfg.Workspace)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 2*time.Minute, cfg.Scan.Timeout)
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		check   func(t *testing.T, cfg *Config)
		name    string
		yaml    string
		errMsg  string
		wantErr bool
	}{
		{
			name: "overrides merge with defaults",
			yaml: `workspace: acme
database:
  driver: postgres
  dsn: postgres://localhost/apisentry
scan:
  timeout: 30s
  rate_limit: 2.5
  lock:
    backend: redis
    redis:
      addr: redis:6379
import:
  concurrency: 8
  spec_as_single_asset: true
triage:
  transitions:
    Open: [Mitigated]
    Mitigated: [Open]
`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "acme", cfg.Workspace)
				assert.Equal(t, "postgres", cfg.Database.Driver)
				assert.Equal(t, 4, cfg.Database.MaxConnections, "default kept")
				assert.Equal(t, 30*time.Second, cfg.Scan.Timeout)
				assert.InDelta(t, 2.5, cfg.Scan.RateLimit, 0.001)
				assert.Equal(t, "redis", cfg.Scan.Lock.Backend)
				assert.Equal(t, "redis:6379", cfg.Scan.Lock.Redis.Addr)
				assert.Equal(t, "apisentry:scan:", cfg.Scan.Lock.Redis.Prefix)
				assert.Equal(t, 8, cfg.Import.Concurrency)
				assert.True(t, cfg.Import.SpecAsSingleAsset)

				tr, err := cfg.Transitions()
				require.NoError(t, err)
				assert.True(t, tr.Allows(models.StatusOpen, models.StatusMitigated))
				assert.False(t, tr.Allows(models.StatusOpen, models.StatusAcknowledged))
			},
		},
		{
			name:    "unknown driver",
			yaml:    "database:\n  driver: oracle\n",
			wantErr: true,
			errMsg:  "database.driver",
		},
		{
			name:    "redis lock without address",
			yaml:    "scan:\n  lock:\n    backend: redis\n    redis:\n      addr: \"\"\n",
			wantErr: true,
			errMsg:  "scan.lock.redis.addr",
		},
		{
			name:    "bad transition status",
			yaml:    "triage:\n  transitions:\n    open: [closed]\n",
			wantErr: true,
			errMsg:  "triage.transitions",
		},
		{
			name:    "invalid yaml",
			yaml:    "scan: [\n",
			wantErr: true,
			errMsg:  "reading config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("APISENTRY_SCAN_TIMEOUT", "45s")
	t.Setenv("APISENTRY_LOGGING_LEVEL", "debug")
	t.Setenv("APISENTRY_DATABASE_DSN", "/tmp/other.db")

	cfg, err := Load(writeConfig(t, "logging:\n  level: warn\n"))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level, "environment beats file")
	assert.Equal(t, "/tmp/other.db", cfg.Database.DSN)
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Database, cfg.Database)
}

func TestLoadRejectsNonYAMLPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "apisentry.json"))
	assert.ErrorContains(t, err, "invalid config path")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate func(c *Config)
		errMsg string
	}{
		{func(c *Config) { c.Workspace = "" }, "workspace"},
		{func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{func(c *Config) { c.Database.MaxConnections = 0 }, "database.max_connections"},
		{func(c *Config) { c.Scan.Timeout = 0 }, "scan.timeout"},
		{func(c *Config) { c.Scan.RateLimit = -1 }, "scan.rate_limit"},
		{func(c *Config) { c.Scan.Lock.Backend = "etcd" }, "scan.lock.backend"},
		{func(c *Config) { c.Import.Concurrency = 0 }, "import.concurrency"},
		{func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{func(c *Config) { c.Logging.Backend = "logrus" }, "logging.backend"},
		{func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
		{func(c *Config) { c.Telemetry.Enabled = true; c.Telemetry.Endpoint = "" }, "telemetry.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.errMsg, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apisentry.yaml")
	cfg := Default()
	cfg.Workspace = "team-a"
	cfg.Scan.Timeout = 90 * time.Second

	require.NoError(t, cfg.Write(path, false))
	assert.ErrorContains(t, cfg.Write(path, false), "already exists")
	require.NoError(t, cfg.Write(path, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "team-a", loaded.Workspace)
	assert.Equal(t, 90*time.Second, loaded.Scan.Timeout)
	assert.Equal(t, cfg.Server, loaded.Server)
}
