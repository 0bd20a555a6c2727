package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/render"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, log.InfoLevel, cfg.Log.Level)
	assert.Equal(t, "/var/lib/burrow", cfg.Store.DataDir)
	assert.Equal(t, 50, cfg.Store.AuditRetention)
	assert.Equal(t, 5*time.Second, cfg.Reconciler.RetryBase)
	assert.Equal(t, 5*time.Minute, cfg.Reconciler.RetryCap)
	assert.Equal(t, 5, cfg.Reconciler.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Reconciler.ExecTimeout)
	assert.Equal(t, 30*time.Second, cfg.Executor.Timeout)
	assert.Equal(t, 16384, cfg.Executor.OutputLimit)
	assert.Equal(t, render.CertToolCertbot, cfg.Render.CertTool)
	assert.Equal(t, uint32(3600), cfg.Render.DefaultTTL)
	assert.True(t, cfg.Render.UserINI)
	assert.Equal(t, "127.0.0.1:8420", cfg.API.Addr)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
store:
  data_dir: /tmp/burrow
reconciler:
  workers: 3
  retry_base: 1s
render:
  cert_tool: win-acme
  zone_reload: ["rndc", "reload", "{DOMAIN}"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, log.DebugLevel, cfg.Log.Level)
	assert.Equal(t, "/tmp/burrow", cfg.Store.DataDir)
	assert.Equal(t, 3, cfg.Reconciler.Workers)
	assert.Equal(t, time.Second, cfg.Reconciler.RetryBase)
	assert.Equal(t, render.CertToolWinAcme, cfg.Render.CertTool)
	assert.Equal(t, []string{"rndc", "reload", "{DOMAIN}"}, cfg.Render.ZoneReload)

	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Minute, cfg.Reconciler.RetryCap)
	assert.Equal(t, "/etc/apache2/sites-enabled", cfg.Render.VHostDir)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "reconciler:\n  workers: 3\n")
	t.Setenv("BURROW_RECONCILER_WORKERS", "7")
	t.Setenv("BURROW_API_ADDR", "0.0.0.0:9000")
	t.Setenv("BURROW_EXECUTOR_TIMEOUT", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Reconciler.Workers)
	assert.Equal(t, "0.0.0.0:9000", cfg.API.Addr)
	assert.Equal(t, 45*time.Second, cfg.Executor.Timeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnknownCertTool(t *testing.T) {
	path := writeConfig(t, "render:\n  cert_tool: acme.sh\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

func TestManagerConfig(t *testing.T) {
	cfg := Default()
	cfg.Store.DataDir = "/srv/burrow"
	cfg.Reconciler.Workers = 2

	mgr := cfg.Manager()
	assert.Equal(t, "/srv/burrow", mgr.DataDir)
	assert.Equal(t, 2, mgr.Reconciler.Workers)
	assert.Equal(t, cfg.Render.ZoneDir, mgr.Render.ZoneDir)
	assert.Equal(t, 15*time.Second, mgr.MetricsInterval)
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Default().Write(&buf))

	var out map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "/var/lib/burrow", out["store"]["data_dir"])
	assert.Equal(t, "5s", out["reconciler"]["retry_base"])
	assert.NotContains(t, buf.String(), "vhost_templates")
}
