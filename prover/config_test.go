package prover

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prover.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `{"l2": "http://127.0.0.1:8545", "server": {}}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, defaultWorkers, cfg.Server.Workers)
	require.Equal(t, defaultBodyLimit, cfg.Server.BodyLimit)
	require.Equal(t, uint64(defaultWaitBlock), cfg.Rollup.WaitBlock)
	require.Equal(t, uint64(defaultMaxBlock), cfg.Rollup.MaxBlock)
}

func TestLoadConfigExplicitValues(t *testing.T) {
	path := writeConfig(t, `{
		"l2": "ws://127.0.0.1:8546",
		"server": {"tls": "config/server", "body_limit": 1024, "workers": 2},
		"rollup": {"wait_block": 9, "max_block": 3}
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "config/server", cfg.Server.TLS)
	require.Equal(t, 1024, cfg.Server.BodyLimit)
	require.Equal(t, 2, cfg.Server.Workers)
	require.Equal(t, uint64(9), cfg.Rollup.WaitBlock)
	require.Equal(t, uint64(3), cfg.Rollup.MaxBlock)
}

func TestLoadConfigRequiresL2(t *testing.T) {
	path := writeConfig(t, `{"server": {}}`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
