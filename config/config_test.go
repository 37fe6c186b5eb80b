package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"), "")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, "fs", cfg.Store)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, int64(10<<20), cfg.MaxImportSize)
	assert.False(t, cfg.IsDev())
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "classdraw.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("address: \":9000\"\nstore: sqlite\nflushInterval: 2s\n"), 0644))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CLASSDRAW_LOG_LEVEL=debug\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("CLASSDRAW_LOG_LEVEL") })
	t.Setenv("CLASSDRAW_DATA_DIR", "/tmp/diagrams")
	t.Setenv("CLASSDRAW_STORE", "fs")

	cfg, err := Load(envFile, cfgFile)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Address, "from file")
	assert.Equal(t, "fs", cfg.Store, "env beats file")
	assert.Equal(t, "/tmp/diagrams", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel, "from .env")
	assert.Equal(t, 2*time.Second, cfg.FlushInterval)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("CLASSDRAW_STORE", "datastore")
	_, err := Load("", "")
	assert.ErrorContains(t, err, "datastoreProject")

	t.Setenv("CLASSDRAW_STORE", "mongo")
	_, err = Load("", "")
	assert.ErrorContains(t, err, "unknown store")
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "DATA_DIR", envName("dataDir"))
	assert.Equal(t, "SQLITE_PATH", envName("sqlitePath"))
	assert.Equal(t, "ENV", envName("env"))
}

func TestLoadWith_Overrides(t *testing.T) {
	t.Setenv("CLASSDRAW_ADDRESS", ":7000")
	cfg, err := LoadWith("", "", func(v *viper.Viper) error {
		v.Set("address", ":7100")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.Address)
}
