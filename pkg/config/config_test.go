package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoSources(t *testing.T) {
	cfg, err := Load("", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:49150", cfg.Endpoint)
	assert.Equal(t, "node", cfg.Language)
}

func TestLoadReadsYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: 0.0.0.0:9000\nlanguage: python\n"), 0o644))

	cfg, err := Load(path, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Endpoint)
	assert.Equal(t, "python", cfg.Language)
}

func TestEnvironmentOverridesDefaultsAndFile(t *testing.T) {
	t.Setenv("FNCHANNEL_ENDPOINT", "10.0.0.1:1234")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: 0.0.0.0:9000\n"), 0o644))

	cfg, err := Load(path, "", viper.New())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:1234", cfg.Endpoint)
}

func TestLoadRejectsMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "", nil)
	assert.Error(t, err)
}
