package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"udid: ABC123\nrecord_dir: /tmp/records\nprotocol_log: /tmp/idevice.plog\ninterface: en0\n",
	), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", cfg.UDID)
	assert.Equal(t, "/tmp/records", cfg.RecordDir)
	assert.Equal(t, "/tmp/idevice.plog", cfg.ProtocolLog)
	assert.Equal(t, "en0", cfg.Interface)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("udid: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
