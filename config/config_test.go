package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().Disk.Sectors, cfg.Disk.Sectors)
}

func TestLoadParsesOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kernel.toml")
	contents := `
[disk]
path = "custom.img"
sectors = 8192

[frame]
count = 512
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "custom.img", cfg.Disk.Path)
	require.Equal(t, 8192, cfg.Disk.Sectors)
	require.Equal(t, 512, cfg.Frame.Count)
}
