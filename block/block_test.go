package block

import (
	"path/filepath"
	"testing"

	"github.com/antaechan/pintos-go/defs"
	"github.com/stretchr/testify/require"
)

func TestMemDiskReadWrite(t *testing.T) {
	d := NewMemDisk(4)
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0xAB
	}
	require.Equal(t, defs.Err_t(0), d.WriteSector(1, buf))

	out := make([]byte, 512)
	require.Equal(t, defs.Err_t(0), d.ReadSector(1, out))
	require.Equal(t, buf, out)

	zero := make([]byte, 512)
	require.Equal(t, defs.Err_t(0), d.ReadSector(0, out))
	require.Equal(t, zero, out)
}

func TestMemDiskBounds(t *testing.T) {
	d := NewMemDisk(2)
	buf := make([]byte, 512)
	require.NotEqual(t, defs.Err_t(0), d.ReadSector(2, buf))
	require.NotEqual(t, defs.Err_t(0), d.WriteSector(-1, buf))
	require.NotEqual(t, defs.Err_t(0), d.WriteSector(0, make([]byte, 10)))
}

func TestFileDiskPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disk.img")

	d1, err := OpenFileDisk(path, 8)
	require.NoError(t, err)
	require.Equal(t, 8, d1.NumSectors())

	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.Equal(t, defs.Err_t(0), d1.WriteSector(3, buf))
	require.NoError(t, d1.Close())

	d2, err := OpenFileDisk(path, 8)
	require.NoError(t, err)
	out := make([]byte, 512)
	require.Equal(t, defs.Err_t(0), d2.ReadSector(3, out))
	require.Equal(t, buf, out)
	require.NoError(t, d2.Close())
}
