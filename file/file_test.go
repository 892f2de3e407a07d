package file

import (
	"testing"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/fat"
	"github.com/antaechan/pintos-go/ustr"
	"github.com/stretchr/testify/require"
)

func freshFS(t *testing.T) *FS {
	t.Helper()
	disk := block.NewMemDisk(128)
	fatfs, err := fat.Open(disk)
	require.Equal(t, defs.Err_t(0), err)
	fs, err := Mount(fatfs, disk)
	require.Equal(t, defs.Err_t(0), err)
	return fs
}

func TestCreateOpenWriteSeekRead(t *testing.T) {
	fs := freshFS(t)
	name := ustr.Ustr("hello.txt")
	require.Equal(t, defs.Err_t(0), fs.Create(name))

	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)

	n, err := h.WriteAt([]byte("hello world"))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 11, n)
	require.Equal(t, 11, h.Length())

	require.Equal(t, defs.Err_t(0), h.Seek(0))
	buf := make([]byte, 11)
	n, err = h.ReadAt(buf)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))

	require.Equal(t, defs.Err_t(0), h.Close())
}

func TestDuplicateSharesContentIndependentPosition(t *testing.T) {
	fs := freshFS(t)
	name := ustr.Ustr("shared.txt")
	require.Equal(t, defs.Err_t(0), fs.Create(name))

	h1, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)
	h2, err := h1.Duplicate()
	require.Equal(t, defs.Err_t(0), err)

	_, err = h1.WriteAt([]byte("abc"))
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), h2.Seek(0))
	buf := make([]byte, 3)
	n, err := h2.ReadAt(buf)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 3, n)
	require.Equal(t, "abc", string(buf))
}

func TestAliasSharesPosition(t *testing.T) {
	fs := freshFS(t)
	name := ustr.Ustr("aliased.txt")
	require.Equal(t, defs.Err_t(0), fs.Create(name))

	h1, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)
	_, err = h1.WriteAt([]byte("hello world"))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), h1.Seek(0))

	h2, err := h1.Alias()
	require.Equal(t, defs.Err_t(0), err)
	require.Same(t, h1, h2)

	buf := make([]byte, 5)
	n, err := h1.ReadAt(buf)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))

	// h2 is the same handle, so its position already advanced past "hello".
	n, err = h2.ReadAt(buf)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 5, n)
	require.Equal(t, " worl", string(buf))

	// Closing one alias must not release the file while the other is live.
	require.Equal(t, defs.Err_t(0), h1.Close())
	n, err = h2.ReadAt(buf[:1])
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 1, n)

	require.Equal(t, defs.Err_t(0), h2.Close())
}

func TestRemoveWhileOpenFreesOnLastClose(t *testing.T) {
	fs := freshFS(t)
	name := ustr.Ustr("doomed.txt")
	require.Equal(t, defs.Err_t(0), fs.Create(name))
	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), fs.Remove(name))
	_, err = fs.Open(name)
	require.Equal(t, defs.ENOENT, err)

	require.Equal(t, defs.Err_t(0), h.Close())
}

func TestWriteDeniedAfterDenyWrite(t *testing.T) {
	fs := freshFS(t)
	name := ustr.Ustr("exe")
	require.Equal(t, defs.Err_t(0), fs.Create(name))
	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)
	h.DenyWrite()

	_, werr := h.WriteAt([]byte("x"))
	require.Equal(t, defs.EPERM, werr)

	h.AllowWrite()
	_, werr = h.WriteAt([]byte("x"))
	require.Equal(t, defs.Err_t(0), werr)
}

func TestSyncPersistsDirectory(t *testing.T) {
	disk := block.NewMemDisk(128)
	fatfs, err := fat.Open(disk)
	require.Equal(t, defs.Err_t(0), err)
	fs, err := Mount(fatfs, disk)
	require.Equal(t, defs.Err_t(0), err)

	name := ustr.Ustr("persisted.txt")
	require.Equal(t, defs.Err_t(0), fs.Create(name))
	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)
	_, err = h.WriteAt([]byte("data"))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), h.Close())
	require.Equal(t, defs.Err_t(0), fs.Sync())

	fs2, err := Mount(fatfs, disk)
	require.Equal(t, defs.Err_t(0), err)
	h2, err := fs2.Open(name)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 4, h2.Length())
}
