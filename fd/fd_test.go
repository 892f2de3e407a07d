package fd

import (
	"testing"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/fat"
	"github.com/antaechan/pintos-go/file"
	"github.com/antaechan/pintos-go/ustr"
	"github.com/stretchr/testify/require"
)

func freshFS(t *testing.T) *file.FS {
	t.Helper()
	disk := block.NewMemDisk(128)
	fatfs, err := fat.Open(disk)
	require.Equal(t, defs.Err_t(0), err)
	fs, err := file.Mount(fatfs, disk)
	require.Equal(t, defs.Err_t(0), err)
	return fs
}

// TestDup2SharesPosition is spec §8 scenario 6: reads through the new
// descriptor must advance the same position as reads through the old one,
// and closing the original leaves the duplicate usable.
func TestDup2SharesPosition(t *testing.T) {
	fs := freshFS(t)
	name := ustr.Ustr("shared.txt")
	require.Equal(t, defs.Err_t(0), fs.Create(name))

	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)
	_, werr := h.WriteAt([]byte("0123456789"))
	require.Equal(t, defs.Err_t(0), werr)
	require.Equal(t, defs.Err_t(0), h.Seek(0))

	table := MkTable()
	srcFd, ierr := table.Install(&Fd_t{Handle: h, Perms: FD_READ | FD_WRITE})
	require.Equal(t, defs.Err_t(0), ierr)

	dstFd, derr := table.Dup2(srcFd, srcFd+5)
	require.Equal(t, defs.Err_t(0), derr)
	require.Equal(t, srcFd+5, dstFd)

	srcEntry, _ := table.Get(srcFd)
	dstEntry, _ := table.Get(dstFd)

	buf := make([]byte, 4)
	n, rerr := srcEntry.Handle.ReadAt(buf)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, 4, n)
	require.Equal(t, "0123", string(buf))

	// The dup'd descriptor shares the same position: it continues where
	// the original left off, not from offset 0.
	n, rerr = dstEntry.Handle.ReadAt(buf)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, 4, n)
	require.Equal(t, "4567", string(buf))

	Close_panic(table.Remove(srcFd))

	// fd+5 remains usable after closing fd.
	dstEntry, gerr := table.Get(dstFd)
	require.Equal(t, defs.Err_t(0), gerr)
	n, rerr = dstEntry.Handle.ReadAt(buf[:2])
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, 2, n)
	require.Equal(t, "89", string(buf[:2]))

	Close_panic(table.Remove(dstFd))
}

func TestDup2SameFdIsNoop(t *testing.T) {
	fs := freshFS(t)
	name := ustr.Ustr("noop.txt")
	require.Equal(t, defs.Err_t(0), fs.Create(name))
	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)

	table := MkTable()
	srcFd, ierr := table.Install(&Fd_t{Handle: h, Perms: FD_READ | FD_WRITE})
	require.Equal(t, defs.Err_t(0), ierr)

	dstFd, derr := table.Dup2(srcFd, srcFd)
	require.Equal(t, defs.Err_t(0), derr)
	require.Equal(t, srcFd, dstFd)

	Close_panic(table.Remove(srcFd))
}
