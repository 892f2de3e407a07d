package vm

import (
	"testing"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/fat"
	"github.com/antaechan/pintos-go/file"
	"github.com/antaechan/pintos-go/frame"
	"github.com/antaechan/pintos-go/ustr"
	"github.com/stretchr/testify/require"
)

func newEnv(t *testing.T, frames int) (*AddressSpace, *frame.Table, *frame.Swap) {
	t.Helper()
	ft := frame.NewTable(frames)
	swapDisk := block.NewMemDisk(defs.SectorsPerPage * 64)
	sw := frame.NewSwap(swapDisk)
	as := NewAddressSpace(ft, sw)
	return as, ft, sw
}

func newFileFS(t *testing.T) *file.FS {
	t.Helper()
	disk := block.NewMemDisk(256)
	fatfs, err := fat.Open(disk)
	require.Equal(t, defs.Err_t(0), err)
	fs, err := file.Mount(fatfs, disk)
	require.Equal(t, defs.Err_t(0), err)
	return fs
}

func TestAllocAndClaimAnon(t *testing.T) {
	as, _, _ := newEnv(t, 4)
	va := uintptr(0x1000)
	require.Equal(t, defs.Err_t(0), as.AllocAndClaim(va, true))

	p := as.Find(va)
	require.NotNil(t, p)
	require.Equal(t, Anon, p.Kind)
	require.NotNil(t, p.frm)
}

func TestForkCopiesAnonPagesIndependently(t *testing.T) {
	parent, _, _ := newEnv(t, 8)
	child, _, _ := newEnv(t, 8)
	// Share the same frame pool and swap so the fork's frame.Alloc calls
	// draw from a pool sized for both address spaces, as a real fork
	// would.
	child.frames = parent.frames
	child.swap = parent.swap

	va := uintptr(0x2000)
	require.Equal(t, defs.Err_t(0), parent.AllocAndClaim(va, true))
	pp := parent.Find(va)
	pp.frm.Data[0] = 0x42

	require.Equal(t, defs.Err_t(0), child.Copy(parent, nil))

	cp := child.Find(va)
	require.NotNil(t, cp)
	require.Equal(t, Anon, cp.Kind)
	require.Equal(t, byte(0x42), cp.frm.Data[0])

	// Isolation: writing to the child's copy must not affect the parent.
	cp.frm.Data[0] = 0x99
	require.Equal(t, byte(0x42), pp.frm.Data[0])
}

func TestStackGrowthOnFault(t *testing.T) {
	as, _, _ := newEnv(t, 4)
	addr := defs.USER_STACK - uintptr(defs.PGSIZE)
	rsp := addr
	require.Nil(t, as.Find(addr))

	err := as.HandleFault(addr, rsp, true, true)
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, as.Find(addr))
}

func TestFaultOnUnmappedNonStackAddrFails(t *testing.T) {
	as, _, _ := newEnv(t, 4)
	err := as.HandleFault(0x10, 0x10, false, true)
	require.NotEqual(t, defs.Err_t(0), err)
}

func TestMmapMunmapPartialPageWriteback(t *testing.T) {
	as, _, _ := newEnv(t, 4)
	fs := newFileFS(t)
	name := ustr.Ustr("mapped.dat")
	require.Equal(t, defs.Err_t(0), fs.Create(name))
	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)
	_, err = h.WriteAt(make([]byte, 100))
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), h.Seek(0))

	addr := uintptr(0x5000)
	got, err := as.Mmap(addr, 100, true, h, 0)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, addr, got)

	p := as.Find(addr)
	require.NotNil(t, p)
	require.Equal(t, File, p.Kind)
	require.Equal(t, defs.Err_t(0), as.ClaimPage(addr))

	p.frm.Data[0] = 'X'
	p.dirty = true

	require.Equal(t, defs.Err_t(0), as.Munmap(addr))
	require.Nil(t, as.Find(addr))

	h2, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)
	buf := make([]byte, 1)
	_, err = h2.ReadAt(buf)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, byte('X'), buf[0])
}

func TestMmapHonorsNonZeroOffset(t *testing.T) {
	as, _, _ := newEnv(t, 4)
	fs := newFileFS(t)
	name := ustr.Ustr("offset.dat")
	require.Equal(t, defs.Err_t(0), fs.Create(name))
	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)

	content := make([]byte, defs.PGSIZE+16)
	for i := range content {
		content[i] = byte(i)
	}
	_, err = h.WriteAt(content)
	require.Equal(t, defs.Err_t(0), err)

	addr := uintptr(0x6000)
	got, err := as.Mmap(addr, 16, false, h, defs.PGSIZE)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, addr, got)

	p := as.Find(addr)
	require.NotNil(t, p)
	require.Equal(t, defs.PGSIZE, p.fileOff)
	require.Equal(t, defs.Err_t(0), as.ClaimPage(addr))
	require.Equal(t, content[defs.PGSIZE], p.frm.Data[0])

	require.Equal(t, defs.Err_t(0), as.Munmap(addr))
}

func TestMmapRejectsMisalignedOffset(t *testing.T) {
	as, _, _ := newEnv(t, 4)
	fs := newFileFS(t)
	name := ustr.Ustr("badoffset.dat")
	require.Equal(t, defs.Err_t(0), fs.Create(name))
	h, err := fs.Open(name)
	require.Equal(t, defs.Err_t(0), err)

	_, merr := as.Mmap(uintptr(0x7000), 16, false, h, 1)
	require.Equal(t, defs.EINVAL, merr)
}

func TestSwapOutAndBackInRoundTrip(t *testing.T) {
	as, ft, _ := newEnv(t, 1)
	va1 := uintptr(0x1000)
	va2 := uintptr(0x2000)
	require.Equal(t, defs.Err_t(0), as.AllocAndClaim(va1, true))
	p1 := as.Find(va1)
	p1.frm.Data[0] = 7

	// Allocating a second page with only one frame forces the first to
	// be evicted through swap.
	require.Equal(t, defs.Err_t(0), as.AllocAndClaim(va2, true))
	require.Nil(t, p1.frm)
	require.GreaterOrEqual(t, p1.swapSlot, 0)
	require.Equal(t, 1, ft.Capacity())

	require.Equal(t, defs.Err_t(0), as.ClaimPage(va1))
	require.Equal(t, byte(7), p1.frm.Data[0])
}
