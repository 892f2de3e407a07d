package frame

import (
	"testing"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/stretchr/testify/require"
)

func TestAllocFillThenEvict(t *testing.T) {
	tbl := NewTable(2)

	o1 := &ownerStub{accessed: false}
	o2 := &ownerStub{accessed: false}
	f1, err := tbl.Alloc(o1)
	require.Equal(t, defs.Err_t(0), err)
	f2, err := tbl.Alloc(o2)
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, f1)
	require.NotNil(t, f2)

	f1.Data[0] = 0xAA
	o3 := &ownerStub{accessed: false}
	f3, err := tbl.Alloc(o3)
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, f3)
	require.True(t, o1.evicted || o2.evicted)
}

func TestAllocRespectsSecondChance(t *testing.T) {
	tbl := NewTable(1)
	o1 := &ownerStub{accessed: true}
	_, err := tbl.Alloc(o1)
	require.Equal(t, defs.Err_t(0), err)

	o2 := &ownerStub{accessed: false}
	_, err = tbl.Alloc(o2)
	require.Equal(t, defs.Err_t(0), err)
	require.True(t, o1.evicted)
	require.False(t, o1.accessed)
}

func TestSwapAllocWriteReadRoundTrip(t *testing.T) {
	disk := block.NewMemDisk(defs.SectorsPerPage * 4)
	sw := NewSwap(disk)

	slot, err := sw.Alloc()
	require.Equal(t, defs.Err_t(0), err)

	page := make([]byte, defs.PGSIZE)
	for i := range page {
		page[i] = byte(i % 251)
	}
	require.Equal(t, defs.Err_t(0), sw.Write(slot, page))

	out := make([]byte, defs.PGSIZE)
	require.Equal(t, defs.Err_t(0), sw.Read(slot, out))
	require.Equal(t, page, out)

	sw.Free(slot)
	slot2, err := sw.Alloc()
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, slot, slot2)
}

func TestSwapExhaustion(t *testing.T) {
	disk := block.NewMemDisk(defs.SectorsPerPage)
	sw := NewSwap(disk)
	_, err := sw.Alloc()
	require.Equal(t, defs.Err_t(0), err)
	_, err = sw.Alloc()
	require.Equal(t, defs.ENOSPC, err)
}

type ownerStub struct {
	accessed bool
	evicted  bool
}

func (o *ownerStub) Accessed() bool { return o.accessed }
func (o *ownerStub) ClearAccessed() { o.accessed = false }
func (o *ownerStub) SwapOut(data []byte) defs.Err_t {
	o.evicted = true
	return 0
}
