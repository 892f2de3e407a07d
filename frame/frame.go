// Package frame implements the frame table and swap area (spec §4.3): a
// fixed pool of simulated physical pages managed with the clock
// (second-chance) eviction algorithm, and a disk-backed swap area handed
// out by bitmap scan-and-flip. Eviction and the victim-selection loop are
// grounded on original_source/vm/vm.c's vm_get_victim/vm_evict_frame/
// vm_get_frame; the swap bitmap follows original_source/vm/anon.c's
// scan-and-flip allocator. The frame pool itself is grounded on the
// teacher's mem/mem.go Physmem_t (a refcounted free list of simulated
// physical pages) with its per-CPU sharding dropped — this design has no
// SMP Non-goal to serve, so one global free list/lock suffices.
package frame

import (
	"container/list"
	"sync"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/limits"
)

// Owner is implemented by whatever currently occupies a Frame — a vm page
// — so the frame table can evict without importing the vm package
// (avoiding an import cycle, since vm imports frame).
type Owner interface {
	// Accessed reports and the implementation should also be able to
	// clear the access bit; Table calls Accessed then ClearAccessed
	// separately to implement the second-chance scan.
	Accessed() bool
	ClearAccessed()
	// SwapOut persists the frame's current contents (data is exactly
	// PGSIZE bytes) wherever the owner's variant keeps evicted data, and
	// returns an error only on unrecoverable swap exhaustion.
	SwapOut(data []byte) defs.Err_t
}

// Frame is one slot of simulated physical memory.
type Frame struct {
	Data  []byte
	owner Owner
	elem  *list.Element
}

// Table is the global frame pool, guarded by one lock exactly as the
// original kernel's single frame_table lock serializes vm_get_frame
// against concurrent faults.
type Table struct {
	mu     sync.Mutex
	all    *list.List // of *Frame, clock order
	cursor *list.Element
	free   []*Frame
}

// NewTable allocates a fixed pool of n frames, all initially free.
func NewTable(n int) *Table {
	t := &Table{all: list.New()}
	for i := 0; i < n; i++ {
		t.free = append(t.free, &Frame{Data: make([]byte, defs.PGSIZE)})
	}
	return t
}

// Capacity returns the total number of frames in the pool.
func (t *Table) Capacity() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.all.Len() + len(t.free)
}

// victim runs the clock algorithm starting from the persistent cursor: any
// frame whose owner was accessed gets its access bit cleared and a second
// chance; the first frame found with the bit already clear is evicted.
// The scan wraps around the list and runs for at most two full passes.
func (t *Table) victim() *Frame {
	if t.all.Len() == 0 {
		return nil
	}
	if t.cursor == nil {
		t.cursor = t.all.Front()
	}
	// At most two full passes are ever needed: the first clears every
	// accessed bit it meets, so by the second pass every remaining
	// candidate has its bit clear.
	for i := 0; i < 2*t.all.Len()+1; i++ {
		f := t.cursor.Value.(*Frame)
		next := t.cursor.Next()
		if next == nil {
			next = t.all.Front()
		}
		if f.owner.Accessed() {
			f.owner.ClearAccessed()
			t.cursor = next
			continue
		}
		t.cursor = next
		return f
	}
	// Unreachable given the bound above, but return something rather
	// than nil if every owner somehow keeps reporting Accessed==true.
	return t.cursor.Value.(*Frame)
}

// Alloc hands out a frame for owner, evicting the clock victim if the pool
// is full (vm_get_frame's fallback to vm_evict_frame).
func (t *Table) Alloc(owner Owner) (*Frame, defs.Err_t) {
	if !limits.Syslimit.Frames.Taken(1) {
		return nil, defs.ENOMEM
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.free) > 0 {
		f := t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
		f.owner = owner
		f.elem = t.all.PushBack(f)
		return f, 0
	}

	v := t.victim()
	if v == nil {
		limits.Syslimit.Frames.Given(1)
		return nil, defs.ENOMEM
	}
	if err := v.owner.SwapOut(v.Data); err != 0 {
		limits.Syslimit.Frames.Given(1)
		return nil, err
	}
	// The victim's unit passes to the new owner; the one just taken for
	// it is returned, so the count of frames in use stays unchanged.
	limits.Syslimit.Frames.Given(1)
	for i := range v.Data {
		v.Data[i] = 0
	}
	v.owner = owner
	return v, 0
}

// Free returns f to the pool, removing it from the clock list.
func (t *Table) Free(f *Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.elem != nil {
		if t.cursor == f.elem {
			t.cursor = f.elem.Next()
		}
		t.all.Remove(f.elem)
		f.elem = nil
	}
	f.owner = nil
	t.free = append(t.free, f)
	limits.Syslimit.Frames.Given(1)
}

// Swap is the disk-backed swap area: one bitmap bit per PGSIZE-sized slot,
// allocated by scanning for the first clear bit and flipping it, matching
// original_source/vm/anon.c's swap_table usage.
type Swap struct {
	mu     sync.Mutex
	disk   block.Disk
	used   []bool
	nslots int
}

// NewSwap sizes the swap area from the backing disk's sector count.
func NewSwap(disk block.Disk) *Swap {
	n := disk.NumSectors() / defs.SectorsPerPage
	return &Swap{disk: disk, used: make([]bool, n), nslots: n}
}

// Alloc reserves the first free slot and returns its index.
func (s *Swap) Alloc() (int, defs.Err_t) {
	if !limits.Syslimit.Swapslots.Taken(1) {
		return -1, defs.ENOSPC
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.used {
		if !u {
			s.used[i] = true
			return i, 0
		}
	}
	limits.Syslimit.Swapslots.Given(1)
	return -1, defs.ENOSPC
}

// Free releases slot for reuse.
func (s *Swap) Free(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot >= 0 && slot < len(s.used) {
		s.used[slot] = false
		limits.Syslimit.Swapslots.Given(1)
	}
}

// Write stores exactly one PGSIZE page into slot.
func (s *Swap) Write(slot int, data []byte) defs.Err_t {
	if len(data) != defs.PGSIZE {
		return defs.EINVAL
	}
	base := slot * defs.SectorsPerPage
	for i := 0; i < defs.SectorsPerPage; i++ {
		if err := s.disk.WriteSector(base+i, data[i*defs.SectorSize:(i+1)*defs.SectorSize]); err != 0 {
			return err
		}
	}
	return 0
}

// Read loads slot's PGSIZE page into data.
func (s *Swap) Read(slot int, data []byte) defs.Err_t {
	if len(data) != defs.PGSIZE {
		return defs.EINVAL
	}
	base := slot * defs.SectorsPerPage
	for i := 0; i < defs.SectorsPerPage; i++ {
		if err := s.disk.ReadSector(base+i, data[i*defs.SectorSize:(i+1)*defs.SectorSize]); err != 0 {
			return err
		}
	}
	return 0
}
