// Package vm implements demand-paged virtual memory (spec §4.4-4.5): a
// per-process supplemental page table (SPT) of uninit/anon/file-backed
// pages, page-fault handling with a stack-growth heuristic, and
// memory-mapped files. Grounded directly on
// original_source/vm/{vm,anon,file}.c, since this is the one subsystem
// with no teacher-repo equivalent (Biscuit has no user-process virtual
// memory code in the retrieval pack). The page-table/PTE layer the
// original program drives through pml4_set_page/pml4_is_accessed is
// simulated here as a plain map keyed by virtual address (no MMU to
// program), following the locking discipline of the teacher's vm/as.go
// Lock_pmap/Unlock_pmap.
package vm

import (
	"sync"

	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/file"
	"github.com/antaechan/pintos-go/frame"
)

// Kind tags which variant a page currently is. Per the redesign note this
// is a tagged field, not a vtable/interface swap: a page transmutes from
// Uninit to Anon or File in place the first time it is faulted in,
// matching uninit_initialize's behavior of mutating the same struct.
type Kind int

const (
	Uninit Kind = iota
	Anon
	File
)

// Page is one entry of a supplemental page table.
type Page struct {
	mu sync.Mutex

	as *AddressSpace

	VA       uintptr
	Writable bool
	Kind     Kind

	frm      *frame.Frame
	accessed bool
	dirty    bool

	// Uninit fields: how to materialize the page's initial content the
	// first time it's claimed, and what it becomes afterward.
	initKind Kind
	initFn   func(*Page, []byte) defs.Err_t

	// Anon fields.
	swapSlot int // -1 when resident or never swapped

	// File-backed fields (also used by mmap).
	handle    *file.Handle
	fileOff   int
	validLen  int // bytes of the page actually backed by the file; rest is zero
	isMmapped bool
}

// Accessed/ClearAccessed/SwapOut implement frame.Owner so the frame table
// can run its clock algorithm and ask a page to persist itself on
// eviction without importing vm.
func (p *Page) Accessed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accessed
}

func (p *Page) ClearAccessed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessed = false
}

func (p *Page) touch(write bool) {
	p.mu.Lock()
	p.accessed = true
	if write {
		p.dirty = true
	}
	p.mu.Unlock()
}
