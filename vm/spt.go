package vm

import (
	"sync"

	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/file"
	"github.com/antaechan/pintos-go/frame"
)

// AddressSpace is one process's supplemental page table plus the shared
// frame pool and swap area it draws from, mirroring the teacher's Vm_t
// (one mutex guarding the region map and page table together).
type AddressSpace struct {
	mu     sync.Mutex
	pages  map[uintptr]*Page
	frames *frame.Table
	swap   *frame.Swap
}

// NewAddressSpace creates an empty SPT backed by the given shared frame
// pool and swap area, matching supplemental_page_table_init.
func NewAddressSpace(frames *frame.Table, swap *frame.Swap) *AddressSpace {
	return &AddressSpace{pages: make(map[uintptr]*Page), frames: frames, swap: swap}
}

func (as *AddressSpace) setBackrefs(p *Page) { p.as = as }

// AllocWithInitializer registers an uninit page at va that will run init
// to produce its first content (becoming kind once claimed), matching
// vm_alloc_page_with_initializer. It fails with EEXIST if va is already
// mapped, mirroring spt_find_page's pre-insert check.
func (as *AddressSpace) AllocWithInitializer(va uintptr, writable bool, kind Kind, init func(*Page, []byte) defs.Err_t) defs.Err_t {
	return as.allocUninit(va, writable, kind, init, nil, 0, 0)
}

// AllocSegmentPage registers a lazily-loaded ELF segment page at va: the
// first fault reads validLen bytes from handle at off and zero-fills the
// remainder, then the page becomes a plain Anon page, matching
// lazy_load_segment's target kind of VM_ANON (original_source/userprog/
// process.c) rather than VM_FILE — a segment page, once resident, is
// ordinary anonymous memory that swaps out to the swap disk on eviction
// instead of writing back through a (possibly deny-written) executable
// handle.
func (as *AddressSpace) AllocSegmentPage(va uintptr, writable bool, handle *file.Handle, off, validLen int) defs.Err_t {
	return as.allocUninit(va, writable, Anon, lazySegmentInit, handle, off, validLen)
}

func (as *AddressSpace) allocUninit(va uintptr, writable bool, kind Kind, init func(*Page, []byte) defs.Err_t, handle *file.Handle, off, validLen int) defs.Err_t {
	va = defs.PageRoundDown(va)
	as.mu.Lock()
	defer as.mu.Unlock()
	if _, ok := as.pages[va]; ok {
		return defs.EEXIST
	}
	p := &Page{
		VA: va, Writable: writable, Kind: Uninit, initKind: kind, initFn: init, swapSlot: -1,
		handle: handle, fileOff: off, validLen: validLen,
	}
	as.setBackrefs(p)
	as.pages[va] = p
	return 0
}

// lazySegmentInit is the initFn AllocSegmentPage installs: it performs the
// file_read_at-equivalent read lazy_load_segment does, then the caller
// (swapIn) retypes the page to Anon so subsequent eviction/swap-in never
// touches the executable's handle again.
func lazySegmentInit(p *Page, data []byte) defs.Err_t {
	p.mu.Lock()
	h, off, valid := p.handle, p.fileOff, p.validLen
	p.mu.Unlock()
	if h == nil || valid <= 0 {
		for i := range data {
			data[i] = 0
		}
		return 0
	}
	if err := h.Seek(off); err != 0 {
		return err
	}
	n, err := h.ReadAt(data[:valid])
	if err != 0 {
		return err
	}
	for i := n; i < len(data); i++ {
		data[i] = 0
	}
	return 0
}

// Find returns the page mapping va, or nil, matching spt_find_page.
func (as *AddressSpace) Find(va uintptr) *Page {
	va = defs.PageRoundDown(va)
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.pages[va]
}

// Remove deletes va's page and releases its frame/swap slot, matching
// spt_remove_page + vm_dealloc_page.
func (as *AddressSpace) Remove(va uintptr) {
	va = defs.PageRoundDown(va)
	as.mu.Lock()
	p, ok := as.pages[va]
	if ok {
		delete(as.pages, va)
	}
	as.mu.Unlock()
	if ok {
		as.dealloc(p)
	}
}

func (as *AddressSpace) dealloc(p *Page) {
	p.mu.Lock()
	frm := p.frm
	slot := p.swapSlot
	p.frm = nil
	p.mu.Unlock()
	if frm != nil {
		as.frames.Free(frm)
	}
	if slot >= 0 {
		as.swap.Free(slot)
	}
}

// doClaim backs page with a physical frame, swapping or loading its
// content in, matching vm_do_claim_page/vm_get_frame.
func (as *AddressSpace) doClaim(p *Page) defs.Err_t {
	frm, err := as.frames.Alloc(p)
	if err != 0 {
		return err
	}
	p.mu.Lock()
	p.frm = frm
	p.mu.Unlock()
	return as.swapIn(p)
}

// swapIn materializes a page's content into its frame according to its
// current Kind, matching anon_swap_in/file_backed_swap_in/uninit's
// first-fault initializer call.
func (as *AddressSpace) swapIn(p *Page) defs.Err_t {
	p.mu.Lock()
	kind := p.Kind
	frm := p.frm
	p.mu.Unlock()

	switch kind {
	case Uninit:
		if err := p.initFn(p, frm.Data); err != 0 {
			return err
		}
		p.mu.Lock()
		p.Kind = p.initKind
		if p.Kind == Anon {
			// A lazily-loaded segment page's aux (the executable handle
			// and its offset) is spent once the content is read in; the
			// page is now ordinary anonymous memory.
			p.handle = nil
			p.fileOff = 0
			p.validLen = 0
		}
		p.mu.Unlock()
		return 0
	case Anon:
		p.mu.Lock()
		slot := p.swapSlot
		p.mu.Unlock()
		if slot < 0 {
			return 0 // never swapped out: frame is already zeroed
		}
		if err := as.swap.Read(slot, frm.Data); err != 0 {
			return err
		}
		as.swap.Free(slot)
		p.mu.Lock()
		p.swapSlot = -1
		p.mu.Unlock()
		return 0
	case File:
		p.mu.Lock()
		h, off, valid := p.handle, p.fileOff, p.validLen
		p.mu.Unlock()
		if h == nil {
			return 0
		}
		if err := h.Seek(off); err != 0 {
			return err
		}
		n, err := h.ReadAt(frm.Data[:valid])
		if err != 0 {
			return err
		}
		for i := n; i < defs.PGSIZE; i++ {
			frm.Data[i] = 0
		}
		return 0
	}
	return 0
}

// SwapOut persists p's frame contents according to its Kind, called by
// frame.Table while evicting; it implements frame.Owner alongside
// Accessed/ClearAccessed declared in page.go.
func (p *Page) SwapOut(data []byte) defs.Err_t {
	as := p.as
	p.mu.Lock()
	kind := p.Kind
	dirty := p.dirty
	h, off, valid := p.handle, p.fileOff, p.validLen
	p.mu.Unlock()

	switch kind {
	case Anon:
		slot, err := as.swap.Alloc()
		if err != 0 {
			defs.Fatal("swap space exhausted")
		}
		if err := as.swap.Write(slot, data); err != 0 {
			defs.Fatal("swap write failed")
		}
		p.mu.Lock()
		p.swapSlot = slot
		p.frm = nil
		p.dirty = false
		p.mu.Unlock()
		return 0
	case File:
		if dirty && h != nil {
			if err := h.Seek(off); err == 0 {
				h.WriteAt(data[:valid])
			}
		}
		p.mu.Lock()
		p.frm = nil
		p.dirty = false
		p.mu.Unlock()
		return 0
	}
	p.mu.Lock()
	p.frm = nil
	p.mu.Unlock()
	return 0
}

// ClaimPage locates va's page and backs it with a frame, matching
// vm_claim_page; it returns EFAULT if no page is mapped there.
func (as *AddressSpace) ClaimPage(va uintptr) defs.Err_t {
	p := as.Find(va)
	if p == nil {
		return defs.EFAULT
	}
	return as.doClaim(p)
}

// AllocAndClaim both registers and immediately backs a page, matching
// vm_alloc_and_claim_page (used for eager anonymous allocations like the
// initial stack page).
func (as *AddressSpace) AllocAndClaim(va uintptr, writable bool) defs.Err_t {
	if err := as.AllocWithInitializer(va, writable, Anon, zeroInit); err != 0 {
		return err
	}
	return as.ClaimPage(va)
}

func zeroInit(p *Page, data []byte) defs.Err_t {
	for i := range data {
		data[i] = 0
	}
	return 0
}

// Copy deep-copies src into a freshly built AddressSpace sharing the same
// frame pool and swap area, matching supplemental_page_table_copy: anon
// pages get independent backing content (copy-on-fork, not copy-on-write),
// uninit pages are re-registered with the same initializer, and
// file-backed pages are re-registered to re-derive their content by
// reopening the same file handle rather than aliasing the frame.
func (as *AddressSpace) Copy(src *AddressSpace, reopen func(*file.Handle) (*file.Handle, defs.Err_t)) defs.Err_t {
	src.mu.Lock()
	pages := make([]*Page, 0, len(src.pages))
	for _, p := range src.pages {
		pages = append(pages, p)
	}
	src.mu.Unlock()

	for _, sp := range pages {
		sp.mu.Lock()
		kind, initKind, writable := sp.Kind, sp.initKind, sp.Writable
		initFn := sp.initFn
		handle, off, valid := sp.handle, sp.fileOff, sp.validLen
		va := sp.VA
		sp.mu.Unlock()

		switch kind {
		case Uninit:
			// A still-unfaulted segment page carries its own file/offset
			// aux (AllocSegmentPage); duplicate that handle the same way
			// a File page's is reopened, so the child's lazy read doesn't
			// alias the parent's position, matching __do_fork's per-page
			// aux duplication.
			nh := handle
			if reopen != nil && handle != nil {
				var err defs.Err_t
				nh, err = reopen(handle)
				if err != 0 {
					return err
				}
			}
			if err := as.allocUninit(va, writable, initKind, initFn, nh, off, valid); err != 0 {
				return err
			}
		case Anon:
			// Ensure the source page is resident so there is content
			// to copy, then give the child its own frame with an
			// independent copy: fork isolates anon pages entirely
			// (no copy-on-write sharing), matching
			// supplemental_page_table_copy's VM_ANON case.
			if sp.frm == nil {
				if err := src.doClaim(sp); err != 0 {
					return err
				}
			}
			// Snapshot the content first: claiming the child's frame may
			// evict sp itself when the frame pool is nearly full.
			sp.mu.Lock()
			content := append([]byte(nil), sp.frm.Data...)
			sp.mu.Unlock()
			if err := as.AllocAndClaim(va, writable); err != 0 {
				return err
			}
			dp := as.Find(va)
			copy(dp.frm.Data, content)
		case File:
			nh := handle
			if reopen != nil && handle != nil {
				var err defs.Err_t
				nh, err = reopen(handle)
				if err != 0 {
					return err
				}
			}
			if err := as.MapFilePage(va, writable, nh, off, valid); err != 0 {
				return err
			}
		}
	}
	return 0
}

// Kill releases every page's frame/swap resource, writing back dirty
// file-backed pages first, matching supplemental_page_table_kill's
// writeback-then-destroy pass.
func (as *AddressSpace) Kill() {
	as.mu.Lock()
	pages := make([]*Page, 0, len(as.pages))
	for _, p := range as.pages {
		pages = append(pages, p)
	}
	as.pages = make(map[uintptr]*Page)
	as.mu.Unlock()

	for _, p := range pages {
		p.mu.Lock()
		frm := p.frm
		dirty := p.dirty
		kind := p.Kind
		h, off, valid := p.handle, p.fileOff, p.validLen
		p.mu.Unlock()
		if frm != nil {
			if kind == File && dirty && h != nil {
				if err := h.Seek(off); err == 0 {
					h.WriteAt(frm.Data[:valid])
				}
			}
			as.frames.Free(frm)
		}
		if p.swapSlot >= 0 {
			as.swap.Free(p.swapSlot)
		}
	}
}
