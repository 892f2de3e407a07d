package vm

import (
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/file"
)

// MapFilePage registers a single file-backed page at va, reading exactly
// validLen bytes from handle at offset off when first faulted in (the
// rest of the page reads as zero) — the per-page unit do_mmap builds up
// from, and also what Copy uses to re-register a forked file mapping.
func (as *AddressSpace) MapFilePage(va uintptr, writable bool, handle *file.Handle, off, validLen int) defs.Err_t {
	va = defs.PageRoundDown(va)
	as.mu.Lock()
	if _, ok := as.pages[va]; ok {
		as.mu.Unlock()
		return defs.EEXIST
	}
	p := &Page{
		VA: va, Writable: writable, Kind: File,
		handle: handle, fileOff: off, validLen: validLen,
		isMmapped: true, swapSlot: -1,
	}
	as.setBackrefs(p)
	as.pages[va] = p
	as.mu.Unlock()
	return 0
}

// Mmap lays out a file-backed mapping starting at addr, one page at a
// time, matching do_mmap: the file is reopened so the mapping survives
// the caller's fd being closed, offset is validated page-aligned and
// used as the first page's file start (spec §4.5/§6's full five-argument
// mmap(addr, length, writable, fd, offset)), and the final partial page
// is zero-padded past the file's length.
func (as *AddressSpace) Mmap(addr uintptr, length int, writable bool, handle *file.Handle, offset int) (uintptr, defs.Err_t) {
	if addr == 0 || !defs.IsPageAligned(addr) || length <= 0 {
		return 0, defs.EINVAL
	}
	if offset < 0 || !defs.IsPageAligned(uintptr(offset)) {
		return 0, defs.EINVAL
	}
	mapped, err := handle.Duplicate()
	if err != 0 {
		return 0, err
	}

	remaining := length
	off := offset
	va := addr
	for remaining > 0 {
		readBytes := defs.PGSIZE
		if remaining < defs.PGSIZE {
			readBytes = remaining
		}
		if err := as.MapFilePage(va, writable, mapped, off, readBytes); err != 0 {
			as.unmapRange(addr, va)
			return 0, err
		}
		va += uintptr(defs.PGSIZE)
		off += readBytes
		remaining -= readBytes
	}
	return addr, 0
}

// Munmap tears down a mapping previously returned by Mmap, writing back
// dirty resident pages through their shared reopened handle, matching the
// writeback do_munmap must perform even though the reference
// implementation leaves it unfinished (spec's supplement of a dropped
// feature).
func (as *AddressSpace) Munmap(addr uintptr) defs.Err_t {
	as.mu.Lock()
	p, ok := as.pages[addr]
	if !ok || !p.isMmapped {
		as.mu.Unlock()
		return defs.EINVAL
	}
	as.mu.Unlock()

	handle := p.handle
	end := addr
	for {
		cur := as.Find(end)
		if cur == nil || !cur.isMmapped || cur.handle != handle {
			break
		}
		end += uintptr(defs.PGSIZE)
	}
	as.unmapRange(addr, end)
	return 0
}

func (as *AddressSpace) unmapRange(start, end uintptr) {
	var lastHandle *file.Handle
	for va := start; va < end; va += uintptr(defs.PGSIZE) {
		p := as.Find(va)
		if p == nil {
			continue
		}
		p.mu.Lock()
		frm, dirty, h, off, valid := p.frm, p.dirty, p.handle, p.fileOff, p.validLen
		p.mu.Unlock()
		if frm != nil && dirty && h != nil {
			if err := h.Seek(off); err == 0 {
				h.WriteAt(frm.Data[:valid])
			}
		}
		lastHandle = h
		as.Remove(va)
	}
	if lastHandle != nil {
		lastHandle.Close()
	}
}
