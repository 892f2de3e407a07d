package vm

import "github.com/antaechan/pintos-go/defs"

// CopyIn and CopyOut are the simulated equivalent of a syscall handler
// dereferencing a user pointer (original_source's get_user/put_user style
// access, driven through pml4_get_page in the real kernel): they fault
// the target page in if necessary, then read or write the bytes at its
// in-page offset. Both reject a request that would cross a page boundary
// — callers spanning multiple pages issue one call per page, exactly as
// a byte-at-a-time get_user/put_user loop would.

// CopyOut writes data into the page containing va (claiming it first if
// it is not yet resident), matching a user-space write syscall's buffer
// copy. It fails with EPERM if the page is not writable.
func (as *AddressSpace) CopyOut(va uintptr, data []byte) defs.Err_t {
	off := int(defs.PageOffset(va))
	if off+len(data) > defs.PGSIZE {
		return defs.EINVAL
	}
	p := as.Find(va)
	if p == nil {
		return defs.EFAULT
	}
	if !p.Writable {
		return defs.EPERM
	}
	p.mu.Lock()
	resident := p.frm != nil
	p.mu.Unlock()
	if !resident {
		if err := as.doClaim(p); err != 0 {
			return err
		}
	}
	p.mu.Lock()
	copy(p.frm.Data[off:], data)
	p.accessed = true
	p.dirty = true
	p.mu.Unlock()
	return 0
}

// CopyIn reads n bytes out of the page containing va (claiming it first
// if necessary), matching a user-space read syscall's buffer copy.
func (as *AddressSpace) CopyIn(va uintptr, n int) ([]byte, defs.Err_t) {
	off := int(defs.PageOffset(va))
	if off+n > defs.PGSIZE {
		return nil, defs.EINVAL
	}
	p := as.Find(va)
	if p == nil {
		return nil, defs.EFAULT
	}
	p.mu.Lock()
	resident := p.frm != nil
	p.mu.Unlock()
	if !resident {
		if err := as.doClaim(p); err != 0 {
			return nil, err
		}
	}
	out := make([]byte, n)
	p.mu.Lock()
	copy(out, p.frm.Data[off:off+n])
	p.accessed = true
	p.mu.Unlock()
	return out, 0
}
