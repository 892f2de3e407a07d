package vm

import (
	"github.com/antaechan/pintos-go/defs"
)

// HandleFault resolves a page fault at addr, matching
// vm_try_handle_fault: invalid addresses fail outright, an unmapped
// address within the grow-downward stack region triggers stack growth,
// and any other mapped-but-not-resident page is claimed (the lazy-load
// path for both uninit pages and pages evicted to swap/disk).
func (as *AddressSpace) HandleFault(addr uintptr, rsp uintptr, write, notPresent bool) defs.Err_t {
	if addr == 0 {
		return defs.EFAULT
	}
	p := as.Find(addr)
	if p == nil && isStackGrowth(addr, rsp) {
		return as.growStack(addr)
	}
	if p == nil {
		return defs.EFAULT
	}
	if write && !p.Writable {
		return defs.EPERM
	}
	if write && !notPresent {
		// write to a page already present but read-protected: this
		// kernel has no copy-on-write sharing to resolve, so it is
		// simply disallowed, matching vm_handle_wp's stub returning
		// false.
		return defs.EPERM
	}
	p.touch(write)
	if p.frm != nil {
		return 0
	}
	return as.doClaim(p)
}

// isStackGrowth matches is_stack_growth: the faulting address must fall
// within the fixed stack region below USER_STACK, and either be exactly
// one word below the current stack pointer (a PUSH) or at or above it
// (an access within the stack the process has already claimed by moving
// rsp down).
func isStackGrowth(addr, rsp uintptr) bool {
	onStack := addr >= defs.USER_STACK-defs.StackSizeLimit && addr <= defs.USER_STACK
	nearRsp := addr == rsp-8 || rsp <= addr
	return onStack && nearRsp
}

// growStack allocates and claims one new anonymous page at addr's
// containing page, matching vm_stack_growth.
func (as *AddressSpace) growStack(addr uintptr) defs.Err_t {
	va := defs.PageRoundDown(addr)
	return as.AllocAndClaim(va, true)
}
