package limits

import "unsafe"
import "sync/atomic"

/// Lhits is a counter for limit hits; no code in this tree updates or reads it.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

// Syslimit_t tracks the system-wide resource caps this kernel actually
// enforces: process table slots (proc.Process), open file descriptors per
// process (file.Handle), physical frames (frame.Table), swap slots
// (frame.Swap), and FAT clusters (fat.FS). Biscuit's network/futex/vnode
// caps have no counterpart here — this kernel has no network stack or
// futex subsystem — so those fields were dropped rather than carried dead.
type Syslimit_t struct {
	// protected by the proc package's process table lock
	Sysprocs int
	// per-process open file descriptor cap, enforced by fd.Table_t.Install
	Openfiles int
	// proctected by frame.Table's lock
	Frames Sysatomic_t
	// proctected by frame.Swap's bitmap lock
	Swapslots Sysatomic_t
	// proctected by fat.FS's write lock
	Clusters Sysatomic_t
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs:  1e4,
		Openfiles: 1024,
		Frames:    8192,  // 32MB of simulated physical memory at 4K frames
		Swapslots: 16384, // 64MB swap area
		Clusters:  1 << 20,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
