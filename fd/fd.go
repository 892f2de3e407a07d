// Package fd is the per-process file descriptor table: small integer
// descriptors mapping to open file.Handle values, with dup2 aliasing and
// fork duplication (spec §4.2 and §8 scenario 6). FD_CLOEXEC can be set
// in Perms, but nothing closes such descriptors on exec.
package fd

import (
	"sync"

	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/file"
	"github.com/antaechan/pintos-go/limits"
)

// File descriptor permission/behavior bits.
const (
	FD_READ    = 0x1 /// read permission
	FD_WRITE   = 0x2 /// write permission
	FD_CLOEXEC = 0x4 /// close-on-exec flag
)

/// Fd_t represents one slot of a process's descriptor table.
type Fd_t struct {
	Handle *file.Handle /// underlying open file
	Perms  int          /// permission bits
}

/// Copyfd aliases an open file descriptor onto a new slot the way dup2
/// does: both descriptors index the exact same Handle, so they share one
/// file position (spec §8 scenario 6), via file.Handle.Alias.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nh, err := fd.Handle.Alias()
	if err != 0 {
		return nil, err
	}
	return &Fd_t{Handle: nh, Perms: fd.Perms}, 0
}

/// Close_panic closes the descriptor and panics on failure; used at points
/// where the kernel has already validated the descriptor is open.
func Close_panic(f *Fd_t) {
	if err := f.Handle.Close(); err != 0 {
		panic("must succeed")
	}
}

// Table_t is a process's open file descriptor table. Pintos-KAIST grows a
// fixed array on demand; this kernel grows a slice the same way, guarded by
// one mutex since fork/exec/dup2/close all mutate it.
type Table_t struct {
	sync.Mutex
	slots []*Fd_t
}

/// MkTable returns an empty descriptor table sized for the common case of a
/// handful of open files (stdio plus a couple of data files).
func MkTable() *Table_t {
	return &Table_t{slots: make([]*Fd_t, 0, 8)}
}

/// Install inserts fd at the lowest free slot, matching POSIX's
/// lowest-available-descriptor rule, and returns that slot number.
func (t *Table_t) Install(fd *Fd_t) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	for i, s := range t.slots {
		if s == nil {
			t.slots[i] = fd
			return i, 0
		}
	}
	if len(t.slots) >= limits.Syslimit.Openfiles {
		return -1, defs.EMFILE
	}
	t.slots = append(t.slots, fd)
	return len(t.slots) - 1, 0
}

/// Get returns the descriptor installed at n, if any.
func (t *Table_t) Get(n int) (*Fd_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if n < 0 || n >= len(t.slots) || t.slots[n] == nil {
		return nil, defs.EBADF
	}
	return t.slots[n], 0
}

// Dup2 installs src's descriptor at slot dst, closing whatever previously
// lived there first (spec §8 scenario 6: reads/writes through either
// descriptor advance the same position, since both alias the same
// Handle rather than getting independent ones).
func (t *Table_t) Dup2(src, dst int) (int, defs.Err_t) {
	t.Lock()
	if src < 0 || src >= len(t.slots) || t.slots[src] == nil {
		t.Unlock()
		return -1, defs.EBADF
	}
	if dst < 0 {
		t.Unlock()
		return -1, defs.EINVAL
	}
	if src == dst {
		t.Unlock()
		return dst, 0
	}
	nh, err := t.slots[src].Handle.Alias()
	if err != 0 {
		t.Unlock()
		return -1, err
	}
	for dst >= len(t.slots) {
		t.slots = append(t.slots, nil)
	}
	old := t.slots[dst]
	t.slots[dst] = &Fd_t{Handle: nh, Perms: t.slots[src].Perms}
	t.Unlock()
	if old != nil {
		Close_panic(old)
	}
	return dst, 0
}

/// Remove clears slot n and returns the descriptor that was there, if any.
func (t *Table_t) Remove(n int) *Fd_t {
	t.Lock()
	defer t.Unlock()
	if n < 0 || n >= len(t.slots) {
		return nil
	}
	fd := t.slots[n]
	t.slots[n] = nil
	return fd
}

// Fork clones the table for process_fork: every live descriptor gets a new
// Handle on the same file with its own position (file.Handle.Duplicate),
// in the same slot number, matching Pintos-KAIST's
// fd_list deep-ish copy in __do_fork.
func (t *Table_t) Fork() (*Table_t, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	nt := &Table_t{slots: make([]*Fd_t, len(t.slots))}
	for i, s := range t.slots {
		if s == nil {
			continue
		}
		nh, err := s.Handle.Duplicate()
		if err != 0 {
			for j := 0; j < i; j++ {
				if nt.slots[j] != nil {
					Close_panic(nt.slots[j])
				}
			}
			return nil, err
		}
		nt.slots[i] = &Fd_t{Handle: nh, Perms: s.Perms}
	}
	return nt, 0
}

// CloseAll closes every open descriptor, used by process_exit's fd_list
// teardown.
func (t *Table_t) CloseAll() {
	t.Lock()
	slots := t.slots
	t.slots = nil
	t.Unlock()
	for _, s := range slots {
		if s != nil {
			Close_panic(s)
		}
	}
}
