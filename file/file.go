// Package file is the file object layer sitting on top of the FAT
// filesystem (spec §4.2): open/read/write/seek/duplicate/close over a flat
// root directory (no nested directories, per spec's Non-goals). The
// open-file/duplicate/deny-write shape is grounded on the teacher's
// fd/fd.go (Fd_t/Copyfd/Reopen) and ufs/ufs.go's MkFile/Update/Append
// open-and-extend pattern; on-disk layout and growth-by-one-cluster
// follow original_source/filesys/inode.c's approach of extending a file's
// chain lazily as writes cross the current end.
package file

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/fat"
	"github.com/antaechan/pintos-go/hashtable"
	"github.com/antaechan/pintos-go/ustr"
	"github.com/antaechan/pintos-go/util"
)

// dirIndexBuckets sizes the name index; this flat root is a demo
// filesystem, not one with thousands of entries, so a small fixed bucket
// count is plenty.
const dirIndexBuckets = 64

const (
	maxNameLen  = 52
	direntSize  = maxNameLen + 4 + 4 + 4 // name + head cluster + length + in-use
	direntsPerSector = defs.SectorSize / direntSize
)

// dirent is one fixed-size root directory record.
type dirent struct {
	name   [maxNameLen]byte
	head   uint32
	length uint32
	inUse  uint32
}

// inode is the live, in-memory state of an open file's identity: shared by
// every Handle that refers to the same name, so writes through one
// descriptor are visible through a dup'd one (spec §8 scenario 6).
type inode struct {
	mu         sync.Mutex
	name       ustr.Ustr
	head       uint32
	length     int
	refs       int
	denyWrites int
	removed    bool
}

// FS is the open file-object layer: one FAT volume plus its flat root
// directory, guarded by a single lock exactly the way the teacher's ufs
// guards its superblock and free list with one mutex.
type FS struct {
	mu    sync.Mutex
	fat   *fat.FS
	dsk   block.Disk
	dir   []*inode
	index *hashtable.Hashtable_t
}

// Mount opens the file-object layer over an already-open FAT volume,
// loading the root directory's entries into memory.
func Mount(fatfs *fat.FS, disk block.Disk) (*FS, defs.Err_t) {
	fs := &FS{fat: fatfs, dsk: disk, index: hashtable.MkHash(dirIndexBuckets)}
	if err := fs.loadDir(); err != 0 {
		return nil, err
	}
	return fs, 0
}

// loadDir walks the root directory's cluster chain and decodes every
// in-use dirent into an in-memory inode, the FAT-filesystem equivalent of
// reading a Unix directory's data blocks into dentries.
func (fs *FS) loadDir() defs.Err_t {
	root := fs.fat.RootDirCluster()
	for _, c := range fs.fat.Chain(root) {
		sector := fs.fat.ToSector(c)
		buf := make([]byte, defs.SectorSize)
		if err := fs.dsk.ReadSector(sector, buf); err != 0 {
			return err
		}
		for i := 0; i < direntsPerSector; i++ {
			rec := buf[i*direntSize : (i+1)*direntSize]
			if binary.LittleEndian.Uint32(rec[maxNameLen+8:maxNameLen+12]) == 0 {
				continue
			}
			nameEnd := 0
			for nameEnd < maxNameLen && rec[nameEnd] != 0 {
				nameEnd++
			}
			name := append(ustr.Ustr{}, rec[:nameEnd]...)
			in := &inode{
				name:   name,
				head:   binary.LittleEndian.Uint32(rec[maxNameLen : maxNameLen+4]),
				length: int(binary.LittleEndian.Uint32(rec[maxNameLen+4 : maxNameLen+8])),
			}
			fs.dir = append(fs.dir, in)
			fs.index.Set(name, in)
		}
	}
	return 0
}

// Sync flushes the in-memory directory back to the root directory's
// cluster chain, growing it with fresh clusters if more entries now exist
// than fit in the clusters already allocated.
func (fs *FS) Sync() defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	root := fs.fat.RootDirCluster()
	chain := fs.fat.Chain(root)
	needed := util.Ceildiv(len(fs.dir), direntsPerSector)
	if needed == 0 {
		needed = 1
	}
	for len(chain) < needed {
		last := chain[len(chain)-1]
		next := fs.fat.CreateChain(last)
		if next == 0 {
			return defs.ENOSPC
		}
		chain = append(chain, next)
	}

	buf := make([]byte, defs.SectorSize)
	idx := 0
	flushSector := func(sector int) defs.Err_t {
		return fs.dsk.WriteSector(sector, buf)
	}
	for _, c := range chain {
		for i := range buf {
			buf[i] = 0
		}
		for i := 0; i < direntsPerSector && idx < len(fs.dir); i++ {
			in := fs.dir[idx]
			idx++
			if in.removed {
				continue
			}
			rec := buf[i*direntSize : (i+1)*direntSize]
			copy(rec[:maxNameLen], in.name)
			binary.LittleEndian.PutUint32(rec[maxNameLen:maxNameLen+4], in.head)
			binary.LittleEndian.PutUint32(rec[maxNameLen+4:maxNameLen+8], uint32(in.length))
			binary.LittleEndian.PutUint32(rec[maxNameLen+8:maxNameLen+12], 1)
		}
		if err := flushSector(fs.fat.ToSector(c)); err != 0 {
			return err
		}
	}
	return 0
}

// lookup finds a live (non-removed) inode by name via the directory's
// hash index, rather than a linear scan of fs.dir.
func (fs *FS) lookup(name ustr.Ustr) *inode {
	name = name.Stripped()
	v, ok := fs.index.Get(name)
	if !ok {
		return nil
	}
	in := v.(*inode)
	if in.removed {
		return nil
	}
	return in
}

// Create makes a new empty file named name. It fails with EEXIST if the
// name is already in use, matching fat_create's single flat namespace.
func (fs *FS) Create(name ustr.Ustr) defs.Err_t {
	name = name.Stripped()
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.lookup(name) != nil {
		return defs.EEXIST
	}
	head := fs.fat.CreateChain(0)
	if head == 0 {
		return defs.ENOSPC
	}
	in := &inode{name: append(ustr.Ustr{}, name...), head: head}
	fs.dir = append(fs.dir, in)
	fs.index.Set(in.name, in)
	return 0
}

// Remove unlinks name, freeing its cluster chain immediately if nothing
// has it open, or marking it removed-pending-close otherwise (Unix
// unlink-while-open semantics, which Pintos-KAIST's inode_remove also
// implements via an open-count check).
func (fs *FS) Remove(name ustr.Ustr) defs.Err_t {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	in := fs.lookup(name)
	if in == nil {
		return defs.ENOENT
	}
	in.mu.Lock()
	in.removed = true
	refs := in.refs
	head := in.head
	in.mu.Unlock()
	// Free the index slot immediately so a later Create of the same name
	// doesn't collide with this now-dead entry (Hashtable_t.Set is a
	// no-op, not an overwrite, when the key is already present).
	fs.index.Del(in.name)
	if refs == 0 {
		fs.fat.RemoveChain(head, 0)
	}
	return 0
}

// Handle is one open reference to a file: its own position and
// deny-write vote, sharing the underlying inode (and therefore cluster
// chain and length) with every other Handle opened on the same name.
//
// aliasRefs counts fd-table slots that point at this exact Handle value
// (spec §8 scenario 6's dup2 aliasing, where two descriptors must share
// one position, not the independent-position duplicate fork/mmap use).
// It starts at 1 for a freshly Open'd or Duplicate'd Handle and is bumped
// by Alias; only the alias that drives it to 0 actually releases the
// underlying inode reference.
type Handle struct {
	fs  *FS
	in  *inode
	pos int
	deniesWrite bool

	aliasRefs int32
}

// Open opens an existing file by name for reading and writing.
func (fs *FS) Open(name ustr.Ustr) (*Handle, defs.Err_t) {
	fs.mu.Lock()
	in := fs.lookup(name)
	if in == nil {
		fs.mu.Unlock()
		return nil, defs.ENOENT
	}
	in.mu.Lock()
	in.refs++
	in.mu.Unlock()
	fs.mu.Unlock()
	return &Handle{fs: fs, in: in, aliasRefs: 1}, 0
}

// Length returns the file's current size in bytes.
func (h *Handle) Length() int {
	h.in.mu.Lock()
	defer h.in.mu.Unlock()
	return h.in.length
}

// Tell returns the current read/write position.
func (h *Handle) Tell() int { return h.pos }

// Seek repositions the handle; positions past the current end are
// allowed (a subsequent write there extends the file with a hole of
// zeros), matching inode_write_at's grow-on-demand behavior.
func (h *Handle) Seek(pos int) defs.Err_t {
	if pos < 0 {
		return defs.EINVAL
	}
	h.pos = pos
	return 0
}

// DenyWrite marks the file non-writable for as long as any handle holds a
// deny-write vote, the way Pintos-KAIST denies writes to its own running
// executable (file_deny_write, spec §4.6's running_file).
func (h *Handle) DenyWrite() {
	h.in.mu.Lock()
	defer h.in.mu.Unlock()
	if !h.deniesWrite {
		h.deniesWrite = true
		h.in.denyWrites++
	}
}

// AllowWrite releases this handle's deny-write vote.
func (h *Handle) AllowWrite() {
	h.in.mu.Lock()
	defer h.in.mu.Unlock()
	if h.deniesWrite {
		h.deniesWrite = false
		h.in.denyWrites--
	}
}

func (h *Handle) clustersNeeded(length int) int {
	if length == 0 {
		return 0
	}
	return util.Ceildiv(length, defs.SectorSize)
}

// grow extends the file's cluster chain so it has at least n clusters; the
// head cluster never changes.
func (h *Handle) grow(n int) defs.Err_t {
	chain := h.fs.fat.Chain(h.in.head)
	for len(chain) < n {
		last := uint32(h.in.head)
		if len(chain) > 0 {
			last = chain[len(chain)-1]
		}
		next := h.fs.fat.CreateChain(last)
		if next == 0 {
			return defs.ENOSPC
		}
		chain = append(chain, next)
	}
	return 0
}

// ReadAt reads into buf starting at the handle's current position,
// advancing it by the number of bytes read, and returns (n, err).
func (h *Handle) ReadAt(buf []byte) (int, defs.Err_t) {
	h.in.mu.Lock()
	defer h.in.mu.Unlock()
	if h.pos >= h.in.length {
		return 0, 0
	}
	n := len(buf)
	if h.pos+n > h.in.length {
		n = h.in.length - h.pos
	}
	chain := h.fs.fat.Chain(h.in.head)
	read := 0
	for read < n {
		off := h.pos + read
		clusterIdx := off / defs.SectorSize
		clusterOff := off % defs.SectorSize
		if clusterIdx >= len(chain) {
			break
		}
		sector := h.fs.fat.ToSector(chain[clusterIdx])
		sbuf := make([]byte, defs.SectorSize)
		if err := h.fs.disk().ReadSector(sector, sbuf); err != 0 {
			return read, err
		}
		cpy := util.Min(defs.SectorSize-clusterOff, n-read)
		copy(buf[read:read+cpy], sbuf[clusterOff:clusterOff+cpy])
		read += cpy
	}
	h.pos += read
	return read, 0
}

// WriteAt writes buf at the handle's current position, growing the file
// (and its cluster chain) as needed, and advances the position.
func (h *Handle) WriteAt(buf []byte) (int, defs.Err_t) {
	h.in.mu.Lock()
	defer h.in.mu.Unlock()
	if h.in.denyWrites > 0 {
		return 0, defs.EPERM
	}
	end := h.pos + len(buf)
	if err := h.grow(h.clustersNeeded(end)); err != 0 {
		return 0, err
	}
	chain := h.fs.fat.Chain(h.in.head)
	// Sectors lying wholly between the old end of file and h.pos are not
	// touched by the copy loop below; zero them so the hole reads as zeros
	// even when its clusters were reused from a removed file.
	for s := util.Ceildiv(h.in.length, defs.SectorSize); s < h.pos/defs.SectorSize; s++ {
		zero := make([]byte, defs.SectorSize)
		if err := h.fs.disk().WriteSector(h.fs.fat.ToSector(chain[s]), zero); err != 0 {
			return 0, err
		}
	}
	written := 0
	for written < len(buf) {
		off := h.pos + written
		clusterIdx := off / defs.SectorSize
		clusterOff := off % defs.SectorSize
		sector := h.fs.fat.ToSector(chain[clusterIdx])
		sbuf := make([]byte, defs.SectorSize)
		if off-clusterOff < h.in.length {
			if err := h.fs.disk().ReadSector(sector, sbuf); err != 0 {
				return written, err
			}
		}
		cpy := util.Min(defs.SectorSize-clusterOff, len(buf)-written)
		copy(sbuf[clusterOff:clusterOff+cpy], buf[written:written+cpy])
		if err := h.fs.disk().WriteSector(sector, sbuf); err != 0 {
			return written, err
		}
		written += cpy
	}
	h.pos += written
	if h.pos > h.in.length {
		h.in.length = h.pos
	}
	return written, 0
}

func (fs *FS) disk() block.Disk {
	return fs.dsk
}

// Heads returns the head cluster of every live (non-removed) file, for
// diagnostic tools (cmd/kernctl's fsck) that need to trace reachability
// independently of Sync.
func (fs *FS) Heads() []uint32 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	heads := make([]uint32, 0, len(fs.dir))
	for _, in := range fs.dir {
		if !in.removed {
			heads = append(heads, in.head)
		}
	}
	return heads
}

// Duplicate creates a new Handle sharing this one's inode (content and
// cluster chain) but with its own independent position, matching
// fork's file_duplicate semantics (spec §3 Data Model and §4.6 Fork's
// file-descriptor-table copy): the parent and child each read and write
// the file at their own offsets.
func (h *Handle) Duplicate() (*Handle, defs.Err_t) {
	h.in.mu.Lock()
	h.in.refs++
	h.in.mu.Unlock()
	return &Handle{fs: h.fs, in: h.in, aliasRefs: 1}, 0
}

// Alias returns this exact Handle value with its alias count bumped, for
// dup2: both the old and the new descriptor number index the same open
// file description, so reads/writes/seeks through either advance the
// same position (spec §8 scenario 6), matching the original's dup2_list
// of fd numbers sharing one struct fd_t/struct file.
func (h *Handle) Alias() (*Handle, defs.Err_t) {
	atomic.AddInt32(&h.aliasRefs, 1)
	return h, 0
}

// Close releases one alias of this handle; only once every fd-table slot
// referencing it has closed does the underlying file reference actually
// drop, and — when the last reference to a file marked removed goes
// away — its cluster chain is finally freed (Unix unlink-while-open
// semantics).
func (h *Handle) Close() defs.Err_t {
	if atomic.AddInt32(&h.aliasRefs, -1) > 0 {
		return 0
	}
	h.AllowWrite()
	h.in.mu.Lock()
	h.in.refs--
	shouldFree := h.in.removed && h.in.refs == 0
	head := h.in.head
	h.in.mu.Unlock()
	if shouldFree {
		h.fs.fat.RemoveChain(head, 0)
	}
	return 0
}
