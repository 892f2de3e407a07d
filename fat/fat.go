// Package fat implements the on-disk FAT filesystem (spec §4.1): a boot
// sector, a dense cluster-chain table, and chain allocate/extend/remove
// operations. Semantics are grounded directly on
// original_source/filesys/fat.c — the retrieval pack's own filesystem
// (Biscuit's ufs) is a Unix-inode design with no FAT equivalent. The
// on-disk layout (fixed boot record + flat uint32 array, not a real
// FAT12/16/32 BPB) is this design's own, so serialization uses stdlib
// encoding/binary rather than a pack FAT library tied to the real-world
// wire format (see DESIGN.md).
package fat

import (
	"encoding/binary"
	"sync"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/limits"
)

const (
	fatMagic           = 0xf47f47f4
	bootSector         = 0
	sectorsPerCluster  = 1
	rootDirCluster     = 1
	eoChain    cluster = 0x0FFFFFFF
)

// cluster is a 1-based cluster number. As a FAT entry value, 0 means
// "free" and eoChain marks the last cluster of a chain.
type cluster = uint32

type bootRecord struct {
	Magic              uint32
	SectorsPerCluster  uint32
	TotalSectors       uint32
	FatStart           uint32
	FatSectors         uint32
	RootDirCluster     uint32
}

const bootRecordSize = 6 * 4

// FS is an open FAT volume: the boot record, the dense FAT array kept
// entirely in memory (as fat_open does), and the single write lock that
// serializes every chain mutation, per fat.c's write_lock.
type FS struct {
	disk      block.Disk
	bs        bootRecord
	fat       []cluster
	dataStart int
	lastClst  cluster

	mu sync.Mutex
}

// Open reads an existing FAT volume from disk, formatting it first (via
// fat_boot_create/fat_create in the original) if the boot sector's magic
// does not match — mirroring fat_init's "create if missing" behavior.
func Open(disk block.Disk) (*FS, defs.Err_t) {
	fsys := &FS{disk: disk}
	buf := make([]byte, defs.SectorSize)
	if err := disk.ReadSector(bootSector, buf); err != 0 {
		return nil, err
	}
	fsys.bs.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if fsys.bs.Magic != fatMagic {
		if err := fsys.format(); err != 0 {
			return nil, err
		}
		return fsys, fsys.createRoot()
	}
	fsys.bs.SectorsPerCluster = binary.LittleEndian.Uint32(buf[4:8])
	fsys.bs.TotalSectors = binary.LittleEndian.Uint32(buf[8:12])
	fsys.bs.FatStart = binary.LittleEndian.Uint32(buf[12:16])
	fsys.bs.FatSectors = binary.LittleEndian.Uint32(buf[16:20])
	fsys.bs.RootDirCluster = binary.LittleEndian.Uint32(buf[20:24])
	fsys.initDerived()
	if err := fsys.loadFat(); err != 0 {
		return nil, err
	}
	return fsys, 0
}

// format writes a fresh boot sector sized for the disk's sector count, the
// way fat_boot_create/fat_fs_init compute fat_sectors and fat_length.
func (fsys *FS) format() defs.Err_t {
	total := fsys.disk.NumSectors()
	entrySize := 4
	// fat_sectors = (total-1) / (entries_per_sector*spc + 1) + 1
	entriesPerSector := defs.SectorSize / entrySize
	fatSectors := (total-1)/(entriesPerSector*sectorsPerCluster+1) + 1
	fsys.bs = bootRecord{
		Magic:             fatMagic,
		SectorsPerCluster: sectorsPerCluster,
		TotalSectors:      uint32(total),
		FatStart:          1,
		FatSectors:        uint32(fatSectors),
		RootDirCluster:    rootDirCluster,
	}
	fsys.initDerived()
	fsys.fat = make([]cluster, fatLengthFor(fsys.bs))
	return fsys.writeBootSector()
}

func fatLengthFor(bs bootRecord) int {
	dataSectors := int(bs.TotalSectors) - int(bs.FatSectors) - 1
	return dataSectors / int(bs.SectorsPerCluster)
}

func (fsys *FS) initDerived() {
	fsys.dataStart = int(fsys.bs.FatStart + fsys.bs.FatSectors)
	fsys.lastClst = cluster(fsys.bs.RootDirCluster) + 1
}

func (fsys *FS) writeBootSector() defs.Err_t {
	buf := make([]byte, defs.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], fsys.bs.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], fsys.bs.SectorsPerCluster)
	binary.LittleEndian.PutUint32(buf[8:12], fsys.bs.TotalSectors)
	binary.LittleEndian.PutUint32(buf[12:16], fsys.bs.FatStart)
	binary.LittleEndian.PutUint32(buf[16:20], fsys.bs.FatSectors)
	binary.LittleEndian.PutUint32(buf[20:24], fsys.bs.RootDirCluster)
	return fsys.disk.WriteSector(bootSector, buf)
}

// createRoot sets up the root directory's cluster chain terminator and
// zeroes its data region, matching fat_create.
func (fsys *FS) createRoot() defs.Err_t {
	fsys.put(rootDirCluster, eoChain)
	zero := make([]byte, defs.SectorSize)
	return fsys.disk.WriteSector(fsys.ToSector(rootDirCluster), zero)
}

// loadFat reads the dense FAT array off disk into memory, packing four
// entries per sector the way fat_open streams it through a bounce buffer.
func (fsys *FS) loadFat() defs.Err_t {
	length := fatLengthFor(fsys.bs)
	fsys.fat = make([]cluster, length)
	raw := make([]byte, length*4)
	off := 0
	for i := 0; i < int(fsys.bs.FatSectors) && off < len(raw); i++ {
		buf := make([]byte, defs.SectorSize)
		if err := fsys.disk.ReadSector(int(fsys.bs.FatStart)+i, buf); err != 0 {
			return err
		}
		n := copy(raw[off:], buf)
		off += n
	}
	for i := range fsys.fat {
		fsys.fat[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return 0
}

// Close flushes the boot sector and the FAT array back to disk, the
// mirror image of loadFat, matching fat_close.
func (fsys *FS) Close() defs.Err_t {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if err := fsys.writeBootSector(); err != 0 {
		return err
	}
	raw := make([]byte, len(fsys.fat)*4)
	for i, c := range fsys.fat {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], c)
	}
	off := 0
	for i := 0; i < int(fsys.bs.FatSectors); i++ {
		buf := make([]byte, defs.SectorSize)
		if off < len(raw) {
			n := copy(buf, raw[off:])
			off += n
		}
		if err := fsys.disk.WriteSector(int(fsys.bs.FatStart)+i, buf); err != 0 {
			return err
		}
	}
	return 0
}

func (fsys *FS) get(clst cluster) cluster { return fsys.fat[clst] }
func (fsys *FS) put(clst, val cluster)    { fsys.fat[clst] = val }

// ToSector converts a cluster number to its first data sector, matching
// cluster_to_sector.
func (fsys *FS) ToSector(clst cluster) int {
	return fsys.dataStart + int(clst-1)*int(fsys.bs.SectorsPerCluster)
}

// ToCluster converts a data sector to its containing cluster, the inverse
// of ToSector, matching sector_to_cluster.
func (fsys *FS) ToCluster(sector int) cluster {
	return cluster((sector-fsys.dataStart)/int(fsys.bs.SectorsPerCluster)) + 1
}

// RootDirCluster returns the fixed cluster holding the (flat) root
// directory's first sector.
func (fsys *FS) RootDirCluster() cluster { return cluster(fsys.bs.RootDirCluster) }

// CreateChain appends one cluster to the chain headed by clst (or starts a
// new chain if clst is 0), scanning forward from lastClst for a free slot
// exactly as fat_create_chain does; it returns 0 if the volume is full.
func (fsys *FS) CreateChain(clst cluster) cluster {
	if !limits.Syslimit.Clusters.Taken(1) {
		return 0
	}

	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	newClst := fsys.lastClst
	for {
		if newClst > cluster(len(fsys.fat)-1) {
			limits.Syslimit.Clusters.Given(1)
			return 0
		}
		if fsys.get(newClst) == 0 {
			break
		}
		newClst++
	}
	if clst != 0 {
		fsys.put(clst, newClst)
	}
	fsys.put(newClst, eoChain)
	fsys.lastClst = newClst + 1
	return newClst
}

// RemoveChain frees every cluster in the chain starting at clst. If pclst
// is non-zero the caller asserts pclst currently points at clst (the chain
// is being truncated mid-stream, not removed wholesale); this matches
// fat_remove_chain, including its rewind of lastClst to the lowest freed
// cluster so CreateChain reuses the freed space first.
func (fsys *FS) RemoveChain(clst, pclst cluster) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	if pclst != 0 {
		fsys.put(pclst, eoChain)
	}
	curr := clst
	for curr != 0 {
		next := fsys.get(curr)
		fsys.put(curr, 0)
		limits.Syslimit.Clusters.Given(1)
		if curr < fsys.lastClst {
			fsys.lastClst = curr
		}
		if next == eoChain {
			break
		}
		curr = next
	}
}

// Allocate reserves cnt contiguous-in-chain clusters and returns the
// starting sector, the way fat_allocate builds a chain one cluster at a
// time and unwinds it entirely if the volume runs out of space partway
// through.
func (fsys *FS) Allocate(cnt int) (int, defs.Err_t) {
	if cnt == 0 {
		return 0, 0
	}
	start := fsys.CreateChain(0)
	if start == 0 {
		return 0, defs.ENOSPC
	}
	iter := start
	for i := 1; i < cnt; i++ {
		iter = fsys.CreateChain(iter)
		if iter == 0 {
			fsys.RemoveChain(start, 0)
			return 0, defs.ENOSPC
		}
	}
	return fsys.ToSector(start), 0
}

// Len returns the length of the FAT array (index 0 is unused; clusters,
// including the root directory cluster at index 1, run from 1 to Len()-1),
// for diagnostic tools that need to walk the whole FAT array.
func (fsys *FS) Len() int {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return len(fsys.fat)
}

// ClusterLinks returns a snapshot of the live FAT array, index 0 unused
// per this package's 1-based cluster numbering. Used by cmd/kernctl's
// fsck subcommand to verify every cluster is either free or reachable
// from exactly one chain.
func (fsys *FS) ClusterLinks() []cluster {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	out := make([]cluster, len(fsys.fat))
	copy(out, fsys.fat)
	return out
}

// Chain returns the ordered list of clusters in the chain starting at
// head, for callers (file.Handle) that need to walk a file's data.
func (fsys *FS) Chain(head cluster) []cluster {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	var out []cluster
	for c := head; c != eoChain && c != 0; c = fsys.get(c) {
		out = append(out, c)
	}
	return out
}
