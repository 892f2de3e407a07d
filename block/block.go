// Package block is the sector-addressable disk abstraction the FAT
// filesystem and the swap area are both built on (spec §1, §6). It is
// grounded on the teacher's fs/blk.go request shape (a request struct
// carrying a completion channel) and ufs/driver.go's file-backed disk
// simulator, generalized from 4096-byte block addressing to the 512-byte
// sectors this design uses.
package block

import (
	"io"
	"os"
	"sync"

	"github.com/antaechan/pintos-go/defs"
)

// Disk is the interface every volume (the FAT root filesystem, the swap
// area) talks to. A real kernel would hand requests to an interrupt-driven
// driver; this one executes synchronously, which is observably identical
// from a caller's point of view since nothing here models concurrent DMA.
type Disk interface {
	ReadSector(sector int, buf []byte) defs.Err_t
	WriteSector(sector int, buf []byte) defs.Err_t
	NumSectors() int
	Close() error
}

// Req_t is a disk request, kept even though FileDisk/MemDisk execute
// synchronously: it is the shape a future interrupt-driven Disk
// implementation would consume, matching the teacher's Bdev_req_t
// request/ack-channel idiom.
type Req_t struct {
	Sector int
	Buf    []byte
	Write  bool
	Ack    chan defs.Err_t
}

// FileDisk backs a Disk with a regular OS file, the way ufs/driver.go's
// ahci_disk_t simulates a disk over a host file for testing without real
// hardware.
type FileDisk struct {
	mu    sync.Mutex
	f     *os.File
	nsecs int
}

// OpenFileDisk opens (creating if needed) a file-backed disk of exactly
// nsecs sectors. If the file is shorter it is extended with zero sectors;
// an existing longer file is used as-is but only the first nsecs sectors
// are addressable.
func OpenFileDisk(path string, nsecs int) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	want := int64(nsecs) * defs.SectorSize
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < want {
		if err := f.Truncate(want); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &FileDisk{f: f, nsecs: nsecs}, nil
}

func (d *FileDisk) NumSectors() int { return d.nsecs }

func (d *FileDisk) ReadSector(sector int, buf []byte) defs.Err_t {
	if sector < 0 || sector >= d.nsecs || len(buf) != defs.SectorSize {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.f.ReadAt(buf, int64(sector)*defs.SectorSize)
	if err != nil && err != io.EOF {
		return defs.EFAULT
	}
	return 0
}

func (d *FileDisk) WriteSector(sector int, buf []byte) defs.Err_t {
	if sector < 0 || sector >= d.nsecs || len(buf) != defs.SectorSize {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.WriteAt(buf, int64(sector)*defs.SectorSize); err != nil {
		return defs.EFAULT
	}
	return 0
}

func (d *FileDisk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}

// MemDisk is an in-memory Disk, used by tests that want a fast scratch
// volume without touching the filesystem.
type MemDisk struct {
	mu   sync.Mutex
	secs [][defs.SectorSize]byte
}

func NewMemDisk(nsecs int) *MemDisk {
	return &MemDisk{secs: make([][defs.SectorSize]byte, nsecs)}
}

func (d *MemDisk) NumSectors() int { return len(d.secs) }

func (d *MemDisk) ReadSector(sector int, buf []byte) defs.Err_t {
	if sector < 0 || sector >= len(d.secs) || len(buf) != defs.SectorSize {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(buf, d.secs[sector][:])
	return 0
}

func (d *MemDisk) WriteSector(sector int, buf []byte) defs.Err_t {
	if sector < 0 || sector >= len(d.secs) || len(buf) != defs.SectorSize {
		return defs.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.secs[sector][:], buf)
	return 0
}

func (d *MemDisk) Close() error { return nil }
