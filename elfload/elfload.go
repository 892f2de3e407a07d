// Package elfload discovers the loadable segments of an ELF executable so
// proc.Exec can register them as lazily-loaded Anon pages instead of
// reading the whole binary eagerly, grounded in original_source/userprog/
// process.c's load() walking e_phnum program headers and calling
// load_segment (which in turn calls vm_alloc_page_with_initializer(
// VM_ANON, ...)) for each PT_LOAD entry. The teacher's only ELF-touching
// file, kernel/chentry.go, patches a single entry point via debug/elf;
// this package generalizes that to full program-header iteration.
package elfload

import (
	"debug/elf"
	"io"

	"github.com/antaechan/pintos-go/defs"
)

// Segment describes one PT_LOAD program header, trimmed to what the page
// fault handler needs to lazily populate it: where it starts in the file,
// how many bytes come from the file versus read as zero, and whether the
// segment is writable.
type Segment struct {
	VAddr     uintptr
	MemSize   int
	FileOff   int64
	FileSize  int64
	Writable  bool
	Executable bool
}

// Image is a parsed executable: its entry point and loadable segments.
type Image struct {
	Entry    uintptr
	Segments []Segment
}

// PageMapping is one page's worth of a PT_LOAD segment: the page-aligned
// virtual address it loads at, where in the file its (possibly partial)
// content starts, and how many of the page's PGSIZE bytes come from the
// file — the rest reads as zero. This is the per-page unit proc.Exec
// installs one lazy uninit page for, matching load()'s computation of
// file_page/mem_page/page_offset and load_segment's read_bytes/
// zero_bytes page-by-page loop.
type PageMapping struct {
	VA        uintptr
	FileOff   int64
	ReadBytes int
	Writable  bool
}

// Pages expands every PT_LOAD segment into its page-granular mappings.
// A segment's first page may start at a non-page-aligned file offset and
// virtual address (both share the same in-page misalignment, per the
// ELF spec); every later page of the same segment is page-aligned on
// both sides. A segment whose MemSize exceeds its FileSize (bss) gets
// trailing pages with ReadBytes 0.
func (img *Image) Pages() []PageMapping {
	var out []PageMapping
	pgsize := uintptr(defs.PGSIZE)
	for _, seg := range img.Segments {
		pageOffset := defs.PageOffset(seg.VAddr)
		memPage := defs.PageRoundDown(seg.VAddr)
		filePage := seg.FileOff - int64(pageOffset)

		var readBytes, zeroBytes int64
		if seg.FileSize > 0 {
			readBytes = int64(pageOffset) + seg.FileSize
			zeroBytes = int64(defs.PageRoundUp(pageOffset+uintptr(seg.MemSize))) - readBytes
		} else {
			readBytes = 0
			zeroBytes = int64(defs.PageRoundUp(pageOffset + uintptr(seg.MemSize)))
		}

		va := memPage
		off := filePage
		for readBytes+zeroBytes > 0 {
			pageRead := readBytes
			if pageRead > int64(pgsize) {
				pageRead = int64(pgsize)
			}
			out = append(out, PageMapping{
				VA:        va,
				FileOff:   off,
				ReadBytes: int(pageRead),
				Writable:  seg.Writable,
			})
			readBytes -= pageRead
			zeroBytes -= int64(pgsize) - pageRead
			va += pgsize
			off += int64(pgsize)
		}
	}
	return out
}

// Load parses r as an ELF executable and returns its entry point and
// PT_LOAD segments, matching load()'s program-header scan.
func Load(r io.ReaderAt) (*Image, defs.Err_t) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, defs.ENOENT
	}
	defer f.Close()

	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, defs.EINVAL
	}

	img := &Image{Entry: uintptr(f.Entry)}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		img.Segments = append(img.Segments, Segment{
			VAddr:      uintptr(p.Vaddr),
			MemSize:    int(p.Memsz),
			FileOff:    int64(p.Off),
			FileSize:   int64(p.Filesz),
			Writable:   p.Flags&elf.PF_W != 0,
			Executable: p.Flags&elf.PF_X != 0,
		})
	}
	if len(img.Segments) == 0 {
		return nil, defs.EINVAL
	}
	return img, 0
}
