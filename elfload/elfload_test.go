package elfload

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildMiniELF assembles the smallest valid little-endian 64-bit ELF
// executable with one PT_LOAD segment, enough to exercise Load without
// needing a real compiled binary on disk.
func buildMiniELF(t *testing.T) []byte {
	t.Helper()
	const ehsize = 64
	const phsize = 56

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	buf.Write(make([]byte, 8)) // padding

	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }

	write16(uint16(elf.ET_EXEC))
	write16(uint16(elf.EM_X86_64))
	write32(1) // version
	write64(0x401000) // entry
	write64(ehsize)   // phoff
	write64(0)        // shoff
	write32(0)        // flags
	write16(ehsize)   // ehsize
	write16(phsize)   // phentsize
	write16(1)        // phnum
	write16(0)        // shentsize
	write16(0)        // shnum
	write16(0)        // shstrndx

	// Program header: PT_LOAD
	write32(uint32(elf.PT_LOAD))
	write32(uint32(elf.PF_R | elf.PF_X))
	write64(uint64(ehsize + phsize)) // offset
	write64(0x401000)                // vaddr
	write64(0x401000)                // paddr
	write64(4)                       // filesz
	write64(4)                       // memsz
	write64(0x1000)                  // align

	buf.Write([]byte{0x90, 0x90, 0x90, 0xc3}) // nop nop nop ret

	return buf.Bytes()
}

func TestLoadParsesEntryAndSegments(t *testing.T) {
	data := buildMiniELF(t)
	img, err := Load(bytes.NewReader(data))
	require.Equal(t, 0, int(err))
	require.Equal(t, uintptr(0x401000), img.Entry)
	require.Len(t, img.Segments, 1)
	seg := img.Segments[0]
	require.Equal(t, uintptr(0x401000), seg.VAddr)
	require.Equal(t, 4, seg.MemSize)
	require.True(t, seg.Executable)
	require.False(t, seg.Writable)
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := Load(bytes.NewReader([]byte("not an elf")))
	require.NotEqual(t, 0, int(err))
}

func TestPagesSplitsSegmentAcrossPageBoundaries(t *testing.T) {
	img := &Image{Segments: []Segment{
		{VAddr: 0x401000, FileOff: 0x1000, FileSize: 6000, MemSize: 6000, Writable: false},
	}}
	pages := img.Pages()
	require.Len(t, pages, 2)
	require.Equal(t, uintptr(0x401000), pages[0].VA)
	require.Equal(t, 4096, pages[0].ReadBytes)
	require.Equal(t, uintptr(0x402000), pages[1].VA)
	require.Equal(t, 6000-4096, pages[1].ReadBytes)
}

func TestPagesZeroFillsBssPastFileSize(t *testing.T) {
	img := &Image{Segments: []Segment{
		{VAddr: 0x403000, FileOff: 0x2000, FileSize: 10, MemSize: 4096 + 10, Writable: true},
	}}
	pages := img.Pages()
	require.Len(t, pages, 2)
	require.Equal(t, 10, pages[0].ReadBytes)
	require.Equal(t, 0, pages[1].ReadBytes)
	require.Equal(t, uintptr(0x404000), pages[1].VA)
}
