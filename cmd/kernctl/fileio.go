package main

import (
	"github.com/antaechan/pintos-go/file"
	"github.com/antaechan/pintos-go/ustr"
)

// ustrFromPath strips any leading slash the same way file.FS.Create does,
// so "program.elf" and "/program.elf" name the same flat-root file.
func ustrFromPath(path string) ustr.Ustr {
	return ustr.Ustr(path).Stripped()
}

// diskReaderAt adapts a file.Handle (position-based) to io.ReaderAt
// (offset-based) for elfload.Load. kernctl's run command only uses this
// single-threaded, so seek-then-read needs no locking of its own.
type diskReaderAt struct {
	h *file.Handle
}

func (d diskReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if err := d.h.Seek(int(off)); err != 0 {
		return 0, err
	}
	n, err := d.h.ReadAt(p)
	if err != 0 {
		return n, err
	}
	return n, nil
}
