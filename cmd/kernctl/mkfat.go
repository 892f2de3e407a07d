package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/fat"
	"github.com/antaechan/pintos-go/file"
	"github.com/antaechan/pintos-go/klog"
	"github.com/antaechan/pintos-go/ustr"
)

func newMkfatCmd() *cobra.Command {
	var sectors int
	var skeldir string

	cmd := &cobra.Command{
		Use:   "mkfat <image>",
		Short: "Format a FAT disk image, optionally seeded from a host directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMkfat(args[0], sectors, skeldir)
		},
	}
	cmd.Flags().IntVar(&sectors, "sectors", 4096, "number of sectors in the image")
	cmd.Flags().StringVar(&skeldir, "skel", "", "host directory to copy into the new image's root")
	return cmd
}

func runMkfat(image string, sectors int, skeldir string) error {
	log := klog.For("mkfat")
	disk, err := block.OpenFileDisk(image, sectors)
	if err != nil {
		return err
	}
	defer disk.Close()

	fatfs, ferr := fat.Open(disk)
	if ferr != 0 {
		return ferr
	}
	fs, ferr := file.Mount(fatfs, disk)
	if ferr != 0 {
		return ferr
	}

	if skeldir != "" {
		if err := seedFromDir(fs, skeldir); err != nil {
			return err
		}
	}

	if serr := fs.Sync(); serr != 0 {
		return serr
	}
	if cerr := fatfs.Close(); cerr != 0 {
		return cerr
	}
	log.WithField("image", image).WithField("sectors", sectors).Info("formatted")
	return nil
}

func seedFromDir(fs *file.FS, skeldir string) error {
	return filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		if rel == "" || d.IsDir() {
			if d.IsDir() && rel != "" {
				fmt.Fprintf(os.Stderr, "kernctl: skipping subdirectory %q (flat root only)\n", rel)
			}
			return nil
		}
		name := ustr.Ustr(rel)
		if cerr := fs.Create(name); cerr != 0 {
			return fmt.Errorf("create %s: %w", rel, cerr)
		}
		h, herr := fs.Open(name)
		if herr != 0 {
			return herr
		}
		defer h.Close()

		src, oerr := os.Open(path)
		if oerr != nil {
			return oerr
		}
		defer src.Close()

		buf := make([]byte, defs.SectorSize*8)
		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				if _, werr := h.WriteAt(buf[:n]); werr != 0 {
					return werr
				}
			}
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				return rerr
			}
		}
	})
}
