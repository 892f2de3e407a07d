package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/fat"
	"github.com/antaechan/pintos-go/file"
)

// newFsckCmd checks a FAT image's core invariant: every cluster is either
// free or reachable from exactly one chain (the root directory's own
// chain, or some live file's). It does not check that a chain terminates;
// a chain that loops back on itself is not detected. It reports problems
// rather than repairing them; there is no
// on-disk damage this kernel can cause that a rebuild from a backup
// wouldn't fix more safely than an automatic fsck repair would.
func newFsckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fsck <image>",
		Short: "Check a FAT image for consistency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFsck(args[0])
		},
	}
	return cmd
}

func runFsck(image string) error {
	fi, err := os.Stat(image)
	if err != nil {
		return err
	}
	sectors := int(fi.Size() / defs.SectorSize)
	if sectors == 0 {
		return fmt.Errorf("fsck: %s is too small to be a FAT image", image)
	}

	disk, err := block.OpenFileDisk(image, sectors)
	if err != nil {
		return err
	}
	defer disk.Close()

	fatfs, ferr := fat.Open(disk)
	if ferr != 0 {
		return ferr
	}
	defer fatfs.Close()

	fs, ferr := file.Mount(fatfs, disk)
	if ferr != 0 {
		return ferr
	}

	links := fatfs.ClusterLinks()
	seen := make([]int, len(links)) // 0 = unvisited, else owning head cluster

	heads := append([]uint32{uint32(fatfs.RootDirCluster())}, fs.Heads()...)
	problems := 0
	for _, head := range heads {
		for _, c := range fatfs.Chain(head) {
			if int(c) >= len(seen) {
				fmt.Printf("fsck: chain from %d references out-of-range cluster %d\n", head, c)
				problems++
				continue
			}
			if seen[c] != 0 {
				fmt.Printf("fsck: cluster %d reachable from both chain %d and chain %d\n", c, seen[c], head)
				problems++
				continue
			}
			seen[c] = int(head)
		}
	}

	for c := 1; c < len(links); c++ {
		linked := links[c] != 0
		reached := seen[c] != 0
		if linked && !reached {
			fmt.Printf("fsck: cluster %d is linked in the FAT but unreachable from any file\n", c)
			problems++
		}
		if !linked && reached {
			fmt.Printf("fsck: cluster %d is reachable but marked free in the FAT\n", c)
			problems++
		}
	}

	if problems == 0 {
		fmt.Println("fsck: clean")
		return nil
	}
	return fmt.Errorf("fsck: %d problem(s) found", problems)
}
