package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antaechan/pintos-go/block"
	"github.com/antaechan/pintos-go/config"
	"github.com/antaechan/pintos-go/defs"
	"github.com/antaechan/pintos-go/fat"
	"github.com/antaechan/pintos-go/fd"
	"github.com/antaechan/pintos-go/file"
	"github.com/antaechan/pintos-go/frame"
	"github.com/antaechan/pintos-go/klog"
	"github.com/antaechan/pintos-go/proc"
	"github.com/antaechan/pintos-go/util"
)

// errHalt is returned by the "halt" command to stop a script cleanly,
// matching spec §6's halt syscall (never returns to its caller).
var errHalt = errors.New("halt")

// newRunCmd drives a process table and the syscall surface of spec §6
// against a mounted FAT image from a line-oriented script. One command
// per line, fields space-separated:
//
//	init <alias>                       create the first process
//	fork <alias> <childAlias>          fork alias into childAlias
//	exec <alias> <path>                exec path into alias's image
//	wait <alias> <childAlias>          block for childAlias's exit status
//	exit <alias> <status>              exit alias with status
//	create <name>                      create an empty file
//	remove <name>                      unlink name
//	open <alias> <name>                open name, print its new fd number
//	read <alias> <fd> <n>              read n bytes from fd, print them
//	write <alias> <fd> <text>          write text to fd
//	seek <alias> <fd> <pos>            reposition fd
//	close <alias> <fd>                 close fd
//	dup2 <alias> <srcfd> <dstfd>       duplicate srcfd onto dstfd
//	mmap <alias> <fd> <addr> <length> <writable> <offset>
//	                                   map fd at addr (hex or decimal addr/offset)
//	munmap <alias> <addr>              unmap the mapping starting at addr
//	rusage <alias>                     print accumulated user/sys time
//	halt                               stop the script immediately
//
// Blank lines and lines starting with # are ignored. This is a debugging
// and demonstration harness, not a shell: aliases are script-local names,
// not pids, so a script reads the same regardless of allocation order.
func newRunCmd() *cobra.Command {
	var image string
	var sectors int
	var frameCount int
	var configPath string

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a scripted sequence of syscalls against a FAT image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cerr := config.Load(configPath)
			if cerr != nil {
				return cerr
			}
			cfg.ApplyLimits()

			// Explicit flags win over the config file's defaults, matching
			// cobra's usual "flag overrides file" precedence; with no
			// config file and no flags, config.Default()'s file-backed
			// fat.img/swap.img and frame count apply.
			if !cmd.Flags().Changed("image") {
				image = cfg.Disk.Path
			}
			if !cmd.Flags().Changed("sectors") {
				sectors = cfg.Disk.Sectors
			}
			if !cmd.Flags().Changed("frames") {
				frameCount = cfg.Frame.Count
			}
			return runScript(args[0], image, sectors, frameCount, cfg)
		},
	}
	cmd.Flags().StringVar(&image, "image", "fat.img", "FAT image to mount")
	cmd.Flags().IntVar(&sectors, "sectors", 4096, "sectors to create image with if it does not exist")
	cmd.Flags().IntVar(&frameCount, "frames", 2048, "simulated physical frame count")
	cmd.Flags().StringVar(&configPath, "config", "", "TOML file overriding image/swap/frame/limits defaults")
	return cmd
}

func runScript(scriptPath, image string, sectors, frameCount int, cfg *config.Config) error {
	log := klog.For("run")

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
	defer fs.Sync()

	swapDisk, serr := block.OpenFileDisk(cfg.Swap.Path, cfg.Swap.Sectors)
	if serr != nil {
		return serr
	}
	defer swapDisk.Close()
	frames := frame.NewTable(frameCount)
	swap := frame.NewSwap(swapDisk)
	table := proc.NewTable(frames, swap)

	f, err := os.Open(scriptPath)
	if err != nil {
		return err
	}
	defer f.Close()

	procs := make(map[string]*proc.Process)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if err := execLine(table, fs, procs, fields); err != nil {
			if err == errHalt {
				log.Info("halt")
				return nil
			}
			return fmt.Errorf("line %d: %q: %w", lineNo, line, err)
		}
		log.WithField("line", lineNo).Debug(line)
	}
	return scanner.Err()
}

func resolveProc(procs map[string]*proc.Process, alias string) (*proc.Process, error) {
	p, ok := procs[alias]
	if !ok {
		return nil, fmt.Errorf("unknown alias %q", alias)
	}
	return p, nil
}

func execLine(table *proc.Table, fs *file.FS, procs map[string]*proc.Process, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "halt":
		return errHalt

	case "init":
		if len(fields) != 2 {
			return fmt.Errorf("usage: init <alias>")
		}
		p, err := table.CreateInitial(fs)
		if err != 0 {
			return err
		}
		procs[fields[1]] = p
		fmt.Printf("init %s -> pid %d\n", fields[1], p.Pid)
		return nil

	case "fork":
		if len(fields) != 3 {
			return fmt.Errorf("usage: fork <alias> <childAlias>")
		}
		parent, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		child, ferr := table.Fork(parent)
		if ferr != 0 {
			return ferr
		}
		procs[fields[2]] = child
		fmt.Printf("fork %s -> %s (pid %d)\n", fields[1], fields[2], child.Pid)
		return nil

	case "exec":
		if len(fields) != 3 {
			return fmt.Errorf("usage: exec <alias> <path>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		h, herr := fs.Open(ustrFromPath(fields[2]))
		if herr != 0 {
			return herr
		}
		if eerr := p.Exec(fields[2], diskReaderAt{h}, h); eerr != 0 {
			return eerr
		}
		fmt.Printf("exec %s <- %s\n", fields[1], fields[2])
		return nil

	case "wait":
		if len(fields) != 3 {
			return fmt.Errorf("usage: wait <alias> <childAlias>")
		}
		parent, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		child, err := resolveProc(procs, fields[2])
		if err != nil {
			return err
		}
		status, werr := parent.Wait(child.Pid)
		if werr != 0 {
			return werr
		}
		fmt.Printf("wait %s on %s -> status %d\n", fields[1], fields[2], status)
		return nil

	case "exit":
		if len(fields) != 3 {
			return fmt.Errorf("usage: exit <alias> <status>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		status, serr := strconv.Atoi(fields[2])
		if serr != nil {
			return serr
		}
		if eerr := p.Exit(status); eerr != nil {
			return eerr
		}
		fmt.Printf("exit %s -> %d\n", fields[1], status)
		return nil

	case "create":
		if len(fields) != 2 {
			return fmt.Errorf("usage: create <name>")
		}
		if cerr := fs.Create(ustrFromPath(fields[1])); cerr != 0 {
			return cerr
		}
		fmt.Printf("create %s\n", fields[1])
		return nil

	case "remove":
		if len(fields) != 2 {
			return fmt.Errorf("usage: remove <name>")
		}
		if rerr := fs.Remove(ustrFromPath(fields[1])); rerr != 0 {
			return rerr
		}
		fmt.Printf("remove %s\n", fields[1])
		return nil

	case "open":
		if len(fields) != 3 {
			return fmt.Errorf("usage: open <alias> <name>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		h, oerr := fs.Open(ustrFromPath(fields[2]))
		if oerr != 0 {
			return oerr
		}
		n, ierr := p.Fds.Install(&fd.Fd_t{Handle: h, Perms: fd.FD_READ | fd.FD_WRITE})
		if ierr != 0 {
			h.Close()
			return ierr
		}
		fmt.Printf("open %s %s -> fd %d\n", fields[1], fields[2], n)
		return nil

	case "read":
		if len(fields) != 4 {
			return fmt.Errorf("usage: read <alias> <fd> <n>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		fdnum, n, perr := parseFdAndCount(fields[2], fields[3])
		if perr != nil {
			return perr
		}
		handle, herr := p.Fds.Get(fdnum)
		if herr != 0 {
			return herr
		}
		buf := make([]byte, n)
		read, rerr := handle.Handle.ReadAt(buf)
		if rerr != 0 {
			return rerr
		}
		fmt.Printf("read %s %d -> %q\n", fields[1], fdnum, string(buf[:read]))
		return nil

	case "write":
		if len(fields) < 4 {
			return fmt.Errorf("usage: write <alias> <fd> <text...>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		fdnum, perr := strconv.Atoi(fields[2])
		if perr != nil {
			return perr
		}
		handle, herr := p.Fds.Get(fdnum)
		if herr != 0 {
			return herr
		}
		text := strings.Join(fields[3:], " ")
		n, werr := handle.Handle.WriteAt([]byte(text))
		if werr != 0 {
			return werr
		}
		fmt.Printf("write %s %d -> %d bytes\n", fields[1], fdnum, n)
		return nil

	case "seek":
		if len(fields) != 4 {
			return fmt.Errorf("usage: seek <alias> <fd> <pos>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		fdnum, pos, perr := parseFdAndCount(fields[2], fields[3])
		if perr != nil {
			return perr
		}
		handle, herr := p.Fds.Get(fdnum)
		if herr != 0 {
			return herr
		}
		if serr := handle.Handle.Seek(pos); serr != 0 {
			return serr
		}
		fmt.Printf("seek %s %d -> %d\n", fields[1], fdnum, pos)
		return nil

	case "close":
		if len(fields) != 3 {
			return fmt.Errorf("usage: close <alias> <fd>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		fdnum, perr := strconv.Atoi(fields[2])
		if perr != nil {
			return perr
		}
		handle := p.Fds.Remove(fdnum)
		if handle == nil {
			return defs.EBADF
		}
		if cerr := handle.Handle.Close(); cerr != 0 {
			return cerr
		}
		fmt.Printf("close %s %d\n", fields[1], fdnum)
		return nil

	case "dup2":
		if len(fields) != 4 {
			return fmt.Errorf("usage: dup2 <alias> <srcfd> <dstfd>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		src, dst, perr := parseFdAndCount(fields[2], fields[3])
		if perr != nil {
			return perr
		}
		n, derr := p.Fds.Dup2(src, dst)
		if derr != 0 {
			return derr
		}
		fmt.Printf("dup2 %s %d -> %d\n", fields[1], src, n)
		return nil

	case "mmap":
		if len(fields) != 7 {
			return fmt.Errorf("usage: mmap <alias> <fd> <addr> <length> <writable> <offset>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		fdnum, perr := strconv.Atoi(fields[2])
		if perr != nil {
			return perr
		}
		addr, aerr := strconv.ParseUint(fields[3], 0, 64)
		if aerr != nil {
			return aerr
		}
		length, lerr := strconv.Atoi(fields[4])
		if lerr != nil {
			return lerr
		}
		writable, werr := strconv.ParseBool(fields[5])
		if werr != nil {
			return werr
		}
		offset, oerr := strconv.ParseUint(fields[6], 0, 64)
		if oerr != nil {
			return oerr
		}
		handle, herr := p.Fds.Get(fdnum)
		if herr != 0 {
			return herr
		}
		mapped, merr := p.As.Mmap(uintptr(addr), length, writable, handle.Handle, int(offset))
		if merr != 0 {
			return merr
		}
		fmt.Printf("mmap %s %d -> 0x%x\n", fields[1], fdnum, mapped)
		return nil

	case "munmap":
		if len(fields) != 3 {
			return fmt.Errorf("usage: munmap <alias> <addr>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		addr, aerr := strconv.ParseUint(fields[2], 0, 64)
		if aerr != nil {
			return aerr
		}
		if uerr := p.As.Munmap(uintptr(addr)); uerr != 0 {
			return uerr
		}
		fmt.Printf("munmap %s 0x%x\n", fields[1], addr)
		return nil

	case "rusage":
		if len(fields) != 2 {
			return fmt.Errorf("usage: rusage <alias>")
		}
		p, err := resolveProc(procs, fields[1])
		if err != nil {
			return err
		}
		ru := p.Acc.Fetch()
		utimeSec := util.Readn(ru, 8, 0)
		utimeUsec := util.Readn(ru, 8, 8)
		stimeSec := util.Readn(ru, 8, 16)
		stimeUsec := util.Readn(ru, 8, 24)
		fmt.Printf("rusage %s -> utime %d.%06ds stime %d.%06ds\n", fields[1], utimeSec, utimeUsec, stimeSec, stimeUsec)
		return nil

	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}

func parseFdAndCount(a, b string) (int, int, error) {
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
