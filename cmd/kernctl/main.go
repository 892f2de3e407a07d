// Command kernctl is the kernel's operator CLI: format FAT images, run a
// scripted sequence of process-lifecycle operations against one, and
// sanity-check an image's on-disk invariants. Grounded on dh-cli/gcsfuse's
// spf13/cobra command-tree style, one file per subcommand under a shared
// root command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/sirupsen/logrus"

	"github.com/antaechan/pintos-go/klog"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "kernctl",
		Short: "Operate on pintos-go FAT disk images",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				klog.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newMkfatCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newFsckCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
