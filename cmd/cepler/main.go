// Command cepler is the CLI front-end (spec §6, "the outer shell" - not
// part of the core). It wires flags onto internal/workspace.Engine the way
// original_source/src/cli.rs dispatches onto Workspace, using cobra in
// place of the teacher's bare flag.FlagSet (git-backup.go) the way
// gdesouza-DevFlow and steveyegge-beads wire their own subcommand trees.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cepler-io/cepler/internal/logging"
)

var (
	verbosity  int
	configPath string

	cloneDir      string
	gitURL        string
	gitPrivateKey string
	gitBranch     string
)

func main() {
	root := &cobra.Command{
		Use:           "cepler",
		Short:         "propagation-controlled deployment state tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase verbosity (repeatable)")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "cepler.yml", "path to the cepler config file")
	root.PersistentFlags().StringVar(&cloneDir, "clone", "", "clone the target repository into dir before running")
	root.PersistentFlags().StringVar(&gitURL, "git-url", "", "repository URL to clone (with --clone)")
	root.PersistentFlags().StringVar(&gitPrivateKey, "git-private-key", "", "SSH private key material to clone/push with")
	root.PersistentFlags().StringVar(&gitBranch, "git-branch", "main", "branch to clone/pull/push")

	root.AddCommand(
		newCheckCmd(),
		newLsCmd(),
		newPrepareCmd(),
		newReproduceCmd(),
		newRecordCmd(),
		newLatestCmd(),
	)

	if err := root.Execute(); err != nil {
		logging.New(verbosity).Error(err)
		fmt.Fprintln(os.Stderr, "E:", err)
		os.Exit(1)
	}
}
