package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecordCmd() *cobra.Command {
	var env string
	var noCommit, resetHead, push bool
	var gatesFile, gatesBranch string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "record the environment's current deployable state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if push && !resetHead {
				return fmt.Errorf("--push requires --reset-head")
			}
			if push && gitPrivateKey == "" {
				return fmt.Errorf("--push requires --git-private-key")
			}
			engine, err := setupEngine(env, false, gatesFile, gatesBranch)
			if err != nil {
				return err
			}
			stateID, diffs, err := engine.RecordEnv(env, !noCommit, resetHead, push, gitBranch, gitPrivateKey)
			if err != nil {
				return err
			}
			fmt.Printf("Recorded %s (version %d)\n", stateID.HeadCommit.ShortRef(), stateID.Version)
			for _, d := range diffs {
				fmt.Printf("  %s %s\n", diffSymbol(d), d.Ident.Name())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to record")
	cmd.Flags().BoolVar(&noCommit, "no-commit", false, "don't commit the updated state file")
	cmd.Flags().BoolVar(&resetHead, "reset-head", false, "hard reset the working copy to HEAD after recording")
	cmd.Flags().BoolVar(&push, "push", false, "push the commit (requires --reset-head and git credentials)")
	cmd.Flags().StringVarP(&gatesFile, "gates", "g", "", "gates file")
	cmd.Flags().StringVar(&gatesBranch, "gates-branch", "", "branch to read the gates file from")
	cmd.MarkFlagRequired("env")
	return cmd
}
