package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReproduceCmd() *cobra.Command {
	var env string
	var forceClean bool

	cmd := &cobra.Command{
		Use:   "reproduce",
		Short: "replay the environment's currently recorded state file-by-file",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setupEngine(env, false, "", "")
			if err != nil {
				return err
			}
			stateID, err := engine.Reproduce(env, forceClean)
			if err != nil {
				return err
			}
			fmt.Printf("Reproduced %s (version %d)\n", stateID.HeadCommit.ShortRef(), stateID.Version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to reproduce")
	cmd.Flags().BoolVar(&forceClean, "force-clean", false, "remove all tracked files before reproducing")
	cmd.MarkFlagRequired("env")
	return cmd
}
