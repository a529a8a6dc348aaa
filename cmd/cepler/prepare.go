package main

import (
	"github.com/spf13/cobra"
)

func newPrepareCmd() *cobra.Command {
	var env string
	var forceClean bool
	var gatesFile, gatesBranch string

	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "materialize the workspace for the environment's gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setupEngine(env, false, gatesFile, gatesBranch)
			if err != nil {
				return err
			}
			return engine.Prepare(env, forceClean)
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to prepare")
	cmd.Flags().BoolVar(&forceClean, "force-clean", false, "remove all tracked files not part of this environment")
	cmd.Flags().StringVarP(&gatesFile, "gates", "g", "", "gates file")
	cmd.Flags().StringVar(&gatesBranch, "gates-branch", "", "branch to read the gates file from")
	cmd.MarkFlagRequired("env")
	return cmd
}
