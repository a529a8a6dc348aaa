package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	var env string
	var ignoreQueue bool
	var gatesFile, gatesBranch string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "check whether the environment has a new deployable state",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setupEngine(env, ignoreQueue, gatesFile, gatesBranch)
			if err != nil {
				return err
			}
			stateID, diffs, err := engine.Check(env)
			if err != nil {
				return err
			}
			if stateID == nil {
				os.Exit(2)
			}
			fmt.Printf("New state: %s (version %d)\n", stateID.HeadCommit.ShortRef(), stateID.Version)
			for _, d := range diffs {
				fmt.Printf("  %s %s\n", diffSymbol(d), d.Ident.Name())
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to check")
	cmd.Flags().BoolVar(&ignoreQueue, "ignore-queue", false, "bypass propagation-queue matching")
	cmd.Flags().StringVarP(&gatesFile, "gates", "g", "", "gates file")
	cmd.Flags().StringVar(&gatesBranch, "gates-branch", "", "branch to read the gates file from")
	cmd.MarkFlagRequired("env")
	return cmd
}
