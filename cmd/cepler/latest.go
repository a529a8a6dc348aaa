package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newLatestCmd() *cobra.Command {
	var env string

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "print the full head commit hash of the environment's current state",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setupEngine(env, false, "", "")
			if err != nil {
				return err
			}
			state := engine.DB.GetCurrentState(env)
			if state == nil {
				os.Exit(1)
			}
			fmt.Println(state.HeadCommit.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to query")
	cmd.MarkFlagRequired("env")
	return cmd
}
