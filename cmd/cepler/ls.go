package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	var env string
	var ignoreQueue bool
	var gatesFile, gatesBranch string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "list the files that make up the environment's assembled state",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := setupEngine(env, ignoreQueue, gatesFile, gatesBranch)
			if err != nil {
				return err
			}
			names, err := engine.Ls(env)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&env, "env", "e", "", "environment to list")
	cmd.Flags().BoolVar(&ignoreQueue, "ignore-queue", false, "bypass propagation-queue matching")
	cmd.Flags().StringVarP(&gatesFile, "gates", "g", "", "gates file")
	cmd.Flags().StringVar(&gatesBranch, "gates-branch", "", "branch to read the gates file from")
	cmd.MarkFlagRequired("env")
	return cmd
}
