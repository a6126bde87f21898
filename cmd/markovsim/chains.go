package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"markovsim/internal/chains"
)

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "Inspect and validate chain definitions",
}

var chainsValidateCmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Validate chain files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, path := range args {
			c, err := chains.LoadFile(path)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d states, initial %s)\n", path, c.Len(), c.InitialState())
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d chain files invalid", failed, len(args))
		}
		return nil
	},
}

var chainsDefaultsCmd = &cobra.Command{
	Use:   "defaults [KEY]",
	Short: "List the default chains or print one definition",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			src, err := chains.DefaultSource(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(src)
			return err
		}
		defs, err := chains.Defaults()
		if err != nil {
			return err
		}
		for _, d := range defs {
			fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-28s %d states\n", d.Key, d.Draft.Name, len(d.Draft.States))
		}
		return nil
	},
}

func init() {
	chainsCmd.AddCommand(chainsValidateCmd)
	chainsCmd.AddCommand(chainsDefaultsCmd)
}

