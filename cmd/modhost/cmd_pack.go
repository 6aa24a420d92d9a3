package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/plugin"
	"github.com/dshills/modhost/internal/plugin/archive"
)

func newPackCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "pack <dir> <archive>",
		Short: "Build a module archive from a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := archive.Pack(args[0], args[1]); err != nil {
				return err
			}
			if check {
				rec, err := plugin.ReadMetadata(args[1])
				if err != nil {
					return err
				}
				meta, err := plugin.ParseMetadata(rec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "packed %s (%s, entry %s)\n", args[1], meta.Name, meta.EntryClass)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %s\n", args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", true, "Verify the packed metadata names an entry point")
	return cmd
}
