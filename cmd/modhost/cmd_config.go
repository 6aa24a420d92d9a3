package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/config"
)

func newConfigCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			if g.root != "" {
				cfg.Modules.Root = g.root
			}
			if g.modType != "" {
				cfg.Modules.Type = g.modType
			}
			if g.logLevel != "" {
				cfg.Log.Level = g.logLevel
			}
			data, err := cfg.Encode()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
