package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/plugin"
)

func newWatchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Load the module directory and reload modules as archives change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.newApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			mods, err := a.Scan(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "watching %s (%d modules)\n", a.Config().Modules.Root, len(mods))

			err = a.Watch(func(c plugin.Change) {
				if c.Err != nil {
					fmt.Fprintf(out, "%s %s: %v\n", c.Kind, c.Path, c.Err)
					return
				}
				fmt.Fprintf(out, "%s %s\n", c.Kind, c.Descriptor)
			})
			if err != nil {
				return err
			}

			<-cmd.Context().Done()
			return nil
		},
	}
}
