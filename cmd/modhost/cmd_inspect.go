package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/modhost/internal/plugin"
)

func newInspectCmd(g *globals) *cobra.Command {
	var (
		property string
		help     bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <archive>",
		Short: "Load one archive and print its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.newApp()
			if err != nil {
				return err
			}
			defer shutdown(a)

			d, err := a.Locator().LoadModule(cmd.Context(), args[0], a.Config().Modules.Type)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case property != "":
				v, ok := d.PropertyPath(property)
				if !ok {
					return fmt.Errorf("property %q not set", property)
				}
				data, err := json.Marshal(v)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
			case help:
				text, err := d.HelpText()
				if err != nil {
					return err
				}
				fmt.Fprint(out, text)
			default:
				printDescriptor(cmd, d)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&property, "property", "p", "", "Print one property by path (e.g. limits.memory)")
	cmd.Flags().BoolVar(&help, "help-text", false, "Print the module's help resource")
	return cmd
}

func printDescriptor(cmd *cobra.Command, d *plugin.Descriptor) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name:        %s\n", d.Name())
	fmt.Fprintf(out, "Type:        %s\n", d.Type())
	fmt.Fprintf(out, "Version:     %s\n", d.Version())
	fmt.Fprintf(out, "Description: %s\n", d.Description())
	fmt.Fprintf(out, "Class:       %s\n", d.ClassName())
	fmt.Fprintf(out, "Archive:     %s\n", d.Path())
	if icon := d.Icon(); icon != nil {
		b := icon.Bounds()
		fmt.Fprintf(out, "Icon:        %s (%dx%d)\n", d.IconRef(), b.Dx(), b.Dy())
	}
	if m := d.Metadata(); m != nil && len(m.Properties) > 0 {
		fmt.Fprintf(out, "Properties:  %s\n", m.PropertiesJSON())
	}
	if b := d.Boundary(); b != nil {
		fmt.Fprintf(out, "Boundary:    %s\n", b.ID())
	}
}
