package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/dshills/modhost/internal/plugin"
)

func newScanCmd(g *globals) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Load every module under the module directory and report the result",
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
			if asJSON {
				report, err := scanReport(mods, a.Failures())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, report)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVERSION\tCLASS\tARCHIVE")
			for _, d := range mods {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name(), d.Version(), d.ClassName(), d.Path())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, f := range a.Failures() {
				fmt.Fprintf(out, "skipped %s: %v\n", f.Path, f.Err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

// scanReport renders loaded modules and failures as a JSON document.
func scanReport(mods []*plugin.Descriptor, failures []plugin.Failure) (string, error) {
	doc := `{"modules":[],"failures":[]}`
	var err error
	for i, d := range mods {
		prefix := fmt.Sprintf("modules.%d.", i)
		fields := []struct {
			key string
			val any
		}{
			{"name", d.Name()},
			{"type", d.Type()},
			{"version", d.Version()},
			{"description", d.Description()},
			{"class", d.ClassName()},
			{"archive", d.Path()},
			{"fingerprint", fmt.Sprintf("%016x", d.Fingerprint())},
		}
		for _, f := range fields {
			if doc, err = sjson.Set(doc, prefix+f.key, f.val); err != nil {
				return "", err
			}
		}
		if m := d.Metadata(); m != nil {
			if doc, err = sjson.SetRaw(doc, prefix+"properties", m.PropertiesJSON()); err != nil {
				return "", err
			}
		}
	}
	for i, f := range failures {
		prefix := fmt.Sprintf("failures.%d.", i)
		kind := "unknown"
		if k, ok := plugin.KindOf(f.Err); ok {
			kind = k.String()
		}
		if doc, err = sjson.Set(doc, prefix+"archive", f.Path); err != nil {
			return "", err
		}
		if doc, err = sjson.Set(doc, prefix+"kind", kind); err != nil {
			return "", err
		}
		if doc, err = sjson.Set(doc, prefix+"error", f.Err.Error()); err != nil {
			return "", err
		}
	}
	return doc, nil
}
