package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSourcesCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the configured log sources and where they are read from",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := g.open()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			descs := svc.Sources()
			if asJSON {
				return printJSON(os.Stdout, descs)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFORMAT\tPATTERN\tROOT\tFOUND")
			for _, d := range descs {
				found := "yes"
				if _, err := os.Stat(d.Root); errors.Is(err, fs.ErrNotExist) {
					found = "no"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Format, d.Pattern, d.Root, found)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
