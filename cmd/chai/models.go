package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/chai-tokenizer/catalog"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List selectable models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "VALUE\tLABEL\tTOKENIZER")
			for _, m := range catalog.Models() {
				kind := "whitespace (approximate)"
				if catalog.Family(m.Value) != "" {
					kind = "bpe"
				}
				marker := ""
				if m.Value == catalog.Default {
					marker = " (default)"
				}
				_, _ = fmt.Fprintf(w, "%s%s\t%s\t%s\n", m.Value, marker, m.Label, kind)
			}
			return w.Flush()
		},
	}
}
