package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backmassage/vqbench/internal/mode"
)

func newModesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "modes",
		Short: "List the registered metric modes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-15s %-5s %-10s %s\n", "MODE", "TYPE", "BACKEND", "MULTISCALE")
			for _, m := range mode.All() {
				typ := "NR"
				if m.RequiresReference {
					typ = "FR"
				}
				ms := ""
				if m.Multiscale {
					ms = "yes"
				}
				fmt.Fprintf(out, "%-15s %-5s %-10s %s\n", m.ID, typ, m.Backend, ms)
			}
			return nil
		},
	}
}
