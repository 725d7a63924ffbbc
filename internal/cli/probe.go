package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backmassage/vqbench/internal/display"
	"github.com/backmassage/vqbench/internal/plan"
	"github.com/backmassage/vqbench/internal/probe"
	"github.com/backmassage/vqbench/internal/result"
)

func newProbeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <file-or-dir>...",
		Short: "Print stream properties of video files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inspector := probe.NewInspector(a.cfg.FFprobePath)

			failed := 0
			for _, arg := range args {
				files, err := plan.ResolveInputs(arg)
				if err != nil {
					return err
				}
				for _, f := range files {
					props, err := inspector.Inspect(cmd.Context(), f)
					if err != nil {
						a.log.Error().Str("file", result.BaseName(f)).Err(err).Msg("inspection failed")
						failed++
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n%s", f, display.PropertyList(props))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d files could not be inspected", failed)
			}
			return nil
		},
	}
	return cmd
}
