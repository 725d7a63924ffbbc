package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backmassage/vqbench/internal/backend"
	"github.com/backmassage/vqbench/internal/display"
	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/probe"
	"github.com/backmassage/vqbench/internal/validate"
)

func newCheckCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [reference distorted]",
		Short: "Check backend availability or compare a video pair",
		Long: "Without arguments, runs the availability check of every backend\n" +
			"group and reports which metric modes are usable. With a reference\n" +
			"and a distorted file, compares their stream properties the way the\n" +
			"validator would before a full-reference job.",
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				return a.checkSystem(cmd)
			case 2:
				return a.checkPair(cmd, args[0], args[1])
			default:
				return fmt.Errorf("give either no arguments or a reference and a distorted file")
			}
		},
	}
	return cmd
}

// checkSystem probes every backend group once and reports its verdict.
// A failing group is reported, not fatal; the command fails only when
// no group at all is usable.
func (a *app) checkSystem(cmd *cobra.Command) error {
	groups := []mode.BackendGroup{mode.BackendFFmpeg, mode.BackendVMAF, mode.BackendScript}

	available := 0
	for _, g := range groups {
		runner, err := runnerForGroup(g, backendOptions(a))
		if err != nil {
			return err
		}
		if err := runner.CheckAvailable(cmd.Context(), false); err != nil {
			a.log.Warn().Str("backend", g.String()).Err(err).Msg("unavailable")
			continue
		}
		available++
		a.log.Info().
			Str("backend", g.String()).
			Strs("modes", modesOfGroup(g)).
			Msg("available")
	}

	if available == 0 {
		return fmt.Errorf("no backend is available")
	}
	return nil
}

// checkPair runs the property comparison for one pair and prints the
// attribute table. Uses the check mode, so no correction is offered.
func (a *app) checkPair(cmd *cobra.Command, refPath, distPath string) error {
	m, err := mode.Lookup("check")
	if err != nil {
		return err
	}

	v := validate.New(probe.NewInspector(a.cfg.FFprobePath), a.log)
	outcome, ref, dist := v.CompareFiles(cmd.Context(), refPath, distPath, m)

	if ref != nil && dist != nil {
		fmt.Fprint(cmd.OutOrStdout(), "\n"+display.PropertyTable(ref, dist))
	}
	for _, msg := range outcome.Messages {
		ev := a.log.Warn()
		if msg.Severity == validate.SeverityError {
			ev = a.log.Error()
		}
		ev.Msg(msg.Text)
	}

	if !outcome.Passed {
		return fmt.Errorf("property check failed")
	}
	a.log.Info().Msg("all video properties match")
	return nil
}

func runnerForGroup(g mode.BackendGroup, opts backend.Options) (backend.Runner, error) {
	for _, m := range mode.All() {
		if m.Backend == g {
			return backend.ForMode(m, opts)
		}
	}
	return nil, fmt.Errorf("no mode registered for backend %q", g)
}

func modesOfGroup(g mode.BackendGroup) []string {
	var ids []string
	for _, m := range mode.All() {
		if m.Backend == g {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
