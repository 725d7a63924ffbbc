package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/backmassage/vqbench/internal/backend"
	"github.com/backmassage/vqbench/internal/config"
	"github.com/backmassage/vqbench/internal/dispatch"
	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/plan"
	"github.com/backmassage/vqbench/internal/probe"
	"github.com/backmassage/vqbench/internal/validate"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		reference string
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "run <mode> <distorted-file-or-dir>",
		Short: "Plan and execute metric jobs",
		Long: "Plans one job per distorted file, validates stream properties\n" +
			"against the matched reference, and dispatches to the mode's\n" +
			"backend with bounded concurrency. Jobs whose canonical result\n" +
			"file already exists are skipped.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := mode.Lookup(args[0])
			if err != nil {
				return err
			}

			if err := config.ApplyFlags(cmd.Flags(), &a.cfg); err != nil {
				return err
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			if !m.RequiresReference && reference != "" {
				a.log.Warn().Str("mode", m.ID).Msg("mode takes no reference; ignoring --reference")
				reference = ""
			}
			if m.RequiresReference && reference == "" {
				return fmt.Errorf("mode %q requires --reference", m.ID)
			}

			p, err := plan.New(a.log).Build(args[1], reference, m, outputDir)
			if err != nil {
				return err
			}
			a.log.Info().
				Str("mode", m.ID).
				Int("jobs", len(p.Jobs)).
				Int("inputs", p.TotalInputs).
				Msg("plan built")

			var runner backend.Runner
			if m.Backend != mode.BackendCheck {
				runner, err = backend.ForMode(m, backendOptions(a))
				if err != nil {
					return err
				}
			}

			inspector := probe.NewInspector(a.cfg.FFprobePath)
			exec := &dispatch.Executor{
				Workers:   a.cfg.Workers,
				Rebuild:   a.cfg.Rebuild,
				Log:       a.log,
				Validator: validate.New(inspector, a.log),
				Runner:    runner,
			}

			stats, err := exec.Run(cmd.Context(), p)
			if err != nil {
				return err
			}
			if stats.Failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", stats.Failed, stats.Planned)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&reference, "reference", "r", "", "reference file or directory (FR modes)")
	f.StringVarP(&outputDir, "output-dir", "o", "", "directory for result files (default: beside each distorted file)")
	f.IntP("workers", "w", 0, "concurrent jobs")
	f.String("device", "", "device for script backends (cpu, cuda, mps)")
	f.Int("threads", 0, "threads per backend invocation (0 = auto)")
	f.Bool("rebuild", false, "re-provision backend environments before running")
	return cmd
}

func backendOptions(a *app) backend.Options {
	return backend.Options{
		FFmpegPath:  a.cfg.FFmpegPath,
		FFprobePath: a.cfg.FFprobePath,
		VMAFPath:    a.cfg.VMAFPath,
		PythonPath:  a.cfg.PythonPath,
		ScriptRoot:  a.cfg.ScriptRoot,
		Device:      string(a.cfg.Device),
		Threads:     a.cfg.Threads,
	}
}
