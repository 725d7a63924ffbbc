package cli

import (
	"github.com/spf13/cobra"

	"github.com/backmassage/vqbench/internal/aggregate"
)

func newAggregateCmd(a *app) *cobra.Command {
	var (
		metricsDir string
		outputFile string
		existing   string
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Consolidate metric result files into one dataset",
		Long: "Walks the metrics directory recursively, extracts every known\n" +
			"score from <name>.<metric>.json files and writes one consolidated\n" +
			"JSON dataset. An existing dataset can be given as a seed; its\n" +
			"values are kept and only missing scores are filled in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := &aggregate.Engine{Log: a.log}

			ds, rep, err := engine.Aggregate(metricsDir, existing)
			if err != nil {
				return err
			}
			engine.LogReport(rep)

			if err := ds.Write(outputFile); err != nil {
				return err
			}
			a.log.Info().
				Int("entries", ds.Len()).
				Str("output", outputFile).
				Msg("dataset written")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&metricsDir, "metrics-dir", "m", "", "directory containing metric result files")
	f.StringVarP(&outputFile, "output-file", "o", "", "path of the consolidated dataset")
	f.StringVarP(&existing, "existing", "e", "", "existing dataset to update (optional)")
	cobra.CheckErr(cmd.MarkFlagRequired("metrics-dir"))
	cobra.CheckErr(cmd.MarkFlagRequired("output-file"))
	return cmd
}
