// Package cli wires the vqbench subcommands: run, check, aggregate,
// probe, and modes. Configuration precedence is CLI flags > TOML config
// file > built-in defaults.
package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/backmassage/vqbench/internal/config"
	"github.com/backmassage/vqbench/internal/logging"
)

// app carries the state shared by all subcommands, populated by the
// root command's persistent pre-run.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	logOut io.Closer
}

// NewRootCmd builds the command tree. Version and commit are injected
// from the build.
func NewRootCmd(version, commit string) *cobra.Command {
	a := &app{}

	var (
		configPath string
		verbose    bool
		logFile    string
	)

	root := &cobra.Command{
		Use:           "vqbench",
		Short:         "Video quality benchmark orchestrator",
		Long:          "vqbench plans, validates and dispatches video quality metric jobs\nand consolidates their results into a single dataset.",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.cfg = config.DefaultConfig()

			path, explicit := configPath, true
			if path == "" {
				path, explicit = config.DefaultPath(), false
			}
			if err := config.Load(path, explicit, &a.cfg); err != nil {
				return err
			}

			// Flags given on the command line beat the config file.
			if cmd.Flags().Changed("verbose") {
				a.cfg.Verbose = verbose
			}
			if cmd.Flags().Changed("log-file") {
				a.cfg.LogFile = logFile
			}

			log, closer, err := logging.New(a.cfg.Verbose, a.cfg.LogFile)
			if err != nil {
				return err
			}
			a.log = log
			a.logOut = closer
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logOut != nil {
				a.logOut.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pf.StringVar(&logFile, "log-file", "", "also write structured logs to this file")

	root.AddCommand(
		newRunCmd(a),
		newCheckCmd(a),
		newAggregateCmd(a),
		newProbeCmd(a),
		newModesCmd(a),
	)
	return root
}
