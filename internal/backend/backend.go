// Package backend defines the dispatch contract every metric backend
// satisfies and the generic invocation wrapper around it. Backends are
// external processes; their text-output parsing lives here at the
// boundary, so the core never branches on backend-specific formats.
package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/plan"
	"github.com/backmassage/vqbench/internal/result"
	"github.com/backmassage/vqbench/internal/validate"
)

// ErrUnavailable marks a failed provisioning or health check. It is
// fatal to the entire run for the affected mode: no job in that mode
// can possibly succeed.
var ErrUnavailable = errors.New("backend unavailable")

// Runner is implemented once per backend group.
//
// CheckAvailable is an idempotent provisioning/health check. It is not
// safe to run concurrently for the same backend (it may mutate a shared
// on-disk environment) and is called exactly once, before any job of
// the group is dispatched. Run executes one job; the returned result is
// nil only alongside a non-nil error.
type Runner interface {
	Group() mode.BackendGroup
	CheckAvailable(ctx context.Context, rebuild bool) error
	Run(ctx context.Context, job plan.Job, corr *validate.Correction) (*result.MetricResult, error)
}

// Options carries the external-tool configuration shared by runners.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	VMAFPath    string
	PythonPath  string
	ScriptRoot  string // parent directory of per-metric tool checkouts
	Device      string // device selector forwarded to script backends
	Threads     int
}

// ForMode returns the runner handling m's backend group.
func ForMode(m mode.Mode, opts Options) (Runner, error) {
	switch m.Backend {
	case mode.BackendFFmpeg:
		return NewFFmpegRunner(opts), nil
	case mode.BackendVMAF:
		return NewVMAFRunner(opts), nil
	case mode.BackendScript:
		return NewScriptRunner(opts), nil
	default:
		return nil, fmt.Errorf("mode %q has no dispatchable backend", m.ID)
	}
}

// Dispatch is the generic invocation wrapper. It short-circuits when
// the canonical output already exists (defense-in-depth against races
// with the planner), invokes the runner, and persists the result
// atomically when an output directory is set.
//
// A backend failure is logged here at the job boundary and returned so
// the caller can count it; only persistence errors (wrapping
// [result.ErrPersist]) are fatal to the batch. A nil result with a nil
// error means the job was skipped because its output already existed.
func Dispatch(ctx context.Context, r Runner, job plan.Job, corr *validate.Correction, log zerolog.Logger) (*result.MetricResult, error) {
	outPath := result.OutputPath(job.Distorted, job.Mode.ID, job.OutputDir)
	if job.OutputDir != "" {
		if _, err := os.Stat(outPath); err == nil {
			log.Warn().Str("output", outPath).Msg("skip (result exists)")
			return nil, nil
		}
	}

	start := time.Now()
	res, err := r.Run(ctx, job, corr)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Str("mode", job.Mode.ID).
			Str("distorted", result.BaseName(job.Distorted)).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("backend failed")
		return nil, err
	}

	log.Info().
		Str("mode", job.Mode.ID).
		Str("distorted", result.BaseName(job.Distorted)).
		Dur("elapsed", elapsed).
		Msg("backend finished")

	if job.OutputDir != "" {
		if err := result.WriteAtomic(outPath, res); err != nil {
			return nil, err
		}
		log.Info().Str("output", outPath).Msg("result saved")
	}
	return res, nil
}
