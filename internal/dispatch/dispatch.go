// Package dispatch executes a plan: one availability check per backend,
// then the jobs through a bounded worker pool, with validation applied
// in front of every full-reference dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/backmassage/vqbench/internal/backend"
	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/plan"
	"github.com/backmassage/vqbench/internal/probe"
	"github.com/backmassage/vqbench/internal/result"
	"github.com/backmassage/vqbench/internal/validate"
)

// perfectPSNR is the VMAF tool's stand-in for infinite PSNR: it clamps
// bit-identical comparisons to 60 dB instead of reporting +inf.
const perfectPSNR = 60.0

// Stats aggregates per-run counters for the end-of-run summary.
type Stats struct {
	Planned         int
	Executed        int
	Failed          int
	SkippedMismatch int
	SkippedExisting int
	NoReference     int
	PropertyMatched int
	PerfectMatch    int
}

// Comparer validates one reference/distorted pair. It is the subset of
// validate.Validator the executor needs, so tests can script outcomes
// without shelling out to ffprobe.
type Comparer interface {
	CompareFiles(ctx context.Context, refPath, distPath string, m mode.Mode) (validate.Outcome, *probe.VideoProperties, *probe.VideoProperties)
}

// Executor runs the jobs of one plan. All jobs of a plan share one mode
// and therefore one backend runner; the runner is nil only for the
// check-only mode, which never dispatches.
type Executor struct {
	Workers   int
	Rebuild   bool
	Log       zerolog.Logger
	Validator Comparer
	Runner    backend.Runner
}

// Run checks backend availability once, then executes every job with
// bounded concurrency. Per-job failures (validation mismatch, backend
// error) are counted and never abort the batch; an availability failure
// or a persistence failure is fatal and returned.
func (e *Executor) Run(ctx context.Context, p *plan.Plan) (Stats, error) {
	var mu sync.Mutex
	stats := Stats{
		Planned:         len(p.Jobs),
		SkippedExisting: len(p.AlreadyDone),
		NoReference:     len(p.NoReference),
	}

	// The availability check may mutate a shared on-disk environment
	// (cloning, weight downloads), so it runs alone, before any job.
	if e.Runner != nil {
		if err := e.Runner.CheckAvailable(ctx, e.Rebuild); err != nil {
			return stats, err
		}
	}

	workers := e.Workers
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, job := range p.Jobs {
		job := job
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			outcome, corr := e.validateJob(ctx, job)

			if outcome != nil && outcome.Passed {
				mu.Lock()
				stats.PropertyMatched++
				mu.Unlock()
			}

			if job.Mode.Backend == mode.BackendCheck {
				return nil
			}

			if outcome != nil && !outcome.Passed && corr == nil {
				e.Log.Error().
					Str("distorted", result.BaseName(job.Distorted)).
					Msg("skipping due to property mismatch")
				mu.Lock()
				stats.SkippedMismatch++
				mu.Unlock()
				return nil
			}

			res, err := backend.Dispatch(ctx, e.Runner, job, corr, e.Log)
			switch {
			case errors.Is(err, result.ErrPersist):
				return err
			case err != nil:
				mu.Lock()
				stats.Failed++
				mu.Unlock()
				return nil
			case res == nil:
				mu.Lock()
				stats.SkippedExisting++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			stats.Executed++
			if isPerfectMatch(job.Mode.ID, res.Values) {
				stats.PerfectMatch++
			}
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	e.logSummary(&stats, p)
	return stats, err
}

// validateJob compares properties for reference-based jobs. NR jobs
// skip validation entirely (nil outcome). Messages are logged at their
// severity as they are found.
func (e *Executor) validateJob(ctx context.Context, job plan.Job) (*validate.Outcome, *validate.Correction) {
	if !job.Mode.RequiresReference || job.Reference == "" {
		return nil, nil
	}

	outcome, _, _ := e.Validator.CompareFiles(ctx, job.Reference, job.Distorted, job.Mode)
	for _, m := range outcome.Messages {
		ev := e.Log.Warn()
		if m.Severity == validate.SeverityError {
			ev = e.Log.Error()
		}
		ev.Str("distorted", result.BaseName(job.Distorted)).Msg(m.Text)
	}

	if outcome.Correction != nil {
		corr := outcome.Correction
		ev := e.Log.Warn().Str("distorted", result.BaseName(job.Distorted))
		if corr.ScaleWidth > 0 {
			ev = ev.Str("scale", fmt.Sprintf("%dx%d", corr.ScaleWidth, corr.ScaleHeight))
		}
		if corr.ForceFrameRate > 0 {
			ev = ev.Float64("force_fps", corr.ForceFrameRate)
		}
		ev.Msg("proceeding with corrective pre-processing")
	}

	return &outcome, outcome.Correction
}

// isPerfectMatch detects a bit-identical pair from the result values:
// infinite PSNR for the psnr family, or PSNR at the VMAF tool's clamp
// for the vmaf family. Other families never report a perfect match.
func isPerfectMatch(modeID string, values map[string]any) bool {
	switch {
	case strings.Contains(modeID, "psnr"):
		s, ok := values["psnr_avg"].(string)
		return ok && s == "inf"
	case strings.HasPrefix(modeID, "vmaf"):
		v, ok := values["psnr"].(float64)
		return ok && v >= perfectPSNR
	}
	return false
}

func (e *Executor) logSummary(stats *Stats, p *plan.Plan) {
	e.Log.Info().Msg("==== SUMMARY ====")
	e.Log.Info().
		Int("inputs", p.TotalInputs).
		Int("planned", stats.Planned).
		Int("executed", stats.Executed).
		Int("failed", stats.Failed).
		Msg("jobs")
	e.Log.Info().
		Int("mismatch", stats.SkippedMismatch).
		Int("existing", stats.SkippedExisting).
		Int("no_reference", stats.NoReference).
		Msg("skipped")
	e.Log.Info().
		Int("matching_properties", stats.PropertyMatched).
		Int("perfect_match", stats.PerfectMatch).
		Msg("validation")
}
