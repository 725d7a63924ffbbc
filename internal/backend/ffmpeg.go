package backend

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/plan"
	"github.com/backmassage/vqbench/internal/result"
	"github.com/backmassage/vqbench/internal/validate"
)

// FFmpegRunner computes pixel-domain metrics through an ffmpeg lavfi
// filter graph. The distorted input is fed as stream 0 and the
// reference as stream 1, matching the legacy invocation.
type FFmpegRunner struct {
	opts Options
}

// NewFFmpegRunner returns the runner for the ffmpeg backend group.
func NewFFmpegRunner(opts Options) *FFmpegRunner {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &FFmpegRunner{opts: opts}
}

func (r *FFmpegRunner) Group() mode.BackendGroup { return mode.BackendFFmpeg }

// CheckAvailable verifies ffmpeg exists and responds to -version. The
// rebuild flag is a no-op here: ffmpeg is system-provisioned.
func (r *FFmpegRunner) CheckAvailable(ctx context.Context, rebuild bool) error {
	if _, err := exec.LookPath(r.opts.FFmpegPath); err != nil {
		return fmt.Errorf("%w: ffmpeg not found on PATH", ErrUnavailable)
	}
	cmd := exec.CommandContext(ctx, r.opts.FFmpegPath, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: ffmpeg -version failed: %v", ErrUnavailable, err)
	}
	return nil
}

// Run executes the psnr filter and pools the per-frame stats file into
// a flat result. The stats file is written to a private temp directory
// cleaned up after the call.
func (r *FFmpegRunner) Run(ctx context.Context, job plan.Job, corr *validate.Correction) (*result.MetricResult, error) {
	tempDir := filepath.Join(os.TempDir(), "vqbench-"+uuid.NewString())
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	statsPath := filepath.Join(tempDir, "psnr.log")

	cmd := exec.CommandContext(ctx, r.opts.FFmpegPath,
		"-hide_banner", "-nostdin",
		"-i", job.Distorted,
		"-i", job.Reference,
		"-lavfi", psnrFilter(statsPath, corr),
		"-f", "null", "-",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg psnr: %w: %s", err, lastLine(stderr.String()))
	}

	stats, err := os.ReadFile(statsPath)
	if err != nil {
		return nil, fmt.Errorf("read psnr stats: %w", err)
	}
	values, err := ParsePSNRStats(string(stats))
	if err != nil {
		return nil, err
	}

	return &result.MetricResult{
		Timestamp: result.Timestamp(),
		Distorted: filepath.Base(job.Distorted),
		Reference: filepath.Base(job.Reference),
		Values:    values,
	}, nil
}

// psnrFilter builds the lavfi graph. With a correction, the distorted
// input is rescaled and/or retimed to the reference's geometry before
// the comparison; without one the two inputs feed psnr directly.
func psnrFilter(statsPath string, corr *validate.Correction) string {
	psnr := "psnr=stats_file=" + statsPath
	if corr == nil {
		return psnr
	}

	var pre []string
	if corr.ScaleWidth > 0 {
		pre = append(pre, fmt.Sprintf("scale=%d:%d:flags=bicubic", corr.ScaleWidth, corr.ScaleHeight))
	}
	if corr.ForceFrameRate > 0 {
		pre = append(pre, fmt.Sprintf("fps=%.3f", corr.ForceFrameRate))
	}
	if len(pre) == 0 {
		return psnr
	}
	return fmt.Sprintf("[0:v]%s[d];[d][1:v]%s", strings.Join(pre, ","), psnr)
}

// ParsePSNRStats pools ffmpeg's per-frame psnr stats lines
// ("n:1 mse_avg:… psnr_avg:…") into mean values. Infinite PSNR (bit
// identical frames) is carried as the string "inf", since JSON has no
// infinity literal. Exported for testing without ffmpeg.
func ParsePSNRStats(stats string) (map[string]any, error) {
	sums := map[string]float64{}
	infs := map[string]bool{}
	frames := 0

	for _, line := range strings.Split(stats, "\n") {
		if !strings.HasPrefix(line, "n:") {
			continue
		}
		frames++
		for _, field := range strings.Fields(line) {
			key, val, ok := strings.Cut(field, ":")
			if !ok || key == "n" {
				continue
			}
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				continue
			}
			if math.IsInf(f, 1) {
				infs[key] = true
				continue
			}
			sums[key] += f
		}
	}
	if frames == 0 {
		return nil, fmt.Errorf("psnr stats contained no frame lines")
	}

	values := map[string]any{"frames": frames}
	for _, key := range []string{"psnr_y", "psnr_u", "psnr_v", "psnr_avg", "mse_y", "mse_u", "mse_v", "mse_avg"} {
		if infs[key] {
			values[key] = "inf"
			continue
		}
		if _, ok := sums[key]; ok {
			values[key] = sums[key] / float64(frames)
		}
	}
	return values, nil
}

// lastLine returns the final non-empty line of s, for compact error
// reporting from captured stderr.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
