package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/google/uuid"

	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/plan"
	"github.com/backmassage/vqbench/internal/result"
	"github.com/backmassage/vqbench/internal/validate"
)

// VMAFRunner drives the standalone vmaf tool. Both inputs are first
// transcoded to y4m in a private temp directory (the tool does not
// decode arbitrary containers); corrections are applied during that
// transcode, upstream of the metric itself.
type VMAFRunner struct {
	opts Options
}

// NewVMAFRunner returns the runner for the vmaf backend group.
func NewVMAFRunner(opts Options) *VMAFRunner {
	if opts.VMAFPath == "" {
		opts.VMAFPath = "vmaf"
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	return &VMAFRunner{opts: opts}
}

func (r *VMAFRunner) Group() mode.BackendGroup { return mode.BackendVMAF }

// CheckAvailable verifies both the vmaf binary and ffmpeg (needed for
// the y4m transcode step) respond.
func (r *VMAFRunner) CheckAvailable(ctx context.Context, rebuild bool) error {
	if _, err := exec.LookPath(r.opts.VMAFPath); err != nil {
		return fmt.Errorf("%w: vmaf not found on PATH (download or build it)", ErrUnavailable)
	}
	if err := exec.CommandContext(ctx, r.opts.VMAFPath, "--version").Run(); err != nil {
		return fmt.Errorf("%w: vmaf --version failed: %v", ErrUnavailable, err)
	}
	if _, err := exec.LookPath(r.opts.FFmpegPath); err != nil {
		return fmt.Errorf("%w: ffmpeg not found on PATH (required for y4m transcode)", ErrUnavailable)
	}
	return nil
}

// Run transcodes both inputs, invokes vmaf with the mode's model set,
// and pools the tool's JSON log into a flat result.
func (r *VMAFRunner) Run(ctx context.Context, job plan.Job, corr *validate.Correction) (*result.MetricResult, error) {
	tempDir := filepath.Join(os.TempDir(), "vqbench-vmaf-"+uuid.NewString())
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	refY4M := filepath.Join(tempDir, "ref.y4m")
	distY4M := filepath.Join(tempDir, "dist.y4m")
	logPath := filepath.Join(tempDir, "vmaf.json")

	if err := r.transcode(ctx, job.Reference, refY4M, nil); err != nil {
		return nil, err
	}
	if err := r.transcode(ctx, job.Distorted, distY4M, corr); err != nil {
		return nil, err
	}

	args := []string{
		"--reference", refY4M,
		"--distorted", distY4M,
		"--output", logPath,
		"--json",
	}
	args = append(args, modelArgs(job.Mode.ID)...)
	args = append(args,
		"--feature", "psnr",
		"--feature", "psnr_hvs",
		"--feature", "float_ssim",
		"--feature", "float_ms_ssim",
		"--threads", strconv.Itoa(r.threads()),
	)

	if out, err := exec.CommandContext(ctx, r.opts.VMAFPath, args...).CombinedOutput(); err != nil {
		return nil, fmt.Errorf("vmaf: %w: %s", err, lastLine(string(out)))
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return nil, fmt.Errorf("read vmaf log: %w", err)
	}
	values, err := ParseVMAFLog(data, job.Mode.ID)
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

// transcode converts src to y4m, applying the correction's rescale and
// frame-rate force when present.
func (r *VMAFRunner) transcode(ctx context.Context, src, dst string, corr *validate.Correction) error {
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", src}
	if corr != nil && corr.ScaleWidth > 0 {
		args = append(args,
			"-vf", fmt.Sprintf("scale=%d:%d:flags=lanczos+accurate_rnd+bitexact", corr.ScaleWidth, corr.ScaleHeight))
	}
	if corr != nil && corr.ForceFrameRate > 0 {
		args = append(args, "-r", fmt.Sprintf("%.3f", corr.ForceFrameRate))
	}
	args = append(args, "-an", "-sn", dst)

	if out, err := exec.CommandContext(ctx, r.opts.FFmpegPath, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("transcode %q to y4m: %w: %s", src, err, lastLine(string(out)))
	}
	return nil
}

func (r *VMAFRunner) threads() int {
	if r.opts.Threads > 0 {
		return r.opts.Threads
	}
	// Leave a few cores for the rest of the machine, as the legacy
	// tool did.
	n := runtime.NumCPU()
	reserve := min(4, n/5)
	return max(1, n-reserve)
}

// modelArgs selects the model set for a vmaf-family mode: the 4k model
// variants for "vmaf4k*", and the additional no-enhancement-gain model
// for the "-full" variants.
func modelArgs(modeID string) []string {
	base, neg := "vmaf_v0.6.1", "vmaf_v0.6.1neg"
	if modeID == "vmaf4k" || modeID == "vmaf4k-full" {
		base, neg = "vmaf_4k_v0.6.1", "vmaf_4k_v0.6.1neg"
	}

	args := []string{"--model", "version=" + base}
	if modeID == "vmaf-full" || modeID == "vmaf4k-full" {
		args = append(args, "--model", "version="+neg+":name=vmaf_neg")
	}
	return args
}

// vmafLog mirrors the tool's JSON log structure.
type vmafLog struct {
	PooledMetrics map[string]struct {
		Mean float64 `json:"mean"`
	} `json:"pooled_metrics"`
}

// ParseVMAFLog pools the tool's JSON log into flat result values. The
// combined psnr is the legacy luma-weighted mean (6·Y + Cb + Cr)/8.
// Exported for testing without the vmaf binary.
func ParseVMAFLog(data []byte, modeID string) (map[string]any, error) {
	var log vmafLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("parse vmaf log: %w", err)
	}
	if len(log.PooledMetrics) == 0 {
		return nil, fmt.Errorf("vmaf log has no pooled_metrics")
	}

	pooled := func(key string) float64 { return log.PooledMetrics[key].Mean }

	psnrY := pooled("psnr_y")
	psnrCb := pooled("psnr_cb")
	psnrCr := pooled("psnr_cr")

	values := map[string]any{
		"vmaf":     pooled("vmaf"),
		"psnr":     (6*psnrY + psnrCb + psnrCr) / 8,
		"psnr_y":   psnrY,
		"psnr_cb":  psnrCb,
		"psnr_cr":  psnrCr,
		"psnr_hvs": pooled("psnr_hvs"),
		"ssim":     pooled("float_ssim"),
		"ms_ssim":  pooled("float_ms_ssim"),
	}
	if modeID == "vmaf-full" || modeID == "vmaf4k-full" {
		values["vmaf_neg"] = pooled("vmaf_neg")
	}
	return values, nil
}
