package backend

import (
	"math"
	"strings"
	"testing"

	"github.com/backmassage/vqbench/internal/validate"
)

func TestParsePSNRStats(t *testing.T) {
	stats := strings.Join([]string{
		"n:1 mse_avg:2.00 mse_y:3.00 mse_u:0.50 mse_v:0.50 psnr_avg:45.12 psnr_y:43.36 psnr_u:51.14 psnr_v:51.14",
		"n:2 mse_avg:4.00 mse_y:6.00 mse_u:1.00 mse_v:1.00 psnr_avg:42.11 psnr_y:40.35 psnr_u:48.13 psnr_v:48.13",
		"",
	}, "\n")

	values, err := ParsePSNRStats(stats)
	if err != nil {
		t.Fatalf("ParsePSNRStats() error: %v", err)
	}
	if values["frames"] != 2 {
		t.Errorf("frames = %v, want 2", values["frames"])
	}
	if got := values["psnr_avg"].(float64); math.Abs(got-43.615) > 1e-9 {
		t.Errorf("psnr_avg = %v, want 43.615", got)
	}
	if got := values["mse_y"].(float64); math.Abs(got-4.5) > 1e-9 {
		t.Errorf("mse_y = %v, want 4.5", got)
	}
}

func TestParsePSNRStatsInfinite(t *testing.T) {
	// Bit-identical inputs: ffmpeg reports inf and mse 0.
	stats := "n:1 mse_avg:0.00 psnr_avg:inf psnr_y:inf psnr_u:inf psnr_v:inf\n"

	values, err := ParsePSNRStats(stats)
	if err != nil {
		t.Fatalf("ParsePSNRStats() error: %v", err)
	}
	if values["psnr_avg"] != "inf" {
		t.Errorf("psnr_avg = %v, want the string \"inf\"", values["psnr_avg"])
	}
	if values["mse_avg"] != 0.0 {
		t.Errorf("mse_avg = %v, want 0", values["mse_avg"])
	}
}

func TestParsePSNRStatsEmpty(t *testing.T) {
	if _, err := ParsePSNRStats("garbage without frame lines\n"); err == nil {
		t.Error("ParsePSNRStats(no frames) = nil error, want error")
	}
}

func TestPSNRFilter(t *testing.T) {
	tests := []struct {
		name string
		corr *validate.Correction
		want string
	}{
		{
			name: "no correction",
			corr: nil,
			want: "psnr=stats_file=/tmp/psnr.log",
		},
		{
			name: "scale only",
			corr: &validate.Correction{ScaleWidth: 1920, ScaleHeight: 1080},
			want: "[0:v]scale=1920:1080:flags=bicubic[d];[d][1:v]psnr=stats_file=/tmp/psnr.log",
		},
		{
			name: "scale and fps",
			corr: &validate.Correction{ScaleWidth: 1920, ScaleHeight: 1080, ForceFrameRate: 29.97},
			want: "[0:v]scale=1920:1080:flags=bicubic,fps=29.970[d];[d][1:v]psnr=stats_file=/tmp/psnr.log",
		},
		{
			name: "empty correction behaves like none",
			corr: &validate.Correction{},
			want: "psnr=stats_file=/tmp/psnr.log",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := psnrFilter("/tmp/psnr.log", tt.corr); got != tt.want {
				t.Errorf("psnrFilter() = %q, want %q", got, tt.want)
			}
		})
	}
}

const sampleVMAFLog = `{
  "pooled_metrics": {
    "vmaf":          {"min": 80.1, "max": 99.2, "mean": 91.5},
    "vmaf_neg":      {"min": 78.0, "max": 97.1, "mean": 89.2},
    "psnr_y":        {"mean": 40.0},
    "psnr_cb":       {"mean": 44.0},
    "psnr_cr":       {"mean": 46.0},
    "psnr_hvs":      {"mean": 41.3},
    "float_ssim":    {"mean": 0.98},
    "float_ms_ssim": {"mean": 0.99}
  }
}`

func TestParseVMAFLog(t *testing.T) {
	values, err := ParseVMAFLog([]byte(sampleVMAFLog), "vmaf-full")
	if err != nil {
		t.Fatalf("ParseVMAFLog() error: %v", err)
	}

	if values["vmaf"] != 91.5 {
		t.Errorf("vmaf = %v, want 91.5", values["vmaf"])
	}
	// Luma-weighted combined psnr: (6*40 + 44 + 46) / 8.
	if got := values["psnr"].(float64); math.Abs(got-41.25) > 1e-9 {
		t.Errorf("psnr = %v, want 41.25", got)
	}
	if values["ssim"] != 0.98 {
		t.Errorf("ssim = %v, want 0.98", values["ssim"])
	}
	if values["vmaf_neg"] != 89.2 {
		t.Errorf("vmaf_neg = %v, want 89.2 for a -full mode", values["vmaf_neg"])
	}
}

func TestParseVMAFLogBaseModeSkipsNeg(t *testing.T) {
	values, err := ParseVMAFLog([]byte(sampleVMAFLog), "vmaf")
	if err != nil {
		t.Fatalf("ParseVMAFLog() error: %v", err)
	}
	if _, ok := values["vmaf_neg"]; ok {
		t.Error("vmaf_neg present for base mode, want only in -full modes")
	}
}

func TestParseVMAFLogMalformed(t *testing.T) {
	if _, err := ParseVMAFLog([]byte(`{"frames": []}`), "vmaf"); err == nil {
		t.Error("ParseVMAFLog(no pooled_metrics) = nil error, want error")
	}
	if _, err := ParseVMAFLog([]byte(`not json`), "vmaf"); err == nil {
		t.Error("ParseVMAFLog(garbage) = nil error, want error")
	}
}

func TestModelArgs(t *testing.T) {
	tests := []struct {
		modeID string
		want   []string
	}{
		{"vmaf", []string{"--model", "version=vmaf_v0.6.1"}},
		{"vmaf-full", []string{"--model", "version=vmaf_v0.6.1", "--model", "version=vmaf_v0.6.1neg:name=vmaf_neg"}},
		{"vmaf4k", []string{"--model", "version=vmaf_4k_v0.6.1"}},
		{"vmaf4k-full", []string{"--model", "version=vmaf_4k_v0.6.1", "--model", "version=vmaf_4k_v0.6.1neg:name=vmaf_neg"}},
	}
	for _, tt := range tests {
		t.Run(tt.modeID, func(t *testing.T) {
			got := modelArgs(tt.modeID)
			if len(got) != len(tt.want) {
				t.Fatalf("modelArgs() = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("modelArgs()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseResultsMarker(t *testing.T) {
	stdout := strings.Join([]string{
		"loading model weights...",
		"processing 300 frames",
		`RESULTS_JSON:{"score": 0.8231, "frames": 300}`,
		"done",
	}, "\n")

	values, err := parseResultsMarker(stdout)
	if err != nil {
		t.Fatalf("parseResultsMarker() error: %v", err)
	}
	if values["score"] != 0.8231 {
		t.Errorf("score = %v, want 0.8231", values["score"])
	}
}

func TestParseResultsMarkerErrors(t *testing.T) {
	if _, err := parseResultsMarker("no marker here\n"); err == nil {
		t.Error("missing marker: error = nil, want error")
	}
	if _, err := parseResultsMarker("RESULTS_JSON:{broken\n"); err == nil {
		t.Error("malformed payload: error = nil, want error")
	}
}

func TestToolName(t *testing.T) {
	tests := []struct {
		modeID string
		want   string
	}{
		{"cvqa-nr", "cvqa"},
		{"cvqa-fr-ms", "cvqa"},
		{"lpips", "lpips"},
		{"dover", "dover"},
	}
	for _, tt := range tests {
		if got := toolName(tt.modeID); got != tt.want {
			t.Errorf("toolName(%q) = %q, want %q", tt.modeID, got, tt.want)
		}
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"one\ntwo\nthree\n", "three"},
		{"single", "single"},
		{"", ""},
		{"trailing spaces  \n", "trailing spaces"},
	}
	for _, tt := range tests {
		if got := lastLine(tt.in); got != tt.want {
			t.Errorf("lastLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
