package validate

import (
	"strings"
	"testing"

	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/probe"
)

func props1080p() *probe.VideoProperties {
	return &probe.VideoProperties{
		Width:       1920,
		Height:      1080,
		Resolution:  "1920x1080",
		FrameRate:   29.97,
		FrameCount:  300,
		PixelFormat: "yuv420p",
		ColorRange:  "tv",
		TimeBase:    "1/30000",
	}
}

func mustMode(t *testing.T, id string) mode.Mode {
	t.Helper()
	m, err := mode.Lookup(id)
	if err != nil {
		t.Fatalf("Lookup(%q) error: %v", id, err)
	}
	return m
}

func TestCompareIdentical(t *testing.T) {
	out := Compare(props1080p(), props1080p(), mustMode(t, "psnr"))
	if !out.Passed {
		t.Errorf("Passed = false, want true; messages: %v", out.Messages)
	}
	if len(out.Messages) != 0 {
		t.Errorf("Messages = %v, want none", out.Messages)
	}
	if out.Correction != nil {
		t.Errorf("Correction = %+v, want nil", out.Correction)
	}
}

func TestCompareBothHardFailuresListed(t *testing.T) {
	dist := props1080p()
	dist.Width, dist.Height = 1280, 720
	dist.Resolution = "1280x720"
	dist.FrameCount = 299

	out := Compare(props1080p(), dist, mustMode(t, "psnr"))
	if out.Passed {
		t.Fatal("Passed = true, want false")
	}
	errs := out.Errors()
	if len(errs) != 2 {
		t.Fatalf("Errors() has %d messages, want 2: %v", len(errs), errs)
	}
	// Frame-count mismatches have no correction, so the pair is dead
	// even though the resolution alone would be correctable.
	if out.Correction != nil {
		t.Errorf("Correction = %+v, want nil", out.Correction)
	}
}

func TestCompareResolutionCorrection(t *testing.T) {
	dist := props1080p()
	dist.Width, dist.Height = 1280, 720
	dist.Resolution = "1280x720"

	tests := []struct {
		modeID   string
		wantCorr bool
	}{
		{"psnr", true},
		{"vmaf", true},
		{"lpips", false},
		{"cvqa-fr", false},
		{"check", false},
	}
	for _, tt := range tests {
		t.Run(tt.modeID, func(t *testing.T) {
			out := Compare(props1080p(), dist, mustMode(t, tt.modeID))
			if out.Passed {
				t.Error("Passed = true, want false")
			}
			if got := out.Correction != nil; got != tt.wantCorr {
				t.Fatalf("Correction present = %v, want %v", got, tt.wantCorr)
			}
			if tt.wantCorr {
				if out.Correction.ScaleWidth != 1920 || out.Correction.ScaleHeight != 1080 {
					t.Errorf("scale = %dx%d, want reference 1920x1080",
						out.Correction.ScaleWidth, out.Correction.ScaleHeight)
				}
				if out.Correction.ForceFrameRate != 0 {
					t.Errorf("ForceFrameRate = %f, want 0 (timebase matched)", out.Correction.ForceFrameRate)
				}
			}
		})
	}
}

func TestCompareTimebaseCorrection(t *testing.T) {
	dist := props1080p()
	dist.TimeBase = "1/25000"

	out := Compare(props1080p(), dist, mustMode(t, "vmaf"))
	if out.Passed {
		t.Fatal("Passed = true, want false")
	}
	if out.Correction == nil {
		t.Fatal("Correction = nil, want frame-rate force")
	}
	if out.Correction.ForceFrameRate != 29.97 {
		t.Errorf("ForceFrameRate = %f, want 29.97", out.Correction.ForceFrameRate)
	}
	if out.Correction.ScaleWidth != 0 {
		t.Errorf("ScaleWidth = %d, want 0 (resolution matched)", out.Correction.ScaleWidth)
	}
}

func TestCompareWarningsNeverBlock(t *testing.T) {
	dist := props1080p()
	dist.FrameRate = 30.0 // beyond the 0.001 tolerance
	dist.PixelFormat = "yuv420p10le"
	dist.ColorRange = "pc"

	out := Compare(props1080p(), dist, mustMode(t, "psnr"))
	if !out.Passed {
		t.Errorf("Passed = false, want true; messages: %v", out.Messages)
	}
	if len(out.Messages) != 3 {
		t.Errorf("got %d messages, want 3 warnings: %v", len(out.Messages), out.Messages)
	}
	for _, m := range out.Messages {
		if m.Severity != SeverityWarning {
			t.Errorf("message %q has severity %v, want warning", m.Text, m.Severity)
		}
	}
}

func TestCompareFrameRateWithinTolerance(t *testing.T) {
	dist := props1080p()
	dist.FrameRate = 29.9705 // within 0.001 of 29.97

	out := Compare(props1080p(), dist, mustMode(t, "psnr"))
	if len(out.Messages) != 0 {
		t.Errorf("Messages = %v, want none", out.Messages)
	}
}

func TestCompareUnknownColorRangeIgnored(t *testing.T) {
	ref := props1080p()
	ref.ColorRange = "unknown"
	dist := props1080p()
	dist.ColorRange = "pc"

	out := Compare(ref, dist, mustMode(t, "psnr"))
	for _, m := range out.Messages {
		if strings.Contains(m.Text, "color range") {
			t.Errorf("unexpected color range message: %q", m.Text)
		}
	}
}

func TestSeverityString(t *testing.T) {
	if SeverityError.String() != "ERROR" || SeverityWarning.String() != "WARNING" {
		t.Errorf("severity labels = %q/%q", SeverityError, SeverityWarning)
	}
}
