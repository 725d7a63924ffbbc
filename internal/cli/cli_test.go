package cli

import (
	"bytes"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd("test", "none")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestModesCommand(t *testing.T) {
	out, err := execute(t, "modes")
	if err != nil {
		t.Fatalf("modes: %v", err)
	}

	for _, want := range []string{"MODE", "psnr", "vmaf4k-full", "cvqa-nr-ms", "dover"} {
		if !strings.Contains(out, want) {
			t.Errorf("modes output missing %q:\n%s", want, out)
		}
	}
	// FR/NR classification shows up in the table.
	if !strings.Contains(out, "FR") || !strings.Contains(out, "NR") {
		t.Errorf("modes output missing type column:\n%s", out)
	}
}

func TestRunRejectsUnknownMode(t *testing.T) {
	_, err := execute(t, "run", "ssimulacra", t.TempDir())
	if err == nil {
		t.Fatal("run with unknown mode: error = nil, want error")
	}
	if !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("error = %v, want unknown mode", err)
	}
}

func TestRunRequiresReferenceForFRModes(t *testing.T) {
	_, err := execute(t, "run", "psnr", t.TempDir())
	if err == nil {
		t.Fatal("run psnr without --reference: error = nil, want error")
	}
	if !strings.Contains(err.Error(), "requires --reference") {
		t.Errorf("error = %v, want reference requirement", err)
	}
}

func TestExplicitMissingConfigFails(t *testing.T) {
	_, err := execute(t, "--config", "/does/not/exist.toml", "modes")
	if err == nil {
		t.Error("explicit missing config: error = nil, want error")
	}
}
