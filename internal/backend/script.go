package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/plan"
	"github.com/backmassage/vqbench/internal/result"
	"github.com/backmassage/vqbench/internal/validate"
)

// resultsMarker prefixes the structured line each script backend prints
// on success; everything else on stdout is progress noise.
var resultsMarker = regexp.MustCompile(`RESULTS_JSON:(\{.*\})`)

// ScriptRunner executes Python-based neural metrics (cvqa, lpips,
// dover). Each tool lives in its own checkout under ScriptRoot with a
// provisioned virtualenv; the runner invokes the tool's evaluate script
// and parses the RESULTS_JSON marker from stdout.
type ScriptRunner struct {
	opts Options
}

// NewScriptRunner returns the runner for the script backend group.
func NewScriptRunner(opts Options) *ScriptRunner {
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	return &ScriptRunner{opts: opts}
}

func (r *ScriptRunner) Group() mode.BackendGroup { return mode.BackendScript }

// toolName maps a mode to its checkout directory under ScriptRoot.
// All cvqa variants share one tool.
func toolName(modeID string) string {
	if strings.HasPrefix(modeID, "cvqa") {
		return "cvqa"
	}
	return modeID
}

// CheckAvailable verifies each tool checkout under ScriptRoot carries
// its evaluate entrypoint and virtualenv. With rebuild (or on a missing
// venv) the tool's setup script is executed first; setup mutates the
// shared checkout, which is why availability checks are serialized per
// backend.
func (r *ScriptRunner) CheckAvailable(ctx context.Context, rebuild bool) error {
	if r.opts.ScriptRoot == "" {
		return fmt.Errorf("%w: no script root configured", ErrUnavailable)
	}

	entries, err := os.ReadDir(r.opts.ScriptRoot)
	if err != nil {
		return fmt.Errorf("%w: script root %q: %v", ErrUnavailable, r.opts.ScriptRoot, err)
	}

	checked := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		toolDir := filepath.Join(r.opts.ScriptRoot, e.Name())
		if _, err := os.Stat(filepath.Join(toolDir, "evaluate.py")); err != nil {
			continue
		}
		checked++

		venvMissing := false
		if _, err := os.Stat(r.venvPython(toolDir)); err != nil {
			venvMissing = true
		}
		if rebuild || venvMissing {
			if err := r.provision(ctx, toolDir); err != nil {
				return err
			}
		}
	}
	if checked == 0 {
		return fmt.Errorf("%w: no metric tools found under %q", ErrUnavailable, r.opts.ScriptRoot)
	}
	return nil
}

// provision runs the tool's setup script (environment creation, weight
// download). Failures are fatal for the whole mode.
func (r *ScriptRunner) provision(ctx context.Context, toolDir string) error {
	setup := filepath.Join(toolDir, "setup.sh")
	if _, err := os.Stat(setup); err != nil {
		return fmt.Errorf("%w: %q has no virtualenv and no setup.sh", ErrUnavailable, toolDir)
	}
	cmd := exec.CommandContext(ctx, "sh", setup)
	cmd.Dir = toolDir
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: provisioning %q failed: %v: %s", ErrUnavailable, toolDir, err, lastLine(string(out)))
	}
	return nil
}

func (r *ScriptRunner) venvPython(toolDir string) string {
	return filepath.Join(toolDir, "venv", "bin", "python")
}

// Run invokes the tool's evaluate script and parses the results marker.
// A missing marker or unparseable payload is treated exactly like a
// failed invocation.
func (r *ScriptRunner) Run(ctx context.Context, job plan.Job, corr *validate.Correction) (*result.MetricResult, error) {
	toolDir := filepath.Join(r.opts.ScriptRoot, toolName(job.Mode.ID))

	args := []string{
		filepath.Join(toolDir, "evaluate.py"),
		"--device", r.opts.Device,
		"--distorted", job.Distorted,
	}
	if job.Reference != "" {
		args = append(args, "--reference", job.Reference)
	}
	if job.Mode.Multiscale {
		args = append(args, "--multiscale")
	}

	python := r.venvPython(toolDir)
	if r.opts.PythonPath != "" {
		if _, err := os.Stat(python); err != nil {
			python = r.opts.PythonPath
		}
	}

	cmd := exec.CommandContext(ctx, python, args...)
	cmd.Dir = toolDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", job.Mode.ID, err, lastLine(stderr.String()))
	}

	values, err := parseResultsMarker(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", job.Mode.ID, err)
	}

	res := &result.MetricResult{
		Timestamp: result.Timestamp(),
		Distorted: filepath.Base(job.Distorted),
		Values:    values,
	}
	if job.Reference != "" {
		res.Reference = filepath.Base(job.Reference)
	}
	return res, nil
}

// parseResultsMarker extracts the RESULTS_JSON payload from stdout.
func parseResultsMarker(stdout string) (map[string]any, error) {
	m := resultsMarker.FindStringSubmatch(stdout)
	if m == nil {
		return nil, fmt.Errorf("no RESULTS_JSON marker in output")
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(m[1]), &values); err != nil {
		return nil, fmt.Errorf("malformed RESULTS_JSON payload: %w", err)
	}
	return values, nil
}
