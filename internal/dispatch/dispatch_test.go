package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/backmassage/vqbench/internal/backend"
	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/plan"
	"github.com/backmassage/vqbench/internal/probe"
	"github.com/backmassage/vqbench/internal/result"
	"github.com/backmassage/vqbench/internal/validate"
)

// fakeRunner scripts backend behavior per distorted path and records
// the correction passed to each run.
type fakeRunner struct {
	mu        sync.Mutex
	checkErr  error
	checks    int
	runs      int
	failPaths map[string]bool
	values    map[string]any
	corrs     map[string]*validate.Correction
}

func (f *fakeRunner) Group() mode.BackendGroup { return mode.BackendScript }

func (f *fakeRunner) CheckAvailable(ctx context.Context, rebuild bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.checkErr
}

func (f *fakeRunner) Run(ctx context.Context, job plan.Job, corr *validate.Correction) (*result.MetricResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.corrs == nil {
		f.corrs = make(map[string]*validate.Correction)
	}
	f.corrs[job.Distorted] = corr
	if f.failPaths[job.Distorted] {
		return nil, errors.New("backend exploded")
	}
	values := f.values
	if values == nil {
		values = map[string]any{"score": 0.5}
	}
	return &result.MetricResult{
		Timestamp: result.Timestamp(),
		Distorted: filepath.Base(job.Distorted),
		Values:    values,
	}, nil
}

func nrJob(t *testing.T, distorted, outputDir string) plan.Job {
	t.Helper()
	m, err := mode.Lookup("cvqa-nr")
	if err != nil {
		t.Fatal(err)
	}
	return plan.Job{Mode: m, Distorted: distorted, OutputDir: outputDir}
}

func newExecutor(r backend.Runner) *Executor {
	return &Executor{
		Workers: 2,
		Log:     zerolog.Nop(),
		Runner:  r,
	}
}

func TestRunCountsExecutedAndFailed(t *testing.T) {
	runner := &fakeRunner{failPaths: map[string]bool{"/in/bad.mp4": true}}
	p := &plan.Plan{
		Jobs: []plan.Job{
			nrJob(t, "/in/good1.mp4", ""),
			nrJob(t, "/in/good2.mp4", ""),
			nrJob(t, "/in/bad.mp4", ""),
		},
		TotalInputs: 3,
	}

	stats, err := newExecutor(runner).Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Executed != 2 {
		t.Errorf("Executed = %d, want 2", stats.Executed)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
	if runner.checks != 1 {
		t.Errorf("CheckAvailable ran %d times, want exactly 1", runner.checks)
	}
	// No comparison ran, so nothing counts as property-matched.
	if stats.PropertyMatched != 0 {
		t.Errorf("PropertyMatched = %d, want 0 for reference-free jobs", stats.PropertyMatched)
	}
}

// fakeComparer returns a scripted outcome per distorted path.
type fakeComparer struct {
	outcomes map[string]validate.Outcome
}

func (f *fakeComparer) CompareFiles(ctx context.Context, refPath, distPath string, m mode.Mode) (validate.Outcome, *probe.VideoProperties, *probe.VideoProperties) {
	return f.outcomes[distPath], nil, nil
}

func TestRunValidationGating(t *testing.T) {
	corr := &validate.Correction{ScaleWidth: 1920, ScaleHeight: 1080}

	tests := []struct {
		name         string
		modeID       string
		outcome      validate.Outcome
		wantExecuted int
		wantMismatch int
		wantMatched  int
		wantCorr     *validate.Correction
	}{
		{
			name:         "matching pair dispatches",
			modeID:       "lpips",
			outcome:      validate.Outcome{Passed: true},
			wantExecuted: 1,
			wantMatched:  1,
		},
		{
			name:   "mismatch without correction is skipped",
			modeID: "lpips",
			outcome: validate.Outcome{
				Passed: false,
				Messages: []validate.Message{
					{Severity: validate.SeverityError, Text: "frame count mismatch - reference: 300 vs distorted: 299"},
				},
			},
			wantMismatch: 1,
		},
		{
			name:   "inspection failure is skipped",
			modeID: "lpips",
			outcome: validate.Outcome{
				Passed: false,
				Messages: []validate.Message{
					{Severity: validate.SeverityError, Text: "could not retrieve video information: exit status 1"},
				},
			},
			wantMismatch: 1,
		},
		{
			name:   "correction is forwarded to the backend",
			modeID: "vmaf",
			outcome: validate.Outcome{
				Passed: false,
				Messages: []validate.Message{
					{Severity: validate.SeverityError, Text: "resolution mismatch - reference: 1920x1080 vs distorted: 1280x720"},
				},
				Correction: corr,
			},
			wantExecuted: 1,
			wantCorr:     corr,
		},
		{
			name:        "check mode stops after validation",
			modeID:      "check",
			outcome:     validate.Outcome{Passed: true},
			wantMatched: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := mode.Lookup(tt.modeID)
			if err != nil {
				t.Fatal(err)
			}
			job := plan.Job{
				Mode:      m,
				Distorted: "/in/clipA_q30.mp4",
				Reference: "/in/clipA_original.mp4",
			}

			runner := &fakeRunner{}
			exec := newExecutor(runner)
			exec.Validator = &fakeComparer{outcomes: map[string]validate.Outcome{job.Distorted: tt.outcome}}

			stats, err := exec.Run(context.Background(), &plan.Plan{Jobs: []plan.Job{job}, TotalInputs: 1})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if stats.Executed != tt.wantExecuted {
				t.Errorf("Executed = %d, want %d", stats.Executed, tt.wantExecuted)
			}
			if stats.SkippedMismatch != tt.wantMismatch {
				t.Errorf("SkippedMismatch = %d, want %d", stats.SkippedMismatch, tt.wantMismatch)
			}
			if stats.PropertyMatched != tt.wantMatched {
				t.Errorf("PropertyMatched = %d, want %d", stats.PropertyMatched, tt.wantMatched)
			}
			if runner.runs != tt.wantExecuted {
				t.Errorf("backend ran %d times, want %d", runner.runs, tt.wantExecuted)
			}
			if tt.wantCorr != nil && runner.corrs[job.Distorted] != tt.wantCorr {
				t.Errorf("backend received correction %+v, want %+v", runner.corrs[job.Distorted], tt.wantCorr)
			}
		})
	}
}

func TestRunUnavailableBackendIsFatal(t *testing.T) {
	runner := &fakeRunner{checkErr: backend.ErrUnavailable}
	p := &plan.Plan{Jobs: []plan.Job{nrJob(t, "/in/a.mp4", "")}}

	_, err := newExecutor(runner).Run(context.Background(), p)
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Fatalf("Run() error = %v, want ErrUnavailable", err)
	}
	if runner.runs != 0 {
		t.Errorf("runner executed %d jobs after a failed availability check", runner.runs)
	}
}

func TestRunSkipsExistingOutput(t *testing.T) {
	outDir := t.TempDir()
	dist := "/in/clipA_q30.mp4"
	done := result.OutputPath(dist, "cvqa-nr", outDir)
	if err := os.WriteFile(done, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	p := &plan.Plan{Jobs: []plan.Job{nrJob(t, dist, outDir)}}

	stats, err := newExecutor(runner).Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.SkippedExisting != 1 {
		t.Errorf("SkippedExisting = %d, want 1", stats.SkippedExisting)
	}
	if stats.Executed != 0 {
		t.Errorf("Executed = %d, want 0", stats.Executed)
	}
	if runner.runs != 0 {
		t.Errorf("runner was invoked %d times for an existing output", runner.runs)
	}
}

func TestRunPersistenceFailureIsFatal(t *testing.T) {
	outDir := t.TempDir()
	// The output directory path points at a regular file, so the
	// result write cannot possibly succeed.
	blocked := filepath.Join(outDir, "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	p := &plan.Plan{Jobs: []plan.Job{nrJob(t, "/in/a.mp4", filepath.Join(blocked, "sub"))}}

	_, err := newExecutor(runner).Run(context.Background(), p)
	if !errors.Is(err, result.ErrPersist) {
		t.Fatalf("Run() error = %v, want ErrPersist", err)
	}
}

func TestRunPersistsResult(t *testing.T) {
	outDir := t.TempDir()
	dist := "/in/clipA_q30.mp4"

	runner := &fakeRunner{}
	p := &plan.Plan{Jobs: []plan.Job{nrJob(t, dist, outDir)}}

	stats, err := newExecutor(runner).Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Executed != 1 {
		t.Fatalf("Executed = %d, want 1", stats.Executed)
	}
	if _, err := os.Stat(result.OutputPath(dist, "cvqa-nr", outDir)); err != nil {
		t.Errorf("canonical output missing: %v", err)
	}
}

func TestIsPerfectMatch(t *testing.T) {
	tests := []struct {
		name   string
		modeID string
		values map[string]any
		want   bool
	}{
		{"infinite psnr string", "psnr", map[string]any{"psnr_avg": "inf"}, true},
		{"finite psnr_avg", "psnr", map[string]any{"psnr_avg": 48.3}, false},
		{"clamped vmaf psnr", "vmaf", map[string]any{"psnr": 60.0}, true},
		{"clamped vmaf4k psnr", "vmaf4k-full", map[string]any{"psnr": 61.2}, true},
		{"high but imperfect", "vmaf", map[string]any{"psnr": 59.9}, false},
		{"clamp value under psnr mode", "psnr", map[string]any{"psnr": 60.0}, false},
		{"inf string under vmaf mode", "vmaf", map[string]any{"psnr_avg": "inf"}, false},
		{"no psnr at all", "dover", map[string]any{"dover": 0.7}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPerfectMatch(tt.modeID, tt.values); got != tt.want {
				t.Errorf("isPerfectMatch(%q, %v) = %v, want %v", tt.modeID, tt.values, got, tt.want)
			}
		})
	}
}
