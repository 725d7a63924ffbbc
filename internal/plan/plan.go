// Package plan turns a distorted-video set, an optional reference set,
// and a mode into a deduplicated list of executable jobs. Planning is
// pure disk inspection: no state store exists, and a job whose result
// file is already on disk is simply never planned again.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/result"
)

// Recognized video file extensions (lowercase, with leading dot).
var mediaExtensions = map[string]bool{
	".mp4": true,
	".mkv": true,
	".mov": true,
}

// Job is one planned unit of work: a mode applied to one distorted file
// with its resolved reference. Jobs are ephemeral; only the resulting
// metric file persists.
type Job struct {
	Mode      mode.Mode
	Distorted string
	Reference string // non-empty iff Mode.RequiresReference
	OutputDir string // empty means "beside the distorted file"
}

// Skip records one distorted file excluded from the plan, with the
// reason reported in the run summary.
type Skip struct {
	Distorted string
	Reason    string
}

// Plan is the ordered job list plus everything excluded from it.
type Plan struct {
	Jobs        []Job
	NoReference []Skip // FR mode, no matching reference found
	AlreadyDone []Skip // result file already on disk
	TotalInputs int
}

// Planner builds plans. The logger reports per-file exclusions as they
// are found; the Plan carries them for the summary as well.
type Planner struct {
	Log zerolog.Logger
}

// New returns a Planner reporting through log.
func New(log zerolog.Logger) *Planner {
	return &Planner{Log: log}
}

// Build resolves the distorted and reference inputs (file or directory)
// and constructs the job list for m. Reference resolution and
// output-file deduplication are both non-fatal per file; only an
// unreadable input path fails the whole plan.
func (p *Planner) Build(distortedInput, referenceInput string, m mode.Mode, outputDir string) (*Plan, error) {
	distorted, err := ResolveInputs(distortedInput)
	if err != nil {
		return nil, fmt.Errorf("distorted input: %w", err)
	}

	var references []string
	if m.RequiresReference {
		references, err = ResolveInputs(referenceInput)
		if err != nil {
			return nil, fmt.Errorf("reference input: %w", err)
		}
	}

	plan := &Plan{TotalInputs: len(distorted)}
	planned := make(map[string]bool) // canonical output path -> already planned

	for _, dist := range distorted {
		outPath := result.OutputPath(dist, m.ID, outputDir)
		if planned[outPath] {
			continue
		}

		if _, err := os.Stat(outPath); err == nil {
			p.Log.Warn().Str("output", filepath.Base(outPath)).Msg("skip (result exists)")
			plan.AlreadyDone = append(plan.AlreadyDone, Skip{dist, "result exists: " + outPath})
			continue
		}

		job := Job{Mode: m, Distorted: dist, OutputDir: outputDir}

		if m.RequiresReference {
			ref := ResolveReference(dist, references)
			if ref == "" {
				p.Log.Error().Str("distorted", filepath.Base(dist)).Msg("no matching reference found")
				plan.NoReference = append(plan.NoReference, Skip{dist, "no matching reference"})
				continue
			}
			job.Reference = ref
		}

		planned[outPath] = true
		plan.Jobs = append(plan.Jobs, job)
	}

	return plan, nil
}

// ResolveInputs expands a path into a concrete file list. A file is
// returned as-is (regardless of extension, so explicit arguments always
// win); a directory is listed non-recursively, keeping recognized media
// extensions, excluding hidden files, sorted for deterministic order.
func ResolveInputs(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("no input path given")
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if mediaExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// ResolveReference picks the reference whose base name shares the
// longest case-insensitive character prefix with the distorted base
// name, comparing character by character until the first mismatch. A
// single-element reference set always wins; ties keep the first maximal
// match in slice order; zero shared characters means no match ("").
//
// The heuristic is deliberately simple and order-sensitive, preserved
// as-is from the legacy tool.
func ResolveReference(distorted string, references []string) string {
	if len(references) == 1 {
		return references[0]
	}

	target := strings.ToLower(result.BaseName(distorted))
	best := ""
	bestLen := 0

	for _, ref := range references {
		name := strings.ToLower(result.BaseName(ref))
		n := commonPrefixLen(target, name)
		if n > bestLen {
			bestLen = n
			best = ref
		}
	}
	return best
}

func commonPrefixLen(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
