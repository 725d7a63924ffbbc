// Package result defines the per-job metric result record, the
// canonical output path convention, and atomic JSON persistence. The
// existence of a result file on disk is the sole completion marker:
// the planner and dispatcher both treat it as "already done".
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrPersist marks a failed result or dataset write. Persistence
// failures are fatal to the write and surfaced to the caller, unlike
// per-job backend failures which are logged and skipped.
var ErrPersist = errors.New("persist")

// TimestampFormat is the layout used for result timestamps.
const TimestampFormat = "2006-01-02 15:04:05"

// Timestamp returns the current time formatted for result records.
func Timestamp() string {
	return time.Now().Format(TimestampFormat)
}

// MetricResult is one backend's output for one job. Values holds the
// metric-specific fields (scores, per-frame tables); Marshal flattens
// them alongside the fixed fields, matching the legacy file layout.
type MetricResult struct {
	Timestamp string
	Distorted string // base name of the distorted file
	Reference string // base name of the reference file, empty for NR modes
	Values    map[string]any
}

// MarshalJSON emits a flat object: the fixed fields plus every entry of
// Values at the top level.
func (r *MetricResult) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Values)+3)
	for k, v := range r.Values {
		flat[k] = v
	}
	flat["timestamp"] = r.Timestamp
	flat["distorted"] = r.Distorted
	if r.Reference != "" {
		flat["reference"] = r.Reference
	}
	return marshalOrdered(flat)
}

// marshalOrdered writes map keys in sorted order so result files are
// byte-stable across runs.
func marshalOrdered(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kj, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vj, err := json.Marshal(m[k])
		if err != nil {
			return nil, err
		}
		b.Write(kj)
		b.WriteByte(':')
		b.Write(vj)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// BaseName returns the file name without directory or extension.
func BaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// OutputPath returns the canonical result file for (distorted, mode).
// The psnr and vmaf families collapse onto fixed suffixes ("psnr",
// "vmaf") regardless of the exact mode variant; every other mode uses
// its own identifier. With no output directory the file sits beside the
// distorted input.
func OutputPath(distorted, modeID, outputDir string) string {
	if outputDir == "" {
		outputDir = filepath.Dir(distorted)
	}

	key := modeID
	switch {
	case strings.Contains(modeID, "psnr"):
		key = "psnr"
	case strings.HasPrefix(modeID, "vmaf"):
		key = "vmaf"
	}

	return filepath.Join(outputDir, BaseName(distorted)+"."+key+".json")
}

// Exists reports whether the canonical result file is already present.
func Exists(distorted, modeID, outputDir string) bool {
	_, err := os.Stat(OutputPath(distorted, modeID, outputDir))
	return err == nil
}

// WriteAtomic serializes v as indented JSON to path via a uniquely named
// temporary file in the same directory, renamed into place on success.
// A concurrent reader can never observe a partial file, and an
// interrupted run leaves no output at the final path.
func WriteAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrPersist, path, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w %q: %v", ErrPersist, path, err)
	}

	tmp := path + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w %q: %v", ErrPersist, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w %q: %v", ErrPersist, path, err)
	}
	return nil
}
