// Package aggregate consolidates per-video metric result files into a
// single dataset. It runs as a separate pass over an accumulated
// results tree, independent of planning and dispatch.
package aggregate

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// ExtractionFailure records one metric file for which every extractor
// of one rule failed (schema drift).
type ExtractionFailure struct {
	File      string
	MetricKey string
	OutputKey string
}

// Coverage is the per-output-key fill count across all entries.
type Coverage struct {
	OutputKey string
	Covered   int
	Total     int
}

// Report summarizes one aggregation pass: load statistics, every file
// that could not be parsed or extracted, and per-key coverage.
type Report struct {
	FilesFound     int
	SeedEntries    int
	NewEntries     int
	UpdatedEntries int

	ParseFailures      []string
	ExtractionFailures []ExtractionFailure

	Fully     []Coverage
	Partially []Coverage
	Never     []Coverage
}

// Engine aggregates a results tree, optionally on top of a seed
// dataset from a previous run.
type Engine struct {
	Log zerolog.Logger
}

// metricFile is one result file discovered during the walk.
type metricFile struct {
	base string
	key  string
	path string
}

// Aggregate walks metricsDir recursively, extracts scores from every
// result file into the dataset, and returns the dataset with a report.
// With a non-empty seedPath the prior dataset is loaded first; its
// values are never overwritten. A malformed file is recorded and
// skipped, never fatal.
func (e *Engine) Aggregate(metricsDir, seedPath string) (*Dataset, *Report, error) {
	d := NewDataset()
	rep := &Report{}

	if seedPath != "" {
		seed, err := LoadSeed(seedPath)
		if err != nil {
			return nil, nil, err
		}
		d = seed
		rep.SeedEntries = d.Len()
		e.Log.Info().Int("entries", d.Len()).Str("seed", seedPath).Msg("loaded existing dataset")
	}

	files, err := e.discover(metricsDir)
	if err != nil {
		return nil, nil, err
	}
	rep.FilesFound = len(files)

	// Later walk hits for the same (base, key) overwrite earlier ones.
	latest := make(map[string]map[string]string)
	var baseOrder []string
	for _, f := range files {
		if _, ok := latest[f.base]; !ok {
			latest[f.base] = make(map[string]string)
			baseOrder = append(baseOrder, f.base)
		}
		latest[f.base][f.key] = f.path
	}

	attempted := make(map[string]bool)

	for _, base := range baseOrder {
		entry, existed := d.Ensure(base)
		if existed {
			rep.UpdatedEntries++
		} else {
			rep.NewEntries++
		}

		keys := make([]string, 0, len(latest[base]))
		for k := range latest[base] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, key := range keys {
			path := latest[base][key]
			matched := rulesFor(key)
			if matched == nil {
				e.Log.Debug().Str("file", path).Str("metric", key).Msg("no extractor registered")
				continue
			}

			data, err := loadMetricFile(path)
			if err != nil {
				e.Log.Warn().Str("file", path).Err(err).Msg("skipping unreadable metric file")
				rep.ParseFailures = append(rep.ParseFailures, path)
				continue
			}

			for _, rule := range matched {
				attempted[rule.OutputKey] = true
				if entry.Has(rule.OutputKey) {
					continue
				}
				if !applyRule(entry, rule, data) {
					e.Log.Warn().
						Str("file", path).
						Str("output_key", rule.OutputKey).
						Msg("all extractors failed")
					rep.ExtractionFailures = append(rep.ExtractionFailures, ExtractionFailure{
						File:      path,
						MetricKey: rule.MetricKey,
						OutputKey: rule.OutputKey,
					})
				}
			}
		}
	}

	e.summarizeCoverage(d, attempted, rep)
	return d, rep, nil
}

// discover collects every <base>.<key>.json under root in walk order.
func (e *Engine) discover(root string) ([]metricFile, error) {
	var files []metricFile
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		base, key, ok := splitMetricName(entry.Name())
		if !ok {
			return nil
		}
		files = append(files, metricFile{base: base, key: key, path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", root, err)
	}
	return files, nil
}

// splitMetricName splits "video1.vmaf.json" into ("video1", "vmaf").
// The base name may itself contain dots.
func splitMetricName(name string) (base, key string, ok bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 || parts[len(parts)-1] != "json" {
		return "", "", false
	}
	return strings.Join(parts[:len(parts)-2], "."), parts[len(parts)-2], true
}

func loadMetricFile(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// applyRule tries the rule's extractors in order; the first success
// sets the output key and stops the chain.
func applyRule(entry *Entry, rule Rule, data map[string]any) bool {
	for _, ex := range rule.Extractors {
		v, err := ex(data)
		if err != nil {
			continue
		}
		entry.Fields[rule.OutputKey] = v
		return true
	}
	return false
}

// summarizeCoverage partitions every observed output key by how many
// entries carry it: all, some, or none.
func (e *Engine) summarizeCoverage(d *Dataset, attempted map[string]bool, rep *Report) {
	total := d.Len()

	keys := make(map[string]bool)
	for k := range attempted {
		keys[k] = true
	}
	for _, entry := range d.Entries() {
		for k := range entry.Fields {
			if k == "source_name" {
				continue
			}
			keys[k] = true
		}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		covered := 0
		for _, entry := range d.Entries() {
			if entry.Has(k) {
				covered++
			}
		}
		c := Coverage{OutputKey: k, Covered: covered, Total: total}
		switch {
		case total > 0 && covered == total:
			rep.Fully = append(rep.Fully, c)
		case covered > 0:
			rep.Partially = append(rep.Partially, c)
		default:
			rep.Never = append(rep.Never, c)
		}
	}
}

// LogReport writes the end-of-pass summary through the engine's logger.
func (e *Engine) LogReport(rep *Report) {
	e.Log.Info().Msg("==== CONSOLIDATION REPORT ====")
	e.Log.Info().
		Int("files", rep.FilesFound).
		Int("seed_entries", rep.SeedEntries).
		Int("new_entries", rep.NewEntries).
		Int("updated_entries", rep.UpdatedEntries).
		Msg("processed")
	e.Log.Info().
		Int("parse_failures", len(rep.ParseFailures)).
		Int("extraction_failures", len(rep.ExtractionFailures)).
		Msg("failures")
	for _, f := range rep.ExtractionFailures {
		e.Log.Warn().
			Str("file", f.File).
			Str("output_key", f.OutputKey).
			Msg("schema drift")
	}
	for _, c := range rep.Partially {
		e.Log.Warn().
			Str("key", c.OutputKey).
			Int("covered", c.Covered).
			Int("total", c.Total).
			Msg("partial coverage")
	}
	for _, c := range rep.Never {
		e.Log.Warn().Str("key", c.OutputKey).Msg("no entries covered")
	}
	if len(rep.Partially) == 0 && len(rep.Never) == 0 {
		e.Log.Info().Msg("all entries have consistent metrics")
	}
}
