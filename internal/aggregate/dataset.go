package aggregate

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/backmassage/vqbench/internal/result"
)

// Entry is one video's consolidated record: its base name plus every
// extracted score keyed by output key. Created on first encounter of a
// base name or loaded from a seed dataset; updated in place, never
// deleted within a run.
type Entry struct {
	Name   string
	Fields map[string]any
}

// Has reports whether key is already set to a non-null value. A key set
// from a seed dataset or an earlier extractor is never overwritten.
func (e *Entry) Has(key string) bool {
	v, ok := e.Fields[key]
	return ok && v != nil
}

// MarshalJSON writes name first, then the score fields in sorted order,
// so consolidated files are byte-stable across runs.
func (e *Entry) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(`{"name":`)
	nj, err := json.Marshal(e.Name)
	if err != nil {
		return nil, err
	}
	b.Write(nj)
	for _, k := range keys {
		kj, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vj, err := json.Marshal(e.Fields[k])
		if err != nil {
			return nil, err
		}
		b.WriteByte(',')
		b.Write(kj)
		b.WriteByte(':')
		b.Write(vj)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// UnmarshalJSON loads an entry from its flat JSON object form.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if name, ok := raw["name"].(string); ok {
		e.Name = name
	}
	delete(raw, "name")
	e.Fields = raw
	return nil
}

// Dataset is the ordered collection of consolidated entries: seed
// entries first in their original order, then newly discovered base
// names in walk order.
type Dataset struct {
	entries []*Entry
	index   map[string]*Entry
}

// NewDataset returns an empty dataset.
func NewDataset() *Dataset {
	return &Dataset{index: make(map[string]*Entry)}
}

// Len returns the number of entries.
func (d *Dataset) Len() int { return len(d.entries) }

// Entries returns the entries in insertion order.
func (d *Dataset) Entries() []*Entry { return d.entries }

// Get returns the entry for name, or nil.
func (d *Dataset) Get(name string) *Entry { return d.index[name] }

// Ensure returns the entry for name, creating it (with only the name
// and derived source name set) on first encounter. The second return
// reports whether the entry already existed.
func (d *Dataset) Ensure(name string) (*Entry, bool) {
	if e, ok := d.index[name]; ok {
		return e, true
	}
	e := &Entry{
		Name: name,
		Fields: map[string]any{
			// Everything before the first underscore identifies the
			// source clip across its encoded variants.
			"source_name": sourceName(name),
		},
	}
	d.entries = append(d.entries, e)
	d.index[name] = e
	return e, false
}

func sourceName(name string) string {
	base, _, _ := strings.Cut(name, "_")
	return base
}

// legacyRenames maps metric keys written by older backend versions to
// their current names. Applied to seed entries on load, in table order,
// so an entry carrying two aliases of the same key resolves the same
// way on every run (ms_ssim wins over float_ms_ssim).
var legacyRenames = []struct {
	from, to string
}{
	{"float_ssim", "ssim"},
	{"float_ms_ssim", "ms-ssim"},
	{"ms_ssim", "ms-ssim"},
	{"compressed-vqa-nr", "cvqa-nr"},
	{"compressed-vqa-fr", "cvqa-fr"},
	{"compressed-vqa-fr-ms", "cvqa-fr-ms"},
}

// LoadSeed reads a pre-existing consolidated dataset: either a JSON
// array of entries or a legacy name-keyed object. Legacy metric keys
// are renamed on load. Array order (or sorted name order for the legacy
// map form) becomes the seed insertion order.
func LoadSeed(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load seed dataset: %w", err)
	}

	d := NewDataset()

	var list []*Entry
	if err := json.Unmarshal(data, &list); err == nil {
		for _, e := range list {
			d.add(e)
		}
		return d, nil
	}

	var byName map[string]*Entry
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, fmt.Errorf("seed dataset %q is neither an entry list nor a name map: %w", path, err)
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		e := byName[name]
		if e.Name == "" {
			e.Name = name
		}
		d.add(e)
	}
	return d, nil
}

func (d *Dataset) add(e *Entry) {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	for _, r := range legacyRenames {
		if v, ok := e.Fields[r.from]; ok {
			e.Fields[r.to] = v
			delete(e.Fields, r.from)
		}
	}
	if _, exists := d.index[e.Name]; exists {
		return
	}
	d.entries = append(d.entries, e)
	d.index[e.Name] = e
}

// Write serializes the full entry list atomically: either the whole
// consolidated file lands or an error is returned, never a partial
// file.
func (d *Dataset) Write(path string) error {
	return result.WriteAtomic(path, d.entries)
}
