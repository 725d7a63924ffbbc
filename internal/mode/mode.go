// Package mode is the registry of supported quality metric modes. It is
// the single source of truth for which modes require a reference video
// and which backend group executes them, replacing the scattered mode
// lists of the legacy scripts.
package mode

import (
	"errors"
	"fmt"
)

// BackendGroup identifies which runner executes a mode.
type BackendGroup int

const (
	// BackendFFmpeg runs pixel-domain metrics through an ffmpeg lavfi
	// filter graph (psnr).
	BackendFFmpeg BackendGroup = iota
	// BackendVMAF runs the standalone vmaf tool against y4m transcodes.
	BackendVMAF
	// BackendScript runs a Python-based neural metric (cvqa, lpips,
	// dover) inside its own provisioned environment.
	BackendScript
	// BackendCheck performs the property comparison only; no metric is
	// ever computed.
	BackendCheck
)

// String returns the short label used in logs and the modes table.
func (g BackendGroup) String() string {
	switch g {
	case BackendFFmpeg:
		return "ffmpeg"
	case BackendVMAF:
		return "vmaf"
	case BackendScript:
		return "script"
	case BackendCheck:
		return "check"
	}
	return "unknown"
}

// Mode describes one quality metric identifier. Immutable; looked up by
// ID via [Lookup].
type Mode struct {
	ID                string
	RequiresReference bool
	Multiscale        bool
	Backend           BackendGroup
}

// SupportsCorrection reports whether a reference/distorted property
// mismatch (resolution, timebase) can be compensated by rescaling or
// forcing a frame rate upstream of the backend call. Only the
// full-reference pixel-domain families qualify; neural metrics consume
// the inputs as-is and must hard-fail instead.
func (m Mode) SupportsCorrection() bool {
	if !m.RequiresReference {
		return false
	}
	return m.Backend == BackendFFmpeg || m.Backend == BackendVMAF
}

// ErrUnknownMode is returned by Lookup for an identifier not present in
// the registry.
var ErrUnknownMode = errors.New("unknown mode")

// registry holds every supported mode in display order. FR modes first,
// matching the legacy FR_MODES/NR_MODES tables.
var registry = []Mode{
	{ID: "check", RequiresReference: true, Backend: BackendCheck},
	{ID: "psnr", RequiresReference: true, Backend: BackendFFmpeg},
	{ID: "vmaf", RequiresReference: true, Backend: BackendVMAF},
	{ID: "vmaf-full", RequiresReference: true, Backend: BackendVMAF},
	{ID: "vmaf4k", RequiresReference: true, Backend: BackendVMAF},
	{ID: "vmaf4k-full", RequiresReference: true, Backend: BackendVMAF},
	{ID: "lpips", RequiresReference: true, Backend: BackendScript},
	{ID: "cvqa-fr", RequiresReference: true, Backend: BackendScript},
	{ID: "cvqa-fr-ms", RequiresReference: true, Multiscale: true, Backend: BackendScript},
	{ID: "cvqa-nr", Backend: BackendScript},
	{ID: "cvqa-nr-ms", Multiscale: true, Backend: BackendScript},
	{ID: "dover", Backend: BackendScript},
}

// Lookup returns the mode for the given identifier, or an error wrapping
// [ErrUnknownMode] when the identifier is not registered.
func Lookup(id string) (Mode, error) {
	for _, m := range registry {
		if m.ID == id {
			return m, nil
		}
	}
	return Mode{}, fmt.Errorf("%w: %q", ErrUnknownMode, id)
}

// All returns every registered mode in display order. The returned slice
// is a copy; callers may not mutate the registry.
func All() []Mode {
	out := make([]Mode, len(registry))
	copy(out, registry)
	return out
}

// IDs returns all registered mode identifiers, for flag help text.
func IDs() []string {
	ids := make([]string, len(registry))
	for i, m := range registry {
		ids[i] = m.ID
	}
	return ids
}
