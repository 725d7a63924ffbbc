package probe

import "fmt"

// VideoProperties holds the normalized properties of the first video
// stream of a file, derived from one ffprobe JSON call plus a
// frame-accurate decode pass. Instances are read-only after
// construction; reference and distorted properties are compared but
// never merged.
type VideoProperties struct {
	Width       int
	Height      int
	Resolution  string // "WxH"
	FrameRate   float64
	FrameCount  int64
	Duration    float64 // seconds, FrameCount/FrameRate when known
	PixelFormat string  // "unknown" when unreported
	ColorRange  string  // "unknown" when unreported
	TimeBase    string  // e.g. "1/1000"
	FileSize    int64
}

// InspectionError wraps any probe failure (missing tool, subprocess
// exit, unparseable output) so that property comparison can degrade to
// a hard validation failure for the one affected file instead of
// aborting the batch.
type InspectionError struct {
	Path string
	Err  error
}

func (e *InspectionError) Error() string {
	return fmt.Sprintf("inspect %q: %v", e.Path, e.Err)
}

func (e *InspectionError) Unwrap() error { return e.Err }
