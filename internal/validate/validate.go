// Package validate compares reference and distorted video properties
// before a full-reference job is dispatched. Mismatches are classified
// into hard failures and warnings; for metric families that support
// corrective pre-processing, a hard resolution or timebase mismatch
// yields a Correction instead of unconditionally killing the job.
package validate

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/backmassage/vqbench/internal/mode"
	"github.com/backmassage/vqbench/internal/probe"
)

// fpsTolerance is the maximum frame-rate difference treated as equal.
const fpsTolerance = 0.001

// Severity classifies a comparison message.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

// String returns the log label for the severity.
func (s Severity) String() string {
	if s == SeverityError {
		return "ERROR"
	}
	return "WARNING"
}

// Message is one finding from a property comparison.
type Message struct {
	Severity Severity
	Text     string
}

// Correction is a pre-processing adjustment computed from the reference
// side: rescale the distorted input and/or force its frame rate so a
// pixel-domain backend can still consume the pair.
type Correction struct {
	ScaleWidth     int
	ScaleHeight    int
	ForceFrameRate float64
}

// Outcome is the result of a property comparison. Passed is false
// whenever a hard mismatch (or an inspection failure) was found; a
// non-nil Correction signals that dispatch may still proceed with the
// correction applied upstream of the backend.
type Outcome struct {
	Passed     bool
	Messages   []Message
	Correction *Correction
}

// Errors returns only the ERROR-severity messages.
func (o *Outcome) Errors() []Message {
	var errs []Message
	for _, m := range o.Messages {
		if m.Severity == SeverityError {
			errs = append(errs, m)
		}
	}
	return errs
}

// Validator inspects both sides of a pair and runs the comparison.
type Validator struct {
	Inspector *probe.Inspector
	Log       zerolog.Logger
}

// New returns a Validator using the given inspector and logger.
func New(inspector *probe.Inspector, log zerolog.Logger) *Validator {
	return &Validator{Inspector: inspector, Log: log}
}

// CompareFiles inspects reference and distorted and compares their
// properties. An inspection failure on either side is fatal to this one
// validation (never to the batch): the outcome carries passed=false and
// an ERROR message, with no correction.
func (v *Validator) CompareFiles(ctx context.Context, refPath, distPath string, m mode.Mode) (Outcome, *probe.VideoProperties, *probe.VideoProperties) {
	ref, err := v.Inspector.Inspect(ctx, refPath)
	if err != nil {
		return inspectionFailure(err), nil, nil
	}
	dist, err := v.Inspector.Inspect(ctx, distPath)
	if err != nil {
		return inspectionFailure(err), ref, nil
	}
	return Compare(ref, dist, m), ref, dist
}

func inspectionFailure(err error) Outcome {
	return Outcome{
		Passed: false,
		Messages: []Message{
			{Severity: SeverityError, Text: fmt.Sprintf("could not retrieve video information: %v", err)},
		},
	}
}

// Compare classifies every property mismatch between reference and
// distorted.
//
// Hard failures (resolution, frame count, timebase) set passed=false.
// When the mode family supports corrective pre-processing and the only
// hard failures are resolution and/or timebase, a Correction targeting
// the reference's dimensions and frame rate is attached; a frame-count
// mismatch has no correction and is always fatal.
//
// Soft findings (frame rate beyond tolerance, pixel format, color
// range) are warnings and never block execution on their own.
func Compare(ref, dist *probe.VideoProperties, m mode.Mode) Outcome {
	var out Outcome
	correctable := true // stays true while every hard failure has a known correction

	fail := func(hasCorrection bool, format string, args ...any) {
		out.Messages = append(out.Messages, Message{SeverityError, fmt.Sprintf(format, args...)})
		if !hasCorrection {
			correctable = false
		}
	}
	warn := func(format string, args ...any) {
		out.Messages = append(out.Messages, Message{SeverityWarning, fmt.Sprintf(format, args...)})
	}

	needsScale := false
	needsFPS := false

	if ref.Width != dist.Width || ref.Height != dist.Height {
		needsScale = true
		fail(true, "resolution mismatch - reference: %s vs distorted: %s", ref.Resolution, dist.Resolution)
	}
	if ref.FrameCount != dist.FrameCount {
		fail(false, "frame count mismatch - reference: %d vs distorted: %d", ref.FrameCount, dist.FrameCount)
	}
	if ref.TimeBase != dist.TimeBase {
		needsFPS = true
		fail(true, "timebase mismatch - reference: %s vs distorted: %s", ref.TimeBase, dist.TimeBase)
	}

	if math.Abs(ref.FrameRate-dist.FrameRate) > fpsTolerance {
		warn("framerate mismatch - reference: %.3f fps vs distorted: %.3f fps", ref.FrameRate, dist.FrameRate)
	}
	if ref.PixelFormat != dist.PixelFormat {
		warn("pixel format mismatch - reference: %s vs distorted: %s", ref.PixelFormat, dist.PixelFormat)
	}
	if ref.ColorRange != dist.ColorRange && ref.ColorRange != "unknown" && dist.ColorRange != "unknown" {
		warn("color range mismatch - reference: %s vs distorted: %s", ref.ColorRange, dist.ColorRange)
	}

	hardFailed := len(out.Errors()) > 0
	out.Passed = !hardFailed

	if hardFailed && correctable && m.SupportsCorrection() {
		corr := &Correction{}
		if needsScale {
			corr.ScaleWidth = ref.Width
			corr.ScaleHeight = ref.Height
		}
		if needsFPS {
			corr.ForceFrameRate = ref.FrameRate
		}
		out.Correction = corr
	}

	return out
}
