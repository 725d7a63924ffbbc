package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Inspector wraps the external ffprobe binary. The path is configurable
// for non-standard installs; empty means "ffprobe" on PATH.
type Inspector struct {
	FFprobePath string
}

// NewInspector returns an Inspector invoking the given ffprobe binary.
func NewInspector(ffprobePath string) *Inspector {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Inspector{FFprobePath: ffprobePath}
}

// Inspect probes path and returns its normalized video properties.
// Every failure (missing binary, non-zero exit, malformed JSON, no
// video stream) is returned as an *InspectionError so the caller can
// degrade to a validation failure instead of crashing the batch.
func (in *Inspector) Inspect(ctx context.Context, path string) (*VideoProperties, error) {
	cmd := exec.CommandContext(ctx, in.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		"-select_streams", "v:0",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return nil, &InspectionError{Path: path, Err: fmt.Errorf("ffprobe: %w", err)}
	}

	props, err := ParseJSON(out)
	if err != nil {
		return nil, &InspectionError{Path: path, Err: err}
	}

	// Frame-accurate count needs a decode pass; container headers lie
	// often enough that the frame total gets its own invocation.
	frames, err := in.countFrames(ctx, path)
	if err != nil {
		return nil, &InspectionError{Path: path, Err: err}
	}
	props.FrameCount = frames
	if props.FrameRate > 0 {
		props.Duration = float64(frames) / props.FrameRate
	}

	return props, nil
}

// countFrames runs the second ffprobe pass with -count_frames, decoding
// the stream to get the true frame total.
func (in *Inspector) countFrames(ctx context.Context, path string) (int64, error) {
	cmd := exec.CommandContext(ctx, in.FFprobePath,
		"-v", "quiet",
		"-count_frames",
		"-select_streams", "v:0",
		"-show_entries", "stream=nb_read_frames",
		"-print_format", "json",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe count_frames: %w", err)
	}

	var raw struct {
		Streams []struct {
			NbReadFrames string `json:"nb_read_frames"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return 0, fmt.Errorf("parse count_frames JSON: %w", err)
	}
	if len(raw.Streams) == 0 {
		return 0, fmt.Errorf("no video stream in %q", path)
	}
	return parseInt64(raw.Streams[0].NbReadFrames), nil
}

// ParseJSON converts raw ffprobe JSON output into VideoProperties.
// Exported for testing without a real ffprobe binary. FrameCount and
// Duration are finalized by the caller, which owns the decode pass.
func ParseJSON(data []byte) (*VideoProperties, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}
	if len(raw.Streams) == 0 {
		return nil, fmt.Errorf("no video stream found")
	}
	return buildProperties(&raw), nil
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
}

type ffprobeStream struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	PixFmt     string `json:"pix_fmt"`
	ColorRange string `json:"color_range"`
	RFrameRate string `json:"r_frame_rate"`
	TimeBase   string `json:"time_base"`
}

// --- Conversion from wire types to domain types ---

func buildProperties(raw *ffprobeOutput) *VideoProperties {
	s := &raw.Streams[0]
	p := &VideoProperties{
		Width:       s.Width,
		Height:      s.Height,
		FrameRate:   parseFrameRate(s.RFrameRate),
		PixelFormat: orUnknown(s.PixFmt),
		ColorRange:  orUnknown(s.ColorRange),
		TimeBase:    s.TimeBase,
		FileSize:    parseInt64(raw.Format.Size),
		Duration:    parseFloat(raw.Format.Duration),
	}
	p.Resolution = fmt.Sprintf("%dx%d", p.Width, p.Height)
	return p
}

// parseFrameRate converts ffprobe's rational "30000/1001" (or plain
// decimal) frame rate into a float. Returns 0 for a zero denominator.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n := parseFloat(num)
		d := parseFloat(den)
		if d == 0 {
			return 0
		}
		return n / d
	}
	return parseFloat(s)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
