package display

import (
	"fmt"
	"strings"

	"github.com/backmassage/vqbench/internal/probe"
)

// PropertyTable renders a side-by-side comparison of reference and
// distorted stream properties, one attribute per row.
func PropertyTable(ref, dist *probe.VideoProperties) string {
	var b strings.Builder
	row := func(attr, r, d string) {
		fmt.Fprintf(&b, "%-15s %-15s %-15s\n", attr, r, d)
	}

	row("ATTRIBUTE", "REFERENCE", "DISTORTED")
	row("Resolution", ref.Resolution, dist.Resolution)
	row("Framerate", fmt.Sprintf("%.3f fps", ref.FrameRate), fmt.Sprintf("%.3f fps", dist.FrameRate))
	row("Frame count", fmt.Sprintf("%d", ref.FrameCount), fmt.Sprintf("%d", dist.FrameCount))
	row("Duration", FormatDuration(ref.Duration), FormatDuration(dist.Duration))
	row("Pixel format", ref.PixelFormat, dist.PixelFormat)
	row("Color range", ref.ColorRange, dist.ColorRange)
	row("File size", FormatBytes(ref.FileSize), FormatBytes(dist.FileSize))
	return b.String()
}

// PropertyList renders one video's properties, one attribute per row.
func PropertyList(p *probe.VideoProperties) string {
	var b strings.Builder
	row := func(attr, v string) {
		fmt.Fprintf(&b, "%-15s %s\n", attr, v)
	}

	row("Resolution", p.Resolution)
	row("Framerate", fmt.Sprintf("%.3f fps", p.FrameRate))
	row("Frame count", fmt.Sprintf("%d", p.FrameCount))
	row("Duration", FormatDuration(p.Duration))
	row("Pixel format", p.PixelFormat)
	row("Color range", p.ColorRange)
	row("Time base", p.TimeBase)
	row("File size", FormatBytes(p.FileSize))
	return b.String()
}
