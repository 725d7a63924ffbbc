// Package config holds runtime configuration: defaults, TOML file
// loading, and validation. Precedence is CLI flags > config file >
// defaults; the flag layer is applied by the CLI after [Load].
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

// Device selects where script backends run their models.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
	DeviceMPS  Device = "mps"
)

// Config holds all runtime settings. It is populated by [DefaultConfig],
// optionally merged from a TOML file by [Load], and then mutated by CLI
// flag handling before being passed (by pointer) to packages that need
// it.
type Config struct {
	// External tools ([tools] table).
	FFmpegPath  string
	FFprobePath string
	VMAFPath    string
	PythonPath  string
	ScriptRoot  string

	// Execution ([run] table).
	Workers int
	Device  Device
	Threads int  // 0 = auto
	Rebuild bool // --rebuild only, never from file

	// Logging ([log] table).
	Verbose bool
	LogFile string
}

// DefaultConfig returns a Config with the stock tool names and a worker
// count sized to the machine.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		VMAFPath:    "vmaf",
		PythonPath:  "python3",
		ScriptRoot:  "",
		Workers:     max(1, runtime.NumCPU()/2),
		Device:      DeviceCPU,
		Threads:     0,
	}
}

// Load merges the TOML file at path into cfg. A missing file is only an
// error when the path was given explicitly (explicit=true); the default
// config location is allowed to be absent.
func Load(path string, explicit bool, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", path, err)
	}

	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}

	applyString(raw, "tools.ffmpeg", &cfg.FFmpegPath)
	applyString(raw, "tools.ffprobe", &cfg.FFprobePath)
	applyString(raw, "tools.vmaf", &cfg.VMAFPath)
	applyString(raw, "tools.python", &cfg.PythonPath)
	applyString(raw, "tools.script_root", &cfg.ScriptRoot)
	applyInt(raw, "run.workers", &cfg.Workers)
	applyInt(raw, "run.threads", &cfg.Threads)
	applyBool(raw, "log.verbose", &cfg.Verbose)
	applyString(raw, "log.file", &cfg.LogFile)

	var device string
	applyString(raw, "run.device", &device)
	if device != "" {
		cfg.Device = Device(device)
	}
	return nil
}

// ApplyFlags overlays the execution flags that were explicitly set on
// the command line. Flags left at their default never clobber file or
// built-in values.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	if fs.Changed("workers") {
		v, err := fs.GetInt("workers")
		if err != nil {
			return err
		}
		cfg.Workers = v
	}
	if fs.Changed("device") {
		v, err := fs.GetString("device")
		if err != nil {
			return err
		}
		cfg.Device = Device(v)
	}
	if fs.Changed("threads") {
		v, err := fs.GetInt("threads")
		if err != nil {
			return err
		}
		cfg.Threads = v
	}
	if fs.Changed("rebuild") {
		v, err := fs.GetBool("rebuild")
		if err != nil {
			return err
		}
		cfg.Rebuild = v
	}
	return nil
}

// Validate checks enum fields and numeric ranges.
func (c *Config) Validate() error {
	switch c.Device {
	case DeviceCPU, DeviceCUDA, DeviceMPS:
		// valid
	default:
		return errors.New("invalid device (use 'cpu', 'cuda' or 'mps')")
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.Threads < 0 {
		return errors.New("threads must not be negative")
	}
	return nil
}

// DefaultPath is the stock config file location, resolved against the
// user config directory when available.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "vqbench.toml"
	}
	return dir + string(os.PathSeparator) + "vqbench" + string(os.PathSeparator) + "vqbench.toml"
}

// nestedValue walks a dotted path through nested TOML tables.
func nestedValue(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data
	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

func applyString(data map[string]any, path string, dst *string) {
	if v, ok := nestedValue(data, path).(string); ok {
		*dst = v
	}
}

func applyInt(data map[string]any, path string, dst *int) {
	if v, ok := nestedValue(data, path).(int64); ok {
		*dst = int(v)
	}
}

func applyBool(data map[string]any, path string, dst *bool) {
	if v, ok := nestedValue(data, path).(bool); ok {
		*dst = v
	}
}
