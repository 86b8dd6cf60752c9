package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/maxpert/selfdiag/encoding"
	"github.com/maxpert/selfdiag/source"
	"github.com/rs/zerolog/log"
)

// Ring file size limits in KB, applied by clamping rather than rejecting
const (
	MinFileSizeKB = 1024
	MaxFileSizeKB = 128 * 1024
)

// Scratch buffer limits. The minimum leaves room for the longest timestamp,
// the separator and the newline.
const (
	DefaultScratchBufferSize = 20480
	MinScratchBufferSize     = 64
	MaxScratchBufferSize     = 1 << 20
)

// DiagnosticsConfiguration controls what is recorded and where
type DiagnosticsConfiguration struct {
	Enabled           bool     `toml:"enabled"`
	LogDirectory      string   `toml:"log_directory"`
	FileSizeKB        int      `toml:"file_size_kb"`
	LogLevel          string   `toml:"log_level"`
	SourcePatterns    []string `toml:"source_patterns"`
	TimeKind          string   `toml:"time_kind"` // "utc", "local" or "unspecified"
	ScratchBufferSize int      `toml:"scratch_buffer_size"`
	RefreshIntervalMS int      `toml:"refresh_interval_ms"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled           bool `toml:"enabled"`
	CollectIntervalMS int  `toml:"collect_interval_ms"`
}

// AdminConfiguration for the HTTP admin endpoint
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // empty disables authentication
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID uint64 `toml:"instance_id"`

	Diagnostics DiagnosticsConfiguration `toml:"diagnostics"`
	Logging     LoggingConfiguration     `toml:"logging"`
	Prometheus  PrometheusConfiguration  `toml:"prometheus"`
	Admin       AdminConfiguration       `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "selfdiag.toml", "Path to configuration file")
	LogDirFlag     = flag.String("log-dir", "", "Diagnostics log directory (overrides config)")
	InstanceIDFlag = flag.Uint64("instance-id", 0, "Instance ID (overrides config, 0=auto)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	DumpFlag       = flag.String("dump", "", "Print the ordered contents of a ring file and exit")
	CompressFlag   = flag.Bool("compress", false, "With -dump, write zstd-compressed output")
)

// Defaults returns a fresh copy of the default configuration
func Defaults() *Configuration {
	return &Configuration{
		InstanceID: 0, // Auto-generate

		Diagnostics: DiagnosticsConfiguration{
			Enabled:           true,
			LogDirectory:      "./selfdiag-logs",
			FileSizeKB:        MinFileSizeKB,
			LogLevel:          "warning",
			SourcePatterns:    []string{"Telemetry-*"},
			TimeKind:          "utc",
			ScratchBufferSize: DefaultScratchBufferSize,
			RefreshIntervalMS: 10000,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled:           true,
			CollectIntervalMS: 5000,
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        9470,
		},
	}
}

// Default configuration
var Config = Defaults()

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *LogDirFlag != "" {
		Config.Diagnostics.LogDirectory = *LogDirFlag
	}
	if *InstanceIDFlag != 0 {
		Config.InstanceID = *InstanceIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	Config.Diagnostics.Normalize()

	// Auto-generate instance ID if not set
	if Config.InstanceID == 0 {
		Config.InstanceID = generateInstanceID()
		log.Info().Uint64("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	return nil
}

// Parse reads a configuration file on top of the defaults without touching
// the global Config. The recorder uses it to pick up changes at runtime.
func Parse(configPath string) (*Configuration, error) {
	c := Defaults()
	if _, err := toml.DecodeFile(configPath, c); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", configPath, err)
	}
	c.Diagnostics.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the diagnostics section from configPath with the same
// command line overrides Load applies
func Reload(configPath string) (*DiagnosticsConfiguration, error) {
	c, err := Parse(configPath)
	if err != nil {
		return nil, err
	}
	if *LogDirFlag != "" {
		c.Diagnostics.LogDirectory = *LogDirFlag
	}
	return &c.Diagnostics, nil
}

// generateInstanceID creates a stable instance ID based on machine ID,
// falling back to the hostname on machines without one
func generateInstanceID() uint64 {
	h := fnv.New64a()

	id, err := machineid.ProtectedID("selfdiag")
	if err != nil {
		hostname, herr := os.Hostname()
		if herr != nil {
			hostname = "localhost"
		}
		log.Warn().Err(err).Str("hostname", hostname).Msg("Machine ID unavailable, deriving instance ID from hostname")
		id = hostname
	}

	h.Write([]byte(id))
	return h.Sum64()
}

// Normalize clamps out-of-range sizes and fills zero values with defaults
func (d *DiagnosticsConfiguration) Normalize() {
	if d.FileSizeKB < MinFileSizeKB {
		d.FileSizeKB = MinFileSizeKB
	}
	if d.FileSizeKB > MaxFileSizeKB {
		d.FileSizeKB = MaxFileSizeKB
	}
	if d.ScratchBufferSize == 0 {
		d.ScratchBufferSize = DefaultScratchBufferSize
	}
	if d.RefreshIntervalMS <= 0 {
		d.RefreshIntervalMS = 10000
	}
}

// Level returns the parsed severity threshold
func (d *DiagnosticsConfiguration) Level() source.Level {
	lvl, err := source.ParseLevel(d.LogLevel)
	if err != nil {
		return source.LevelWarning
	}
	return lvl
}

// Kind returns the parsed timestamp kind
func (d *DiagnosticsConfiguration) Kind() encoding.TimeKind {
	kind, err := encoding.ParseTimeKind(d.TimeKind)
	if err != nil {
		return encoding.KindUTC
	}
	return kind
}

// FileSizeBytes returns the ring capacity in bytes
func (d *DiagnosticsConfiguration) FileSizeBytes() int64 {
	return int64(d.FileSizeKB) * 1024
}

// RefreshInterval returns how often the config file is re-read
func (d *DiagnosticsConfiguration) RefreshInterval() time.Duration {
	return time.Duration(d.RefreshIntervalMS) * time.Millisecond
}

// Validate checks the global configuration for errors
func Validate() error {
	return Config.Validate()
}

// Validate checks configuration for errors
func (c *Configuration) Validate() error {
	if err := c.Diagnostics.Validate(); err != nil {
		return err
	}

	if c.Logging.Format != "" && c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Prometheus.Enabled && c.Prometheus.CollectIntervalMS < 1 {
		return fmt.Errorf("prometheus collect interval must be >= 1ms")
	}

	if c.Admin.Enabled && (c.Admin.Port < 1 || c.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", c.Admin.Port)
	}

	return nil
}

// Validate checks the diagnostics section on its own, so a refreshed section
// can be rejected without touching the rest of the configuration
func (d *DiagnosticsConfiguration) Validate() error {
	if d.Enabled && d.LogDirectory == "" {
		return fmt.Errorf("diagnostics log directory is required")
	}

	if _, err := source.ParseLevel(d.LogLevel); err != nil {
		return fmt.Errorf("invalid diagnostics log level: %w", err)
	}

	if _, err := encoding.ParseTimeKind(d.TimeKind); err != nil {
		return fmt.Errorf("invalid diagnostics time kind: %w", err)
	}

	if _, err := source.NewNameFilter(d.SourcePatterns); err != nil {
		return err
	}

	if d.ScratchBufferSize < MinScratchBufferSize || d.ScratchBufferSize > MaxScratchBufferSize {
		return fmt.Errorf("scratch buffer size must be between %d and %d bytes, got %d",
			MinScratchBufferSize, MaxScratchBufferSize, d.ScratchBufferSize)
	}

	if int64(d.ScratchBufferSize) > d.FileSizeBytes() {
		return fmt.Errorf("scratch buffer size %d exceeds ring size %d", d.ScratchBufferSize, d.FileSizeBytes())
	}

	return nil
}
