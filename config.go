package slotlog

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cactus/go-statsd-client/statsd"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the registry settings.
//
// Environment variables override the file: SLOTLOG_MAX_SLOTS,
// SLOTLOG_SLOT_CAPACITY, SLOTLOG_FILE_DIR and SLOTLOG_STATSD_ADDR.
type Config struct {
	MaxSlots      int                        `yaml:"max_slots"`
	SlotCapacity  int                        `yaml:"slot_capacity"`
	MainThread    uint64                     `yaml:"main_thread"`
	AutoThreaded  bool                       `yaml:"auto_threaded"`
	FlushInterval time.Duration              `yaml:"flush_interval"`
	CheckInterval time.Duration              `yaml:"check_interval"`
	GracePeriod   time.Duration              `yaml:"grace_period"`
	DrainLimit    int                        `yaml:"drain_limit"`
	Suppression   SuppressionConfig          `yaml:"suppression"`
	Console       ConsoleConfig              `yaml:"console"`
	File          FileConfig                 `yaml:"file"`
	Statsd        StatsdConfig               `yaml:"statsd"`
	Levels        map[string]LevelFileConfig `yaml:"levels"`
}

type SuppressionConfig struct {
	Sites     int           `yaml:"sites"`
	Threshold int           `yaml:"threshold"`
	Interval  time.Duration `yaml:"interval"`
}

type ConsoleConfig struct {
	Enabled bool `yaml:"enabled"`
	Colors  bool `yaml:"colors"`
}

// FileConfig enables the rotating file sink when Dir is set.
type FileConfig struct {
	Dir        string `yaml:"dir"`
	Base       string `yaml:"base"`
	SplitMB    int    `yaml:"split_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// StatsdConfig enables statsd metrics when Addr is set.
type StatsdConfig struct {
	Addr   string  `yaml:"addr"`
	Prefix string  `yaml:"prefix"`
	Rate   float32 `yaml:"rate"`
}

// LevelFileConfig overrides the defaults of one level, keyed by level name.
// Unset keys keep the default.
type LevelFileConfig struct {
	Tag               *string `yaml:"tag"`
	Enable            *bool   `yaml:"enable"`
	PreventFrequent   *bool   `yaml:"prevent_frequent"`
	QuickFlush        *bool   `yaml:"quick_flush"`
	DateDir           *bool   `yaml:"date_dir"`
	Split             *bool   `yaml:"split"`
	OutputConsole     *bool   `yaml:"output_console"`
	OutputFile        *bool   `yaml:"output_file"`
	FormatTime        *bool   `yaml:"format_time"`
	FormatMillisecond *bool   `yaml:"format_millisecond"`
	FormatLineFeed    *bool   `yaml:"format_line_feed"`
	FormatLevel       *bool   `yaml:"format_level"`
	FormatFunction    *bool   `yaml:"format_function"`
	FormatFilename    *bool   `yaml:"format_filename"`
	FileName          *string `yaml:"filename"`
}

// LoadConfig reads a YAML configuration on top of DefaultConfig, applies the
// environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig mirrors the Init defaults with the console enabled and no
// file sink.
func DefaultConfig() *Config {
	return &Config{
		MaxSlots:      DEFAULT_MAX_SLOTS,
		SlotCapacity:  DEFAULT_SLOT_CAPACITY,
		MainThread:    uint64(DEFAULT_MAIN_THREAD),
		AutoThreaded:  true,
		FlushInterval: DEFAULT_FLUSH_INTERVAL,
		CheckInterval: DEFAULT_CHECK_INTERVAL,
		GracePeriod:   DEFAULT_GRACE_PERIOD,
		DrainLimit:    DEFAULT_DRAIN_LIMIT,
		Suppression: SuppressionConfig{
			Sites:     DEFAULT_SUPPRESS_SITES,
			Threshold: DEFAULT_SUPPRESS_THRESHOLD,
			Interval:  DEFAULT_SUPPRESS_INTERVAL,
		},
		Console: ConsoleConfig{Enabled: true},
		File: FileConfig{
			Base:    DEFAULT_FILE_BASE,
			SplitMB: DEFAULT_SPLIT_SIZE_MB,
		},
		Statsd: StatsdConfig{
			Prefix: "slotlog",
			Rate:   1,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	envInt := func(name string, dst *int) {
		v := os.Getenv(name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = n
	}
	envInt("SLOTLOG_MAX_SLOTS", &cfg.MaxSlots)
	envInt("SLOTLOG_SLOT_CAPACITY", &cfg.SlotCapacity)
	if v := os.Getenv("SLOTLOG_FILE_DIR"); v != "" {
		cfg.File.Dir = v
	}
	if v := os.Getenv("SLOTLOG_STATSD_ADDR"); v != "" {
		cfg.Statsd.Addr = v
	}
	return errors.Join(errs...)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.MaxSlots < 1 {
		errs = append(errs, "max_slots must be positive")
	}
	if c.SlotCapacity < 2 {
		errs = append(errs, "slot_capacity must be at least 2")
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, "flush_interval must be positive")
	}
	if c.CheckInterval <= 0 {
		errs = append(errs, "check_interval must be positive")
	}
	if c.GracePeriod < 0 {
		errs = append(errs, "grace_period must not be negative")
	}
	if c.DrainLimit < 1 {
		errs = append(errs, "drain_limit must be positive")
	}
	if c.Suppression.Sites < 1 {
		errs = append(errs, "suppression.sites must be positive")
	}
	if c.Suppression.Threshold < 1 {
		errs = append(errs, "suppression.threshold must be positive")
	}
	if c.Statsd.Rate <= 0 || c.Statsd.Rate > 1 {
		errs = append(errs, "statsd.rate must be in (0, 1]")
	}
	for name := range c.Levels {
		if _, ok := ParseLevel(name); !ok {
			errs = append(errs, "levels."+name+" is not a level name")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// LevelTable returns the default level table with the configured overrides.
func (c *Config) LevelTable() (*LevelTable, error) {
	t := DefaultLevels()
	for name, lc := range c.Levels {
		level, ok := ParseLevel(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
		}
		lc.apply(&t[level])
	}
	return t, nil
}

func (lc *LevelFileConfig) apply(cfg *LevelConfig) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	output := func(bit OutputMask, src *bool) {
		if src != nil {
			if *src {
				cfg.Output |= bit
			} else {
				cfg.Output &^= bit
			}
		}
	}
	format := func(bit FormatFlags, src *bool) {
		if src != nil {
			if *src {
				cfg.Format |= bit
			} else {
				cfg.Format &^= bit
			}
		}
	}
	if lc.Tag != nil {
		cfg.Tag = *lc.Tag
	}
	if lc.FileName != nil {
		cfg.FileName = *lc.FileName
	}
	set(&cfg.Enabled, lc.Enable)
	set(&cfg.PreventFrequent, lc.PreventFrequent)
	set(&cfg.QuickFlush, lc.QuickFlush)
	set(&cfg.DateDir, lc.DateDir)
	set(&cfg.Split, lc.Split)
	output(OUT_CONSOLE, lc.OutputConsole)
	output(OUT_FILE, lc.OutputFile)
	format(FMT_TIME, lc.FormatTime)
	format(FMT_MILLIS, lc.FormatMillisecond)
	format(FMT_NEWLINE, lc.FormatLineFeed)
	format(FMT_LEVEL, lc.FormatLevel)
	format(FMT_FUNCTION, lc.FormatFunction)
	format(FMT_FILE, lc.FormatFilename)
}

// Options converts the configuration into Init options. The console is
// os.Stdout when enabled; sinks that need resources are set up by
// InitFromConfig.
func (c *Config) Options() ([]Option, error) {
	levels, err := c.LevelTable()
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithMaxSlots(c.MaxSlots),
		WithSlotCapacity(c.SlotCapacity),
		WithMainThread(ThreadID(c.MainThread)),
		WithAutoThreadedFlush(c.AutoThreaded),
		WithFlushInterval(c.FlushInterval),
		WithCheckInterval(c.CheckInterval),
		WithGracePeriod(c.GracePeriod),
		WithDrainLimit(c.DrainLimit),
		WithSuppression(c.Suppression.Sites, c.Suppression.Threshold, c.Suppression.Interval),
		WithLevels(levels),
	}
	if c.Console.Enabled {
		opts = append(opts, WithConsole(os.Stdout))
	} else {
		opts = append(opts, WithConsole(nil))
	}
	if c.Console.Colors {
		opts = append(opts, WithConsoleColors(LevelColorOnBlackMap))
	}
	if c.File.Dir != "" {
		files := NewRotatingFiles(c.File.Dir, c.File.Base, c.File.SplitMB).WithMaxBackups(c.File.MaxBackups)
		opts = append(opts, WithFileSink(files))
	}
	return opts, nil
}

// InitFromConfig validates cfg and creates a registry from it. The statsd
// client, if configured, is closed by Shutdown. opts are applied after the
// configuration and win over it.
func InitFromConfig(cfg *Config, opts ...Option) (*Registry, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	all, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	if cfg.Statsd.Addr != "" {
		statter, err := statsd.NewClient(cfg.Statsd.Addr, cfg.Statsd.Prefix)
		if err != nil {
			return nil, fmt.Errorf("statsd client: %w", err)
		}
		all = append(all, WithStats(NewStatsdStats(statter, cfg.Statsd.Rate)))
	}
	return Init(append(all, opts...)...), nil
}
