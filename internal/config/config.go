// Package config loads catbike's TOML configuration. Every key can be
// overridden from the environment as CATBIKE_<SECTION>_<KEY>.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/rotblauer/catbike/internal/period"
	"github.com/rotblauer/catbike/internal/trips"
)

const EnvPrefix = "CATBIKE"

type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Prefs    PrefsConfig    `mapstructure:"prefs"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Calendar CalendarConfig `mapstructure:"calendar"`
	DebugLog DebugLogConfig `mapstructure:"debuglog"`
	Log      LogConfig      `mapstructure:"log"`
	Units    UnitsConfig    `mapstructure:"units"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // sqlite or postgres
	Path        string `mapstructure:"path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

type PrefsConfig struct {
	Backend       string `mapstructure:"backend"` // file, memory or redis
	Path          string `mapstructure:"path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Namespace     string `mapstructure:"namespace"`
}

type TrackerConfig struct {
	GracePeriod           time.Duration `mapstructure:"grace_period"`
	MovingNotOnBikePeriod time.Duration `mapstructure:"moving_not_on_bike_period"`
	LongInterval          time.Duration `mapstructure:"long_interval"`
	ShortInterval         time.Duration `mapstructure:"short_interval"`
	PersistTimeout        time.Duration `mapstructure:"persist_timeout"`
	// StatsIndex is the instant period totals filter on: start or commit.
	StatsIndex string `mapstructure:"stats_index"`
}

type CalendarConfig struct {
	WeekStart string `mapstructure:"week_start"`
	Timezone  string `mapstructure:"timezone"`
}

type DebugLogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type UnitsConfig struct {
	Miles bool `mapstructure:"miles"`
}

// DefaultPath is $XDG_CONFIG_HOME/catbike/config.toml, falling back to
// ~/.config.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "catbike", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "catbike", "config.toml")
}

// DataDir is where the trip database, preferences and trip log live by
// default.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "catbike")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "catbike")
}

func defaults() map[string]interface{} {
	data := DataDir()
	return map[string]interface{}{
		"store.driver":       trips.DriverSQLite,
		"store.path":         filepath.Join(data, "trips.db"),
		"store.postgres_url": "",

		"prefs.backend":        "file",
		"prefs.path":           filepath.Join(data, "prefs.yaml"),
		"prefs.redis_addr":     "localhost:6379",
		"prefs.redis_password": "",
		"prefs.redis_db":       0,
		"prefs.namespace":      "catbike",

		"tracker.grace_period":              "3m",
		"tracker.moving_not_on_bike_period": "2m",
		"tracker.long_interval":             "60s",
		"tracker.short_interval":            "10s",
		"tracker.persist_timeout":           "10s",
		"tracker.stats_index":               "start",

		"calendar.week_start": "sunday",
		"calendar.timezone":   "Local",

		"debuglog.enabled": false,
		"debuglog.path":    filepath.Join(data, "trip.log"),

		"log.level":  "info",
		"log.format": "text",

		"units.miles": false,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("toml")
	return v
}

// Load reads path, or DefaultPath when empty. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Settings returns the effective settings for path, environment overrides
// applied, as nested sections.
func Settings(path string) (map[string]interface{}, error) {
	if path == "" {
		path = DefaultPath()
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return v.AllSettings(), nil
}

// Validate checks enumerations and names that are only resolved later.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case trips.DriverSQLite, trips.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	switch c.Prefs.Backend {
	case "file", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("prefs.backend: unknown backend %q", c.Prefs.Backend))
	}
	if _, err := c.StatsIndex(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.PeriodCalendar(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	for name, d := range map[string]time.Duration{
		"tracker.grace_period":              c.Tracker.GracePeriod,
		"tracker.moving_not_on_bike_period": c.Tracker.MovingNotOnBikePeriod,
		"tracker.long_interval":             c.Tracker.LongInterval,
		"tracker.short_interval":            c.Tracker.ShortInterval,
		"tracker.persist_timeout":           c.Tracker.PersistTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) StatsIndex() (trips.Index, error) {
	switch strings.ToLower(c.Tracker.StatsIndex) {
	case "", "start":
		return trips.ByStart, nil
	case "commit":
		return trips.ByCommit, nil
	}
	return 0, fmt.Errorf("tracker.stats_index: unknown index %q", c.Tracker.StatsIndex)
}

// PeriodCalendar resolves the [calendar] section.
func (c *Config) PeriodCalendar() (period.Calendar, error) {
	day, err := period.ParseWeekday(c.Calendar.WeekStart)
	if err != nil {
		return period.Calendar{}, fmt.Errorf("calendar.week_start: %w", err)
	}
	loc := time.Local
	if tz := c.Calendar.Timezone; tz != "" && tz != "Local" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return period.Calendar{}, fmt.Errorf("calendar.timezone: %w", err)
		}
	}
	return period.Calendar{FirstDay: day, Location: loc}, nil
}

func (c *Config) LogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return l, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Logger builds the process logger described by [log].
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := c.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// TripStoreOptions maps [store] onto the trip store options.
func (c *Config) TripStoreOptions() trips.Options {
	return trips.Options{
		Driver:      c.Store.Driver,
		Path:        c.Store.Path,
		PostgresURL: c.Store.PostgresURL,
	}
}

// Defaults returns the default settings as nested sections.
func Defaults() map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range defaults() {
		section, key, _ := strings.Cut(k, ".")
		m, ok := out[section].(map[string]interface{})
		if !ok {
			m = make(map[string]interface{})
			out[section] = m
		}
		m[key] = v
	}
	return out
}

// Print writes the defaults as a TOML document.
func Print(w io.Writer) error {
	fmt.Fprintln(w, "# catbike configuration")
	fmt.Fprintf(w, "# Every key can be overridden with %s_<SECTION>_<KEY>.\n\n", EnvPrefix)
	return toml.NewEncoder(w).Encode(Defaults())
}

// CreateDefault writes the default configuration to path, or DefaultPath
// when empty. An existing file is left alone.
func CreateDefault(path string) (string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("config file already exists: %s", path)
	}
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := Print(f); err != nil {
		return "", err
	}
	return path, nil
}

// UnknownKeys lists keys in the file at path that catbike does not read,
// as section.key, sorted.
func UnknownKeys(path string) ([]string, error) {
	var doc map[string]interface{}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	known := defaults()
	var out []string
	for section, v := range doc {
		m, ok := v.(map[string]interface{})
		if !ok {
			out = append(out, section)
			continue
		}
		for key := range m {
			if _, ok := known[section+"."+key]; !ok {
				out = append(out, section+"."+key)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
