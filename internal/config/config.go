package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	appLog "lifecal/internal/log"
)

// RegionConfig seeds a life-area region on first run.
type RegionConfig struct {
	Name  string `yaml:"name" json:"name"`
	Color string `yaml:"color" json:"color"`
}

// SubscriptionConfig describes an external ICS feed imported into a
// calendar source.
type SubscriptionConfig struct {
	// ID is an internal identifier used for logging and cache keys.
	ID string `yaml:"id" json:"id"`
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// Source is the name of the calendar source receiving the events.
	Source string `yaml:"source" json:"source"`
}

// TaskBlockConfig controls the placeholder event created for a task due date.
type TaskBlockConfig struct {
	// Start is a wall-clock "HH:MM" on the due date.
	Start string `yaml:"start" json:"start"`
	// Minutes is the block length.
	Minutes int `yaml:"minutes" json:"minutes"`
	// KeepManualTime keeps a block the user moved within its due date
	// instead of resetting it to Start on the next sync.
	KeepManualTime bool `yaml:"keep_manual_time" json:"keep_manual_time"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for day boundaries and task blocks.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday begins the THIS_WEEK due-date bucket.
	// Supported values: "monday" (default), "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is the cron spec (5 fields) for subscription refresh and
	// task/event reconciliation.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// Database is the SQLite file path.
	Database string `yaml:"database" json:"database"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Regions are seeded once; each gets its own calendar source.
	Regions []RegionConfig `yaml:"regions" json:"regions"`

	// OperationsSource names the calendar source that receives task events.
	OperationsSource string `yaml:"operations_source" json:"operations_source"`

	TaskBlock TaskBlockConfig `yaml:"task_block" json:"task_block"`

	// MaxOccurrences caps recurrence expansion per root event and query.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	// Subscriptions lists external ICS feeds.
	Subscriptions []SubscriptionConfig `yaml:"subscriptions" json:"subscriptions"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultRefresh        = "*/15 * * * *"
	defaultDatabase       = "./var/lifecal.db"
	defaultOperations     = "Operations"
	defaultTaskBlockStart = "09:00"
	defaultTaskBlockMins  = 60
	defaultMaxOccurrences = 5000
)

func defaultRegions() []RegionConfig {
	return []RegionConfig{
		{Name: "Health", Color: "#2e7d32"},
		{Name: "Family", Color: "#ef6c00"},
		{Name: "Finance", Color: "#6a1b9a"},
		{Name: "Learning", Color: "#1565c0"},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:           defaultListen,
		Timezone:         defaultTimezone,
		WeekStart:        "monday",
		RefreshCron:      defaultRefresh,
		Database:         defaultDatabase,
		LogLevel:         "info",
		Regions:          defaultRegions(),
		OperationsSource: defaultOperations,
		TaskBlock:        TaskBlockConfig{Start: defaultTaskBlockStart, Minutes: defaultTaskBlockMins},
		MaxOccurrences:   defaultMaxOccurrences,
		Subscriptions:    []SubscriptionConfig{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = "monday"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Regions == nil {
		c.Regions = defaultRegions()
	}
	if c.OperationsSource == "" {
		c.OperationsSource = defaultOperations
	}
	if _, _, err := parseClock(c.TaskBlock.Start); err != nil {
		c.TaskBlock.Start = defaultTaskBlockStart
	}
	if c.TaskBlock.Minutes <= 0 {
		c.TaskBlock.Minutes = defaultTaskBlockMins
	}
	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = defaultMaxOccurrences
	}
	if c.Subscriptions == nil {
		c.Subscriptions = []SubscriptionConfig{}
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves Timezone, falling back to UTC for unknown names.
// Load rejects those, so the fallback only covers hand-built configs.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		appLog.Warn("unknown timezone, using UTC", "timezone", c.Timezone)
		return time.UTC
	}
	return loc
}

// FirstWeekday returns the weekday that starts a calendar week.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// TaskBlockOffset returns the task block start as an offset from midnight
// and the block length.
func (c *Config) TaskBlockOffset() (time.Duration, time.Duration) {
	h, m, err := parseClock(c.TaskBlock.Start)
	if err != nil {
		h, m, _ = parseClock(defaultTaskBlockStart)
	}
	mins := c.TaskBlock.Minutes
	if mins <= 0 {
		mins = defaultTaskBlockMins
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, time.Duration(mins) * time.Minute
}

func parseClock(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//   - reject an unknown timezone
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory with 0700 if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".lifecal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
