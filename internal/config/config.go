package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fixturecal/internal/fsutil"
)

// calendarIDPattern matches the ids that can be used both as a file name
// and in the /calendars/{id}.ics route.
var calendarIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Environment variables that override secrets from the YAML file.
const (
	EnvDatabaseDSN       = "FIXTURECAL_DATABASE_DSN"
	EnvNATSURL           = "FIXTURECAL_NATS_URL"
	EnvBasicAuthPassword = "FIXTURECAL_BASIC_AUTH_PASSWORD"
)

// LogConfig selects the log level and handler format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DatabaseConfig selects the game repository backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
}

// RemoteConfig selects the calendar store games are published to.
type RemoteConfig struct {
	// Driver is "ics" (one ICS file per calendar under Dir) or "memory".
	Driver string `yaml:"driver" json:"driver"`
	Dir    string `yaml:"dir" json:"dir"`
}

// SyncConfig tunes the sync driver.
type SyncConfig struct {
	// Workers bounds how many calendars are reconciled concurrently.
	Workers int `yaml:"workers" json:"workers"`
}

// ViewConfig describes one calendar view over the game set.
type ViewConfig struct {
	ID          string `yaml:"id" json:"id"`
	CalendarID  string `yaml:"calendar_id" json:"calendar_id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`

	// Select is one of all, attended, unattended, home, away, tickets.
	Select string `yaml:"select" json:"select"`
	// Project is date_played or tickets_on_sale.
	Project string `yaml:"project" json:"project"`
	// Duration of each calendar entry, e.g. "2h".
	Duration string `yaml:"duration" json:"duration"`
	// Transparency is opaque (busy) or transparent (free).
	Transparency string `yaml:"transparency" json:"transparency"`
	TitlePrefix  string `yaml:"title_prefix,omitempty" json:"title_prefix,omitempty"`
}

// AttendanceConfig names the two views an attend/unattend toggle moves a
// game between.
type AttendanceConfig struct {
	AttendedView   string `yaml:"attended_view" json:"attended_view"`
	UnattendedView string `yaml:"unattended_view" json:"unattended_view"`
}

// FeedConfig describes a fixture ICS feed used to import candidate games.
type FeedConfig struct {
	ID          string `yaml:"id" json:"id"`
	URL         string `yaml:"url" json:"url"`
	Club        string `yaml:"club" json:"club"`
	Competition string `yaml:"competition" json:"competition"`
	Season      int    `yaml:"season" json:"season"`
}

// NATSConfig enables publication of sync reports. Empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url" json:"-"`
	Subject string `yaml:"subject" json:"subject"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone cron schedules and feed dates are read in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is the cron schedule for periodic syncs (e.g. "*/30 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir stores fixture feed HTTP cache entries.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Log        LogConfig        `yaml:"log" json:"log"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Remote     RemoteConfig     `yaml:"remote" json:"remote"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
	Views      []ViewConfig     `yaml:"views" json:"views"`
	Attendance AttendanceConfig `yaml:"attendance" json:"attendance"`
	Feeds      []FeedConfig     `yaml:"feeds" json:"feeds"`
	NATS       NATSConfig       `yaml:"nats" json:"nats"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration with the
// standard views (all, home, attended, unattended, tickets).
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Europe/London",
		RefreshCron: "*/30 * * * *",
		CacheDir:    "/var/lib/fixturecal/feed-cache",
		Log:         LogConfig{Level: "info", Format: "text"},
		Database:    DatabaseConfig{Driver: "sqlite", DSN: "/var/lib/fixturecal/games.db"},
		Remote:      RemoteConfig{Driver: "ics", Dir: "/var/lib/fixturecal/calendars"},
		Sync:        SyncConfig{Workers: 4},
		Views: []ViewConfig{
			{ID: "all", CalendarID: "all", Title: "All games", Select: "all", Project: "date_played", Duration: "2h", Transparency: "transparent"},
			{ID: "home", CalendarID: "home", Title: "Home games", Select: "home", Project: "date_played", Duration: "2h", Transparency: "transparent"},
			{ID: "attended", CalendarID: "attended", Title: "Attended games", Select: "attended", Project: "date_played", Duration: "2h", Transparency: "opaque"},
			{ID: "unattended", CalendarID: "unattended", Title: "Unattended games", Select: "unattended", Project: "date_played", Duration: "2h", Transparency: "transparent"},
			{ID: "tickets", CalendarID: "tickets", Title: "Ticket sales", Select: "tickets", Project: "tickets_on_sale", Duration: "1h", Transparency: "transparent", TitlePrefix: "Tickets:"},
		},
		Attendance: AttendanceConfig{AttendedView: "attended", UnattendedView: "unattended"},
		Feeds:      []FeedConfig{},
		NATS:       NATSConfig{Subject: "fixturecal.changes"},
		BasicAuth:  nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = def.Database.DSN
	}
	if c.Remote.Driver == "" {
		c.Remote.Driver = def.Remote.Driver
	}
	if c.Remote.Dir == "" {
		c.Remote.Dir = def.Remote.Dir
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = def.Sync.Workers
	}
	if c.Views == nil {
		c.Views = def.Views
	}
	for i := range c.Views {
		v := &c.Views[i]
		if v.CalendarID == "" {
			v.CalendarID = v.ID
		}
		if v.Select == "" {
			v.Select = "all"
		}
		if v.Project == "" {
			v.Project = "date_played"
		}
		if v.Duration == "" {
			v.Duration = "2h"
		}
		if v.Transparency == "" {
			v.Transparency = "opaque"
		}
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = def.NATS.Subject
	}
}

// Validate reports configuration mistakes that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is empty"))
	}
	switch c.Remote.Driver {
	case "ics", "memory":
	default:
		errs = append(errs, fmt.Errorf("remote.driver %q: want ics or memory", c.Remote.Driver))
	}

	seen := make(map[string]bool, len(c.Views))
	calendars := make(map[string]string, len(c.Views))
	for _, v := range c.Views {
		if v.ID == "" {
			errs = append(errs, errors.New("view with empty id"))
			continue
		}
		if seen[v.ID] {
			errs = append(errs, fmt.Errorf("duplicate view id %q", v.ID))
		}
		seen[v.ID] = true
		if !calendarIDPattern.MatchString(v.CalendarID) {
			errs = append(errs, fmt.Errorf("view %q: calendar_id %q may only contain letters, digits, '-' and '_'", v.ID, v.CalendarID))
		}
		// Calendar files may live on a case-insensitive filesystem.
		key := strings.ToLower(v.CalendarID)
		if other, ok := calendars[key]; ok {
			errs = append(errs, fmt.Errorf("views %q and %q share calendar %q", other, v.ID, v.CalendarID))
		}
		calendars[key] = v.ID

		switch v.Select {
		case "all", "attended", "unattended", "home", "away", "tickets":
		default:
			errs = append(errs, fmt.Errorf("view %q: unknown select %q", v.ID, v.Select))
		}
		switch v.Project {
		case "date_played", "tickets_on_sale":
		default:
			errs = append(errs, fmt.Errorf("view %q: unknown project %q", v.ID, v.Project))
		}
		switch v.Transparency {
		case "opaque", "transparent":
		default:
			errs = append(errs, fmt.Errorf("view %q: unknown transparency %q", v.ID, v.Transparency))
		}
		if d, err := time.ParseDuration(v.Duration); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("view %q: invalid duration %q", v.ID, v.Duration))
		}
	}

	for _, name := range []string{c.Attendance.AttendedView, c.Attendance.UnattendedView} {
		if name != "" && !seen[name] {
			errs = append(errs, fmt.Errorf("attendance refers to unknown view %q", name))
		}
	}

	for _, f := range c.Feeds {
		if f.URL == "" || f.Club == "" {
			errs = append(errs, fmt.Errorf("feed %q: url and club are required", f.ID))
		}
	}

	return errors.Join(errs...)
}

// ApplyEnv overrides secrets from the environment, if set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabaseDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv(EnvBasicAuthPassword); v != "" {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{Username: "admin"}
		}
		c.BasicAuth.Password = v
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
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
//
// Environment overrides are applied after normalization in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, ".fixturecal-config-*.tmp")
}

// Save is a convenience method on Config that delegates to the
// package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
