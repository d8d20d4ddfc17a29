// Package config loads WeiBack's TOML configuration file and hands out
// immutable snapshots so a long-running job never observes a config value
// changing mid-flight.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
)

// SDKConfig tunes the paging/retry behavior of calls made against the
// remote weibo API.
type SDKConfig struct {
	FavCount    int `toml:"fav_count"`
	StatusCount int `toml:"status_count"`
	RetryTimes  int `toml:"retry_times"`
}

// Config is WeiBack's full runtime configuration, loaded from config.toml.
type Config struct {
	DBPath              string    `toml:"db_path"`
	SessionPath         string    `toml:"session_path"`
	PicturePath         string    `toml:"picture_path"`
	VideoPath           string    `toml:"video_path"`
	DownloadPictures    bool      `toml:"download_pictures"`
	PictureDefinition   string    `toml:"picture_definition"`
	BackupTaskInterval  Duration  `toml:"backup_task_interval"`
	OtherTaskInterval   Duration  `toml:"other_task_interval"`
	PostsPerHTML        int       `toml:"posts_per_html"`
	SDK                 SDKConfig `toml:"sdk_config"`
	DevModeOutDir       string    `toml:"dev_mode_out_dir,omitempty"`
}

// Duration lets the TOML file spell intervals as "500ms" or "2s" while
// storing a plain time.Duration for the rest of the program to use.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns the configuration WeiBack starts with when no
// config.toml exists yet.
func Default() *Config {
	return &Config{
		DBPath:             "./weiback.db",
		SessionPath:        "./session",
		PicturePath:        "./media/pictures",
		VideoPath:          "./media/videos",
		DownloadPictures:   true,
		PictureDefinition:  "large",
		BackupTaskInterval: Duration(2 * time.Second),
		OtherTaskInterval:  Duration(500 * time.Millisecond),
		PostsPerHTML:       50,
		SDK: SDKConfig{
			FavCount:    20,
			StatusCount: 20,
			RetryTimes:  3,
		},
	}
}

// Load reads and parses a config.toml file. A missing file is not an
// error: callers get Default() back so a bare `weiback` invocation still
// runs against sane defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg back out as config.toml.
func Save(path string, cfg *Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create config %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config %s: %w", path, err)
	}
	return nil
}

// Store holds the current Config behind an atomic pointer. Jobs call
// Snapshot() once at start and use that copy for their whole run, so a
// concurrent SetConfig from another command never changes behavior
// mid-job.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore wraps an already-loaded Config for atomic hand-out.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.current.Store(cfg)
	return s
}

// Snapshot returns the Config in effect right now, as a value copy.
func (s *Store) Snapshot() Config {
	return *s.current.Load()
}

// Set atomically replaces the effective Config for future snapshots.
func (s *Store) Set(cfg *Config) {
	s.current.Store(cfg)
}
