package music

import "time"

// Config is the music module configuration.
type Config struct {
	// CacheDir holds downloaded audio.
	CacheDir string `yaml:"cache_dir" default:"audio_cache"`

	// SweepSchedule is a cron spec for the cache directory sweep.
	SweepSchedule string `yaml:"sweep_schedule" default:"@every 10m"`

	// MaxAge is how long an unqueued download is kept.
	MaxAge time.Duration `yaml:"max_age" default:"24h"`

	// MaxEntries bounds the number of ready downloads.
	MaxEntries int `yaml:"max_entries" default:"256"`

	// ProductionTimeout bounds a single download.
	ProductionTimeout time.Duration `yaml:"production_timeout" default:"5m"`
}
