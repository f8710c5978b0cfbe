package config

import (
	"github.com/sirupsen/logrus"

	"movedit/core"
)

// Config holds engine and CLI settings
type Config struct {
	LogLevel       string `yaml:"log_level"`        // logrus level name
	MovieTimeScale int32  `yaml:"movie_time_scale"` // time scale of empty movies

	// Media time scales for new tracks
	Media MediaConfig `yaml:"media"`

	// Flatten defaults
	Flatten FlattenConfig `yaml:"flatten"`
}

// MediaConfig holds the time scales given to newly created media
type MediaConfig struct {
	VideoTimeScale int32 `yaml:"video_time_scale"`
	AudioTimeScale int32 `yaml:"audio_time_scale"`
	TextTimeScale  int32 `yaml:"text_time_scale"`
}

// FlattenConfig holds the default layout of flattened files
type FlattenConfig struct {
	Interleave     bool    `yaml:"interleave"`
	ChunkSeconds   float64 `yaml:"chunk_seconds"`    // 0 = engine default
	MovieDataFirst bool    `yaml:"movie_data_first"` // write moov after mdat
}

// DefaultConfig returns configuration with the engine defaults
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       "warning",
		MovieTimeScale: core.DefaultMovieTimeScale,
		Media: MediaConfig{
			VideoTimeScale: core.DefaultVideoTimeScale,
			AudioTimeScale: core.DefaultAudioTimeScale,
			TextTimeScale:  core.DefaultTextTimeScale,
		},
		Flatten: FlattenConfig{
			Interleave:   true,
			ChunkSeconds: 0.5,
		},
	}
}

// Options converts the config into engine options.
func (c *Config) Options(logger *logrus.Logger) core.Options {
	return core.Options{
		Logger:         logger,
		MovieTimeScale: c.MovieTimeScale,
		VideoTimeScale: c.Media.VideoTimeScale,
		AudioTimeScale: c.Media.AudioTimeScale,
		TextTimeScale:  c.Media.TextTimeScale,
	}
}

// FlattenOptions returns the configured flatten layout without progress reporting.
func (c *Config) FlattenOptions() core.FlattenOptions {
	return core.FlattenOptions{
		Interleave:     c.Flatten.Interleave,
		ChunkSeconds:   c.Flatten.ChunkSeconds,
		MovieDataFirst: c.Flatten.MovieDataFirst,
	}
}

// Level parses LogLevel, falling back to warning
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.WarnLevel
	}
	return lvl
}
