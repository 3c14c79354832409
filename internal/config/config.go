// Package config provides configuration management for VoxSprite
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/voxsprite/voxsprite/internal/sprite"
)

// Config holds all application configuration
type Config struct {
	Avatar AvatarConfig `mapstructure:"avatar"`
	Window WindowConfig `mapstructure:"window"`
	Audio  AudioConfig  `mapstructure:"audio"`
	Feed   FeedConfig   `mapstructure:"feed"`
}

// TalkFrame pairs an energy threshold with the image shown at or above it
type TalkFrame struct {
	Threshold float64 `mapstructure:"threshold" json:"threshold"`
	Image     string  `mapstructure:"image" json:"image"`
}

// AvatarConfig configures the reactive sprite set
type AvatarConfig struct {
	IdleImage       string      `mapstructure:"idle_image"`
	IdleFrames      []string    `mapstructure:"idle_frames"`
	IdleRandom      bool        `mapstructure:"idle_random"`
	IdleIntervalMin float64     `mapstructure:"idle_interval_min"` // seconds
	IdleIntervalMax float64     `mapstructure:"idle_interval_max"` // seconds
	TalkImage       string      `mapstructure:"talk_image"`
	TalkThreshold   float64     `mapstructure:"talk_threshold"`
	TalkFrames      []TalkFrame `mapstructure:"talk_frames"`
}

// WindowConfig carries window-layer settings. The controller never
// reads these; they ride along to the renderer via the feed.
type WindowConfig struct {
	Width            int    `mapstructure:"width"`
	Background       string `mapstructure:"background"`
	Transparent      bool   `mapstructure:"transparent"`
	KeepOnTop        bool   `mapstructure:"keep_on_top"`
	DragEnabled      bool   `mapstructure:"drag_enabled"`
	RememberPosition bool   `mapstructure:"remember_position"`
	Position         []int  `mapstructure:"position"`
}

// AudioConfig configures capture
type AudioConfig struct {
	Device     string `mapstructure:"device"`
	SampleRate int    `mapstructure:"sample_rate"`
	BlockSize  int    `mapstructure:"block_size"`
}

// FeedConfig configures the renderer event feed
type FeedConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Avatar: AvatarConfig{
			IdleRandom:      false,
			IdleIntervalMin: 0.2,
			IdleIntervalMax: 0.6,
			TalkThreshold:   0.03,
		},
		Window: WindowConfig{
			Width:       512,
			Background:  "#00FF00",
			DragEnabled: true,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			BlockSize:  1600,
		},
		Feed: FeedConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8787",
		},
	}
}

// Snapshot converts the persisted settings into a controller
// configuration. The base talk image becomes the floor tier at the talk
// threshold; per-frame variants layer above it. NormalizeSnapshot in
// the sprite package does the clamping and sorting.
func (c *Config) Snapshot() sprite.Snapshot {
	var tiers []sprite.TalkTier
	if c.Avatar.TalkImage != "" {
		tiers = append(tiers, sprite.TalkTier{
			Threshold: c.Avatar.TalkThreshold,
			Sprite:    sprite.Handle(c.Avatar.TalkImage),
		})
	}
	for _, f := range c.Avatar.TalkFrames {
		if f.Image == "" {
			continue
		}
		tiers = append(tiers, sprite.TalkTier{
			Threshold: f.Threshold,
			Sprite:    sprite.Handle(f.Image),
		})
	}

	idle := make([]sprite.Handle, 0, len(c.Avatar.IdleFrames)+1)
	for _, p := range c.Avatar.IdleFrames {
		if p != "" {
			idle = append(idle, sprite.Handle(p))
		}
	}
	if len(idle) == 0 && c.Avatar.IdleImage != "" {
		idle = append(idle, sprite.Handle(c.Avatar.IdleImage))
	}

	return sprite.NormalizeSnapshot(sprite.Snapshot{
		Tiers: tiers,
		Idle:  idle,
		IdleTimer: sprite.IdleTimerConfig{
			MinInterval: time.Duration(c.Avatar.IdleIntervalMin * float64(time.Second)),
			MaxInterval: time.Duration(c.Avatar.IdleIntervalMax * float64(time.Second)),
			Randomize:   c.Avatar.IdleRandom,
		},
	})
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	v.SetEnvPrefix("VOXSPRITE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// No config file yet: write the defaults out.
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	frames := make([]map[string]any, 0, len(cfg.Avatar.TalkFrames))
	for _, f := range cfg.Avatar.TalkFrames {
		frames = append(frames, map[string]any{"threshold": f.Threshold, "image": f.Image})
	}

	v := viper.New()
	v.Set("avatar", map[string]any{
		"idle_image":        cfg.Avatar.IdleImage,
		"idle_frames":       cfg.Avatar.IdleFrames,
		"idle_random":       cfg.Avatar.IdleRandom,
		"idle_interval_min": cfg.Avatar.IdleIntervalMin,
		"idle_interval_max": cfg.Avatar.IdleIntervalMax,
		"talk_image":        cfg.Avatar.TalkImage,
		"talk_threshold":    cfg.Avatar.TalkThreshold,
		"talk_frames":       frames,
	})
	v.Set("window", map[string]any{
		"width":             cfg.Window.Width,
		"background":        cfg.Window.Background,
		"transparent":       cfg.Window.Transparent,
		"keep_on_top":       cfg.Window.KeepOnTop,
		"drag_enabled":      cfg.Window.DragEnabled,
		"remember_position": cfg.Window.RememberPosition,
		"position":          cfg.Window.Position,
	})
	v.Set("audio", map[string]any{
		"device":      cfg.Audio.Device,
		"sample_rate": cfg.Audio.SampleRate,
		"block_size":  cfg.Audio.BlockSize,
	})
	v.Set("feed", map[string]any{
		"enabled":     cfg.Feed.Enabled,
		"listen_addr": cfg.Feed.ListenAddr,
	})

	return v.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".voxsprite"), nil
}
