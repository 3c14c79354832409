// VoxSprite - audio-reactive avatar sprite controller
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxsprite/voxsprite/internal/audio"
	"github.com/voxsprite/voxsprite/internal/bus"
	"github.com/voxsprite/voxsprite/internal/config"
	"github.com/voxsprite/voxsprite/internal/feed"
	"github.com/voxsprite/voxsprite/internal/logging"
	"github.com/voxsprite/voxsprite/internal/sprite"
)

func main() {
	sourceName := flag.String("source", "stdin", "audio source: stdin (PCM16LE) or tone (demo)")
	listenAddr := flag.String("addr", "", "feed listen address (overrides config)")
	toneAmp := flag.Float64("tone-amp", 0.2, "tone source amplitude (0-1)")
	toneFreq := flag.Float64("tone-freq", 220, "tone source frequency in Hz")
	flag.Parse()

	syslog, err := logging.New(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer syslog.Close()

	log := syslog.Component("main")
	log.Info().Msg("VoxSprite starting")

	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.DefaultConfig()
	}
	if *listenAddr != "" {
		cfg.Feed.ListenAddr = *listenAddr
	}

	events := bus.NewEventBus()

	var feedServer *feed.Server
	if cfg.Feed.Enabled {
		feedServer = feed.NewServer(events, syslog.Zerolog())
		if err := feedServer.Start(cfg.Feed.ListenAddr); err != nil {
			log.Error().Err(err).Str("addr", cfg.Feed.ListenAddr).Msg("Feed failed to start")
			os.Exit(1)
		}
	}

	captureCfg := audio.CaptureConfig{
		SampleRate: cfg.Audio.SampleRate,
		BlockSize:  cfg.Audio.BlockSize,
		Device:     cfg.Audio.Device,
	}
	var source audio.Source
	switch *sourceName {
	case "tone":
		source = audio.NewToneSource(captureCfg, *toneFreq, *toneAmp)
	case "stdin":
		source = audio.NewReaderSource(captureCfg, os.Stdin, false)
	default:
		log.Error().Str("source", *sourceName).Msg("Unknown audio source")
		os.Exit(1)
	}

	controller := sprite.NewController(cfg.Snapshot(), events, syslog.Zerolog())
	if err := controller.Start(source); err != nil {
		log.Error().Err(err).Msg("Controller failed to start")
		os.Exit(1)
	}

	watcher := config.NewWatcher(func(next *config.Config) {
		controller.Configure(next.Snapshot())
		// Window-layer settings are opaque to the controller; forward
		// them to the renderer alongside the swap.
		events.Publish(bus.Event{
			Type: bus.EventTypeConfigApplied,
			Data: map[string]any{
				"width":       next.Window.Width,
				"background":  next.Window.Background,
				"transparent": next.Window.Transparent,
				"keep_on_top": next.Window.KeepOnTop,
			},
		})
	}, syslog.Zerolog())
	if err := watcher.Start(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Settings watcher unavailable, edits need a restart")
	}

	snap := controller.Snapshot()
	log.Info().
		Int("tiers", len(snap.Tiers)).
		Int("idle_frames", len(snap.Idle)).
		Str("source", *sourceName).
		Msg("Controller running")

	waitForShutdown()
	log.Info().Msg("Shutting down")

	watcher.Stop()
	if err := controller.Stop(); err != nil {
		log.Warn().Err(err).Msg("Controller stop")
	}
	if feedServer != nil {
		feedServer.Close()
	}
	log.Info().Msg("VoxSprite stopped")
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
