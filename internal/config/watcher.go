package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceDelay coalesces the burst of filesystem events an editor or
// atomic-rename save produces into one reload.
const debounceDelay = 200 * time.Millisecond

// Watcher delivers a freshly loaded Config whenever the settings file
// changes on disk. Each delivery is a full snapshot; the receiver is
// expected to apply it as one atomic replace.
type Watcher struct {
	logger   zerolog.Logger
	onChange func(*Config)

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWatcher creates a watcher that invokes onChange with each reloaded
// configuration.
func NewWatcher(onChange func(*Config), logger zerolog.Logger) *Watcher {
	return &Watcher{
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		onChange: onChange,
	}
}

// Start begins watching the config directory. Watching the directory
// rather than the file survives editors that replace the file by rename.
func (w *Watcher) Start(ctx context.Context) error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.fsw = fsw
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	go w.run(ctx, fsw, done)
	w.logger.Info().Str("dir", dir).Msg("Watching settings for changes")
	return nil
}

// Stop shuts the watcher down synchronously; no callback fires after it
// returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done, fsw := w.cancel, w.done, w.fsw
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if fsw != nil {
		fsw.Close()
	}
	if done != nil {
		<-done
	}
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != "config.yaml" {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceDelay)
			}
			fire = debounce.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Settings watch error")

		case <-fire:
			fire = nil
			cfg, err := Load()
			if err != nil {
				w.logger.Warn().Err(err).Msg("Failed to reload settings, keeping previous")
				continue
			}
			w.logger.Info().Msg("Settings changed, applying")
			w.onChange(cfg)
		}
	}
}
