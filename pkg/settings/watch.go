package settings

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const debounceWindow = 250 * time.Millisecond

// Watcher reloads the settings file when it changes on disk and hands the
// refreshed state to a callback. Editors replace files rather than writing
// in place, so the parent directory is watched and events are debounced.
type Watcher struct {
	loader   *Loader
	onChange func(*Settings)
	logger   zerolog.Logger
	fw       *fsnotify.Watcher
	cancel   context.CancelFunc
}

// NewWatcher wires a watcher over loader. onChange runs after each
// successful reload.
func NewWatcher(loader *Loader, onChange func(*Settings), logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		loader:   loader,
		onChange: onChange,
		logger:   logger.With().Str("component", "settings.watcher").Logger(),
		fw:       fw,
	}, nil
}

// Start begins watching. Stop releases the inotify handle.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fw.Add(filepath.Dir(w.loader.Path())); err != nil {
		return err
	}
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
	return nil
}

// Stop halts the watch loop.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	_ = w.fw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.loader.Path() {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case <-fire:
			timer = nil
			fire = nil
			s, err := w.loader.Reload()
			if err != nil {
				w.logger.Warn().Err(err).Msg("settings reload failed, keeping previous state")
				continue
			}
			w.logger.Info().Str("path", w.loader.Path()).Msg("settings reloaded")
			if w.onChange != nil {
				w.onChange(s)
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("settings watch error")
		}
	}
}
