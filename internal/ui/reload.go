package ui

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/leapstack-labs/runboard/internal/config"
)

// configDebounce collapses the burst of events an editor save produces.
const configDebounce = 100 * time.Millisecond

// Settings are the table settings that can change while the server runs.
// They apply to tables mounted after the change.
type Settings struct {
	PageSize     int
	PollInterval time.Duration
}

// Settings returns the settings new tables are mounted with.
func (s *Server) Settings() Settings {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	return s.settings
}

// UpdateSettings changes the settings of tables mounted from now on. Zero
// fields keep their current value. It reports whether anything changed.
func (s *Server) UpdateSettings(next Settings) bool {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()
	prev := s.settings
	if next.PageSize > 0 {
		s.settings.PageSize = next.PageSize
	}
	if next.PollInterval > 0 {
		s.settings.PollInterval = next.PollInterval
	}
	return s.settings != prev
}

// loadFileSettings reads the settings of the config file.
func (s *Server) loadFileSettings() (Settings, error) {
	cfg, err := config.LoadFile(s.cfg.ConfigFile)
	if err != nil {
		return Settings{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return Settings{PageSize: cfg.PageSize, PollInterval: cfg.PollInterval}, nil
}

// reloadConfig applies the settings that changed in the config file since
// it was last read. Values the file did not change keep whatever the
// command line set.
func (s *Server) reloadConfig() {
	next, err := s.loadFileSettings()
	if err != nil {
		s.logger.Warn("config reload failed, keeping settings", slog.String("error", err.Error()))
		return
	}

	s.settingsMu.Lock()
	prev := s.fileSettings
	s.fileSettings = next
	s.settingsMu.Unlock()

	var changed Settings
	if next.PageSize != prev.PageSize {
		changed.PageSize = next.PageSize
	}
	if next.PollInterval != prev.PollInterval {
		changed.PollInterval = next.PollInterval
	}
	if s.UpdateSettings(changed) {
		cur := s.Settings()
		s.logger.Info("settings reloaded",
			slog.Int("page_size", cur.PageSize),
			slog.Duration("poll_interval", cur.PollInterval))
	}
}

// watchConfig reloads the settings whenever the config file changes.
func (s *Server) watchConfig(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	path := filepath.Clean(s.cfg.ConfigFile)
	// Editors save by renaming a new file over the old one, so the directory
	// is watched rather than the file.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		s.logger.Error("failed to watch config file", slog.String("error", err.Error()))
		// Don't fail - continue without reloading
		return nil
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(configDebounce, s.reloadConfig)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}
