package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// settingsFile mirrors the [sweeper] table of the settings file.
type settingsFile struct {
	Sweeper struct {
		Enabled        bool          `mapstructure:"enabled"`
		SweepPeriod    time.Duration `mapstructure:"sweep_period"`
		PageSize       int           `mapstructure:"page_size"`
		Backoff        time.Duration `mapstructure:"backoff"`
		BackoffRetries int           `mapstructure:"backoff_retries"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"sweeper"`
}

func setSettingsDefaults(v *viper.Viper, d sweeper.Settings) {
	v.SetDefault("sweeper.enabled", d.Enabled)
	v.SetDefault("sweeper.sweep_period", d.SweepPeriod)
	v.SetDefault("sweeper.page_size", d.PageSize)
	v.SetDefault("sweeper.backoff", d.BackoffBase)
	v.SetDefault("sweeper.backoff_retries", d.BackoffRetries)
	v.SetDefault("sweeper.request_timeout", d.RequestTimeout)
}

// LoadSettings reads sweeper settings from a TOML file. Keys missing from
// the file keep their value in defaults.
func LoadSettings(path string, defaults sweeper.Settings) (sweeper.Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setSettingsDefaults(v, defaults)

	if err := v.ReadInConfig(); err != nil {
		return sweeper.Settings{}, fmt.Errorf("read settings file %s: %w", path, err)
	}

	var f settingsFile
	if err := v.Unmarshal(&f); err != nil {
		return sweeper.Settings{}, fmt.Errorf("unmarshal settings from %s: %w", path, err)
	}

	s := sweeper.Settings{
		Enabled:        f.Sweeper.Enabled,
		SweepPeriod:    f.Sweeper.SweepPeriod,
		PageSize:       f.Sweeper.PageSize,
		BackoffBase:    f.Sweeper.Backoff,
		BackoffRetries: f.Sweeper.BackoffRetries,
		RequestTimeout: f.Sweeper.RequestTimeout,
	}
	if err := s.Validate(); err != nil {
		return sweeper.Settings{}, err
	}
	return s, nil
}

// SettingsCallback receives each successfully reloaded settings value.
type SettingsCallback func(sweeper.Settings) error

// SettingsWatcher reloads the settings file when it changes on disk.
type SettingsWatcher struct {
	path     string
	defaults sweeper.Settings
	onReload SettingsCallback
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	mu       sync.Mutex
	debounce time.Duration
	timer    *time.Timer
}

// NewSettingsWatcher watches the directory holding path, so editors that
// replace the file by rename are still seen.
func NewSettingsWatcher(path string, defaults sweeper.Settings, onReload SettingsCallback, logger *slog.Logger) (*SettingsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch settings dir for %s: %w", path, err)
	}
	return &SettingsWatcher{
		path:     filepath.Clean(path),
		defaults: defaults,
		onReload: onReload,
		watcher:  w,
		logger:   logger.With("component", "settings_watcher"),
		debounce: 500 * time.Millisecond,
	}, nil
}

// Start processes file events until ctx is done, then closes the watcher.
func (sw *SettingsWatcher) Start(ctx context.Context) {
	defer sw.watcher.Close()
	sw.logger.Info("settings watcher started", "path", sw.path)

	for {
		select {
		case <-ctx.Done():
			sw.mu.Lock()
			if sw.timer != nil {
				sw.timer.Stop()
			}
			sw.mu.Unlock()
			sw.logger.Info("settings watcher shut down")
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != sw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			sw.logger.Debug("settings file changed", "op", event.Op.String())
			sw.scheduleReload()
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			sw.logger.Warn("settings watcher error", "error", err)
		}
	}
}

func (sw *SettingsWatcher) scheduleReload() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.timer = time.AfterFunc(sw.debounce, sw.reload)
}

// reload keeps the current settings when the file is unreadable or invalid.
func (sw *SettingsWatcher) reload() {
	s, err := LoadSettings(sw.path, sw.defaults)
	if err != nil {
		sw.logger.Error("settings reload failed", "error", err)
		return
	}
	if err := sw.onReload(s); err != nil {
		sw.logger.Warn("settings rejected", "error", err)
		return
	}
	sw.logger.Info("settings reloaded", "path", sw.path)
}
