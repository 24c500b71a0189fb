package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadSettings_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeFile(t, path, `
[sweeper]
sweep_period = "1m"
page_size = 500
`)

	got, err := LoadSettings(path, sweeper.DefaultSettings())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := sweeper.DefaultSettings()
	want.SweepPeriod = time.Minute
	want.PageSize = 500
	if got != want {
		t.Errorf("settings = %+v, want %+v", got, want)
	}
}

func TestLoadSettings_Disable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeFile(t, path, "[sweeper]\nenabled = false\n")

	got, err := LoadSettings(path, sweeper.DefaultSettings())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Enabled {
		t.Error("expected sweeper disabled")
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeFile(t, path, "[sweeper]\npage_size = 0\n")

	if _, err := LoadSettings(path, sweeper.DefaultSettings()); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.toml"), sweeper.DefaultSettings()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSettingsWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeFile(t, path, "[sweeper]\npage_size = 100\n")

	got := make(chan sweeper.Settings, 4)
	sw, err := NewSettingsWatcher(path, sweeper.DefaultSettings(), func(s sweeper.Settings) error {
		got <- s
		return nil
	}, slog.Default())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	sw.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sw.Start(ctx)

	// fsnotify registration is synchronous, so this write is observed
	writeFile(t, path, "[sweeper]\npage_size = 250\n")

	select {
	case s := <-got:
		if s.PageSize != 250 {
			t.Errorf("page size = %d, want 250", s.PageSize)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload within 5s")
	}
}

func TestSettingsWatcher_KeepsSettingsOnBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	writeFile(t, path, "[sweeper]\npage_size = 100\n")

	called := make(chan struct{}, 1)
	sw, err := NewSettingsWatcher(path, sweeper.DefaultSettings(), func(sweeper.Settings) error {
		called <- struct{}{}
		return nil
	}, slog.Default())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}

	writeFile(t, path, "[sweeper]\npage_size = -1\n")
	sw.reload()

	select {
	case <-called:
		t.Fatal("invalid settings were applied")
	default:
	}
	sw.watcher.Close()
}
