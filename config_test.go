package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdirTemp runs the test from an empty directory so the default settings file is absent
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	oldWd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldWd) })
	return dir
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TARGET_PLAYLIST_ID", "ARTISTS_FILE",
		"SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "SPOTIFY_REFRESH_TOKEN",
		"DISCORD_WEBHOOK_URL", "NATS_URL", "AZURE_STORAGE_CONNECTION_STRING",
		"ANTHROPIC_API_KEY", "OTEL_EXPORTER_OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	chdirTemp(t)
	clearEnv(t)

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	s := cfg.Settings
	if s.Scan.BatchSize != 20 || s.Scan.BatchDelay.Duration() != time.Minute || s.Scan.IncludeGroups != "album,single" {
		t.Errorf("scan defaults = %+v", s.Scan)
	}
	if s.Publish.ChunkSize != 100 || s.Retry.MaxAttempts != 50 || s.Retry.MaxWait.Duration() != time.Hour {
		t.Errorf("publish/retry defaults = %+v %+v", s.Publish, s.Retry)
	}
	if s.Tracking.Backend != "file" || s.Tracking.CurrentFile != "tracked_current.txt" || s.ArtistsFile != "artists_id.txt" {
		t.Errorf("tracking defaults = %+v", s.Tracking)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)
	t.Setenv("TARGET_PLAYLIST_ID", "from-env")

	path := filepath.Join(dir, "custom.yaml")
	content := `
target_playlist_id: from-file
source_playlists:
  - spotify:playlist:abc
scan:
  batch_size: 5
  batch_delay: 90s
publish:
  chunk_delay: 500ms
tracking:
  backend: azblob
  container: radar
`
	os.WriteFile(path, []byte(content), 0o644)

	overrideSize := 7
	cfg, err := LoadConfig(&ConfigOverrides{SettingsPath: &path, BatchSize: &overrideSize})
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	s := cfg.Settings
	if s.TargetPlaylistID != "from-env" {
		t.Errorf("TargetPlaylistID = %q, want the environment to win", s.TargetPlaylistID)
	}
	if s.Scan.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want flag override 7", s.Scan.BatchSize)
	}
	if s.Scan.BatchDelay.Duration() != 90*time.Second || s.Publish.ChunkDelay.Duration() != 500*time.Millisecond {
		t.Errorf("durations = %v %v", s.Scan.BatchDelay.Duration(), s.Publish.ChunkDelay.Duration())
	}
	if s.Scan.ProducerDelay.Duration() != 2*time.Second {
		t.Errorf("ProducerDelay = %v, want default kept", s.Scan.ProducerDelay.Duration())
	}
	if s.Tracking.Backend != "azblob" || s.Tracking.Container != "radar" || s.Tracking.CurrentBlob != "tracking/current.txt" {
		t.Errorf("tracking = %+v", s.Tracking)
	}
	if len(s.SourcePlaylists) != 1 {
		t.Errorf("SourcePlaylists = %v", s.SourcePlaylists)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := chdirTemp(t)
	clearEnv(t)

	missing := filepath.Join(dir, "missing.yaml")
	if _, err := LoadConfig(&ConfigOverrides{SettingsPath: &missing}); err == nil {
		t.Error("explicit settings file that does not exist should fail")
	}

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"bad duration", "scan:\n  batch_delay: soon\n", "invalid duration"},
		{"chunk too large", "publish:\n  chunk_size: 101\n", "publish.chunk_size"},
		{"page size", "scan:\n  page_size: 0\n", "scan.page_size"},
		{"unknown backend", "tracking:\n  backend: s3\n", "tracking.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "bad.yaml")
			os.WriteFile(path, []byte(tt.content), 0o644)
			_, err := LoadConfig(&ConfigOverrides{SettingsPath: &path})
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("LoadConfig() error = %v, want %q", err, tt.errMsg)
			}
		})
	}
}

func TestValidateRun(t *testing.T) {
	cfg := &Config{Settings: DefaultSettings()}
	err := cfg.ValidateRun()
	if !errors.Is(err, ErrMissingConfig) {
		t.Fatalf("ValidateRun() error = %v, want ErrMissingConfig", err)
	}
	for _, name := range []string{"SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "SPOTIFY_REFRESH_TOKEN", "TARGET_PLAYLIST_ID"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("ValidateRun() error %q should name %s", err, name)
		}
	}

	cfg.Credentials = Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}
	cfg.Settings.TargetPlaylistID = "playlist"
	if err := cfg.ValidateRun(); err != nil {
		t.Errorf("ValidateRun() error = %v, want nil", err)
	}

	cfg.Settings.Tracking.Backend = "azblob"
	if err := cfg.ValidateRun(); err == nil || !strings.Contains(err.Error(), "AZURE_STORAGE_CONNECTION_STRING") {
		t.Errorf("ValidateRun() error = %v, want missing connection string", err)
	}
}

func TestValidateExtract(t *testing.T) {
	cfg := &Config{
		Settings:    DefaultSettings(),
		Credentials: Credentials{ClientID: "id", ClientSecret: "secret"},
	}
	if err := cfg.ValidateExtract(); !errors.Is(err, ErrMissingConfig) {
		t.Errorf("ValidateExtract() error = %v, want missing source_playlists", err)
	}

	cfg.Settings.SourcePlaylists = []string{"abc"}
	if err := cfg.ValidateExtract(); err != nil {
		t.Errorf("ValidateExtract() error = %v", err)
	}
}
