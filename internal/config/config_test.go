package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DownloadBaseURL != DefaultBaseURL {
		t.Errorf("DownloadBaseURL = %v, want %v", cfg.DownloadBaseURL, DefaultBaseURL)
	}
	if !cfg.AutoUpdate {
		t.Error("AutoUpdate should default to true")
	}
	if cfg.ChecksumPolicy != PolicyWarn {
		t.Errorf("ChecksumPolicy = %v, want %v", cfg.ChecksumPolicy, PolicyWarn)
	}
	if cfg.CacheDir == "" {
		t.Error("CacheDir should not be empty")
	}
	if cfg.Download.TimeoutMinutes != 10 {
		t.Errorf("Download.TimeoutMinutes = %d, want 10", cfg.Download.TimeoutMinutes)
	}
	if len(cfg.Proxy.EchoEndpoints) != 3 {
		t.Errorf("Proxy.EchoEndpoints len = %d, want 3", len(cfg.Proxy.EchoEndpoints))
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
cache_dir = "/opt/browsers"
checksum_policy = "strict"
auto_update = false

[download]
timeout_minutes = 3

[geoip]
refresh_days = 7
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CacheDir != "/opt/browsers" {
		t.Errorf("CacheDir = %v, want /opt/browsers", cfg.CacheDir)
	}
	if cfg.ChecksumPolicy != PolicyStrict {
		t.Errorf("ChecksumPolicy = %v, want strict", cfg.ChecksumPolicy)
	}
	if cfg.AutoUpdate {
		t.Error("AutoUpdate should be false")
	}
	if cfg.Download.TimeoutMinutes != 3 {
		t.Errorf("Download.TimeoutMinutes = %d, want 3", cfg.Download.TimeoutMinutes)
	}
	if cfg.GeoIP.RefreshDays != 7 {
		t.Errorf("GeoIP.RefreshDays = %d, want 7", cfg.GeoIP.RefreshDays)
	}
	// Values the file does not mention keep their defaults.
	if cfg.DownloadBaseURL != DefaultBaseURL {
		t.Errorf("DownloadBaseURL = %v, want default", cfg.DownloadBaseURL)
	}
	if cfg.Download.UpdateCheckIntervalMinutes != 60 {
		t.Errorf("UpdateCheckIntervalMinutes = %d, want 60", cfg.Download.UpdateCheckIntervalMinutes)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`cache_dir = "/from-file"`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CLOAKBROWSER_CACHE_DIR", "/from-env")
	t.Setenv("CLOAKBROWSER_DOWNLOAD_URL", "https://mirror.internal")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.CacheDir != "/from-env" {
		t.Errorf("CacheDir = %v, want /from-env", cfg.CacheDir)
	}
	if cfg.DownloadBaseURL != "https://mirror.internal" {
		t.Errorf("DownloadBaseURL = %v, want https://mirror.internal", cfg.DownloadBaseURL)
	}
	if !cfg.IsCustomBaseURL() {
		t.Error("IsCustomBaseURL() should be true after override")
	}
}

func TestLoadSkipChecksumAlias(t *testing.T) {
	t.Setenv("CLOAKBROWSER_SKIP_CHECKSUM", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ChecksumPolicy != PolicyOff {
		t.Errorf("ChecksumPolicy = %v, want off", cfg.ChecksumPolicy)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load() with missing explicit file should fail")
	}
}

func TestLoadBadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("cache_dir = [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() with invalid TOML should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "default valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad policy",
			mutate:  func(c *Config) { c.ChecksumPolicy = "paranoid" },
			wantErr: true,
		},
		{
			name:    "empty cache dir",
			mutate:  func(c *Config) { c.CacheDir = "" },
			wantErr: true,
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Download.TimeoutMinutes = 0 },
			wantErr: true,
		},
		{
			name:    "negative refresh",
			mutate:  func(c *Config) { c.GeoIP.RefreshDays = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestArchiveURLs(t *testing.T) {
	cfg := Default()
	urls := cfg.ArchiveURLs("145.0.7632.109", "linux-x64")

	if len(urls) != 2 {
		t.Fatalf("ArchiveURLs() len = %d, want 2", len(urls))
	}
	want := "https://cloakbrowser.dev/chromium-v145.0.7632.109/cloakbrowser-linux-x64.tar.gz"
	if urls[0] != want {
		t.Errorf("primary = %v, want %v", urls[0], want)
	}
	wantFallback := "https://github.com/CloakHQ/cloakbrowser/releases/download/chromium-v145.0.7632.109/cloakbrowser-linux-x64.tar.gz"
	if urls[1] != wantFallback {
		t.Errorf("fallback = %v, want %v", urls[1], wantFallback)
	}
}

func TestArchiveURLsCustomBaseSkipsFallback(t *testing.T) {
	cfg := Default()
	cfg.DownloadBaseURL = "https://mirror.internal"

	urls := cfg.ArchiveURLs("145.0.7632.109", "linux-x64")
	if len(urls) != 1 {
		t.Fatalf("ArchiveURLs() len = %d, want 1 for custom base", len(urls))
	}
	if urls[0] != "https://mirror.internal/chromium-v145.0.7632.109/cloakbrowser-linux-x64.tar.gz" {
		t.Errorf("primary = %v", urls[0])
	}
}

func TestSumsURLs(t *testing.T) {
	cfg := Default()
	urls := cfg.SumsURLs("145.0.7632.109")

	if len(urls) != 2 {
		t.Fatalf("SumsURLs() len = %d, want 2", len(urls))
	}
	if urls[0] != "https://cloakbrowser.dev/chromium-v145.0.7632.109/SHA256SUMS" {
		t.Errorf("primary = %v", urls[0])
	}

	cfg.DownloadBaseURL = "https://mirror.internal"
	if got := cfg.SumsURLs("145.0.7632.109"); len(got) != 1 {
		t.Errorf("SumsURLs() len = %d, want 1 for custom base", len(got))
	}
}

func TestReleasesAPIURL(t *testing.T) {
	cfg := Default()
	want := "https://api.github.com/repos/CloakHQ/cloakbrowser/releases"
	if got := cfg.ReleasesAPIURL(); got != want {
		t.Errorf("ReleasesAPIURL() = %v, want %v", got, want)
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := FindConfigFile(path)
	if err != nil {
		t.Fatalf("FindConfigFile() error = %v", err)
	}
	if got != path {
		t.Errorf("FindConfigFile() = %v, want %v", got, path)
	}

	if _, err := FindConfigFile(filepath.Join(dir, "absent.toml")); err == nil {
		t.Error("FindConfigFile() with missing explicit path should fail")
	}

	t.Setenv("CLOAKBROWSER_CONFIG", path)
	got, err = FindConfigFile("")
	if err != nil {
		t.Fatalf("FindConfigFile() error = %v", err)
	}
	if got != path {
		t.Errorf("FindConfigFile() via env = %v, want %v", got, path)
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	if cfg.DownloadTimeout().Minutes() != 10 {
		t.Errorf("DownloadTimeout() = %v, want 10m", cfg.DownloadTimeout())
	}
	if cfg.UpdateCheckInterval().Minutes() != 60 {
		t.Errorf("UpdateCheckInterval() = %v, want 1h", cfg.UpdateCheckInterval())
	}
	if cfg.GeoRefreshInterval().Hours() != 30*24 {
		t.Errorf("GeoRefreshInterval() = %v, want 720h", cfg.GeoRefreshInterval())
	}
	if cfg.ProxyTimeout().Seconds() != 10 {
		t.Errorf("ProxyTimeout() = %v, want 10s", cfg.ProxyTimeout())
	}
}
