// Package config holds the runtime configuration for binary provisioning
// and proxy geo resolution. Values are assembled from built-in defaults,
// an optional TOML file, and CLOAKBROWSER_* environment overrides, in that
// order. The resulting Config is threaded into every component; nothing
// reads configuration from process state after load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/CloakHQ/cloakbrowser/internal/platform"
)

const (
	// DefaultBaseURL is the self-hosted primary download server.
	DefaultBaseURL = "https://cloakbrowser.dev"

	// GitHubDownloadBase hosts the release-asset mirror used when the
	// primary is unreachable.
	GitHubDownloadBase = "https://github.com/CloakHQ/cloakbrowser/releases/download"

	// DefaultGitHubAPIBase is the API host queried for update checks.
	DefaultGitHubAPIBase = "https://api.github.com"

	// GitHubOwner and GitHubRepo locate the release repository.
	GitHubOwner = "CloakHQ"
	GitHubRepo  = "cloakbrowser"

	// GeoDBFilename is the MaxMind city database file cached under
	// {cacheDir}/geoip/.
	GeoDBFilename = "GeoLite2-City.mmdb"

	// DefaultGeoDBURL is the P3TERX mirror of GeoLite2-City; no license
	// key needed.
	DefaultGeoDBURL = "https://github.com/P3TERX/GeoLite.mmdb/raw/download/GeoLite2-City.mmdb"

	envPrefix      = "cloakbrowser"
	configFileName = "config.toml"
)

// ChecksumPolicy controls how archive verification treats a missing or
// mismatched manifest.
type ChecksumPolicy string

const (
	// PolicyStrict fails provisioning when no manifest entry covers the
	// downloaded archive.
	PolicyStrict ChecksumPolicy = "strict"
	// PolicyWarn proceeds with a logged warning when the manifest is
	// unavailable; a present-but-mismatched digest still fails.
	PolicyWarn ChecksumPolicy = "warn"
	// PolicyOff skips verification entirely.
	PolicyOff ChecksumPolicy = "off"
)

// Config is the root configuration.
type Config struct {
	// CacheDir roots the binary and GeoIP caches. Default ~/.cloakbrowser.
	CacheDir string `toml:"cache_dir" envconfig:"CACHE_DIR"`

	// DownloadBaseURL is the primary download server. Setting a custom
	// value disables the GitHub release mirror and auto-update; whoever
	// hosts their own archive server owns the full distribution contract.
	DownloadBaseURL string `toml:"download_base_url" envconfig:"DOWNLOAD_URL"`

	// BinaryPath points at a locally built Chromium; when set, download,
	// availability checks and auto-update are skipped entirely.
	BinaryPath string `toml:"binary_path" envconfig:"BINARY_PATH"`

	// AutoUpdate enables the rate-limited background update check.
	AutoUpdate bool `toml:"auto_update" envconfig:"AUTO_UPDATE"`

	// ChecksumPolicy selects strict, warn or off. Default warn.
	ChecksumPolicy ChecksumPolicy `toml:"checksum_policy" envconfig:"CHECKSUM_POLICY"`

	// SkipChecksum is the legacy switch equivalent to ChecksumPolicy off.
	SkipChecksum bool `toml:"-" envconfig:"SKIP_CHECKSUM"`

	// GitHubAPIBaseURL overrides the release API host, mainly for tests.
	GitHubAPIBaseURL string `toml:"github_api_base_url" envconfig:"GITHUB_API_URL"`

	// GitHubToken authenticates update-check API calls when set.
	GitHubToken string `toml:"-" envconfig:"GITHUB_TOKEN"`

	Download DownloadConfig `toml:"download"`
	GeoIP    GeoIPConfig    `toml:"geoip"`
	Proxy    ProxyConfig    `toml:"proxy"`
}

// DownloadConfig tunes the archive download engine.
type DownloadConfig struct {
	// TimeoutMinutes bounds a whole archive transfer. The binary is large;
	// allow 10 minutes by default.
	TimeoutMinutes int `toml:"timeout_minutes" envconfig:"TIMEOUT_MINUTES"`

	// UpdateCheckIntervalMinutes rate-limits background update checks.
	UpdateCheckIntervalMinutes int `toml:"update_check_interval_minutes" envconfig:"UPDATE_CHECK_INTERVAL_MINUTES"`
}

// GeoIPConfig tunes GeoIP database management.
type GeoIPConfig struct {
	// DBURL is where GeoLite2-City.mmdb is fetched from.
	DBURL string `toml:"db_url" envconfig:"DB_URL"`

	// RefreshDays is the database age after which a background
	// re-download is triggered.
	RefreshDays int `toml:"refresh_days" envconfig:"REFRESH_DAYS"`

	// TimeoutMinutes bounds the database download.
	TimeoutMinutes int `toml:"timeout_minutes" envconfig:"TIMEOUT_MINUTES"`
}

// ProxyConfig tunes proxy exit-IP discovery.
type ProxyConfig struct {
	// EchoEndpoints are plain-text IP echo services tried in order
	// through the proxy tunnel.
	EchoEndpoints []string `toml:"echo_endpoints" envconfig:"ECHO_ENDPOINTS"`

	// TimeoutSeconds bounds each tunnel attempt.
	TimeoutSeconds int `toml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cacheDir := ".cloakbrowser"
	if home, err := os.UserHomeDir(); err == nil {
		cacheDir = filepath.Join(home, ".cloakbrowser")
	}

	return &Config{
		CacheDir:         cacheDir,
		DownloadBaseURL:  DefaultBaseURL,
		AutoUpdate:       true,
		ChecksumPolicy:   PolicyWarn,
		GitHubAPIBaseURL: DefaultGitHubAPIBase,
		Download: DownloadConfig{
			TimeoutMinutes:             10,
			UpdateCheckIntervalMinutes: 60,
		},
		GeoIP: GeoIPConfig{
			DBURL:          DefaultGeoDBURL,
			RefreshDays:    30,
			TimeoutMinutes: 5,
		},
		Proxy: ProxyConfig{
			EchoEndpoints: []string{
				"https://api.ipify.org",
				"https://checkip.amazonaws.com",
				"https://ifconfig.me/ip",
			},
			TimeoutSeconds: 10,
		},
	}
}

// FindConfigFile locates the TOML configuration file. An explicit path must
// exist; otherwise CLOAKBROWSER_CONFIG is honored, then the default
// location under the home cache directory. Returns "" when no file exists,
// which is not an error — the file is optional.
func FindConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	if envPath := os.Getenv("CLOAKBROWSER_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}
	path := filepath.Join(home, ".cloakbrowser", configFileName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	return "", nil
}

// Load assembles the configuration: defaults, then the TOML file at path
// (skipped when path is ""), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from the standard locations, falling
// back to defaults if anything goes wrong.
func LoadOrDefault() *Config {
	path, err := FindConfigFile("")
	if err != nil {
		return Default()
	}
	cfg, err := Load(path)
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) normalize() {
	c.ChecksumPolicy = ChecksumPolicy(strings.ToLower(string(c.ChecksumPolicy)))
	if c.SkipChecksum {
		c.ChecksumPolicy = PolicyOff
	}
	c.DownloadBaseURL = strings.TrimRight(c.DownloadBaseURL, "/")
	c.GitHubAPIBaseURL = strings.TrimRight(c.GitHubAPIBaseURL, "/")
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	switch c.ChecksumPolicy {
	case PolicyStrict, PolicyWarn, PolicyOff:
	default:
		return fmt.Errorf("invalid checksum_policy %q: must be strict, warn or off", c.ChecksumPolicy)
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir must not be empty")
	}
	if c.DownloadBaseURL == "" {
		return fmt.Errorf("download_base_url must not be empty")
	}
	if c.Download.TimeoutMinutes <= 0 {
		return fmt.Errorf("download.timeout_minutes must be positive, got %d", c.Download.TimeoutMinutes)
	}
	if c.Download.UpdateCheckIntervalMinutes <= 0 {
		return fmt.Errorf("download.update_check_interval_minutes must be positive, got %d", c.Download.UpdateCheckIntervalMinutes)
	}
	if c.GeoIP.RefreshDays <= 0 {
		return fmt.Errorf("geoip.refresh_days must be positive, got %d", c.GeoIP.RefreshDays)
	}
	return nil
}

// IsCustomBaseURL reports whether the primary download server was
// overridden. A custom server gets no GitHub mirror fallback and no
// auto-update.
func (c *Config) IsCustomBaseURL() bool {
	return c.DownloadBaseURL != DefaultBaseURL
}

// ArchiveURL returns the download URL for a version's platform tarball on
// the primary server.
func (c *Config) ArchiveURL(version, tag string) string {
	return fmt.Sprintf("%s/chromium-v%s/%s", c.DownloadBaseURL, version, platform.ArchiveName(tag))
}

// FallbackArchiveURL returns the GitHub release-asset URL for the tarball.
func (c *Config) FallbackArchiveURL(version, tag string) string {
	return fmt.Sprintf("%s/chromium-v%s/%s", GitHubDownloadBase, version, platform.ArchiveName(tag))
}

// ArchiveURLs returns the mirror cascade for a version's tarball: the
// primary server, then the GitHub mirror unless the primary was customized.
func (c *Config) ArchiveURLs(version, tag string) []string {
	urls := []string{c.ArchiveURL(version, tag)}
	if !c.IsCustomBaseURL() {
		urls = append(urls, c.FallbackArchiveURL(version, tag))
	}
	return urls
}

// SumsURLs returns the mirror cascade for a version's SHA256SUMS manifest.
func (c *Config) SumsURLs(version string) []string {
	urls := []string{fmt.Sprintf("%s/chromium-v%s/SHA256SUMS", c.DownloadBaseURL, version)}
	if !c.IsCustomBaseURL() {
		urls = append(urls, fmt.Sprintf("%s/chromium-v%s/SHA256SUMS", GitHubDownloadBase, version))
	}
	return urls
}

// ReleasesAPIURL returns the endpoint listing releases for update checks.
func (c *Config) ReleasesAPIURL() string {
	return fmt.Sprintf("%s/repos/%s/%s/releases", c.GitHubAPIBaseURL, GitHubOwner, GitHubRepo)
}

// DownloadTimeout bounds a whole archive transfer.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.Download.TimeoutMinutes) * time.Minute
}

// UpdateCheckInterval is the minimum gap between background update checks.
func (c *Config) UpdateCheckInterval() time.Duration {
	return time.Duration(c.Download.UpdateCheckIntervalMinutes) * time.Minute
}

// GeoRefreshInterval is the GeoIP database age that triggers a background
// re-download.
func (c *Config) GeoRefreshInterval() time.Duration {
	return time.Duration(c.GeoIP.RefreshDays) * 24 * time.Hour
}

// GeoDownloadTimeout bounds the GeoIP database transfer.
func (c *Config) GeoDownloadTimeout() time.Duration {
	return time.Duration(c.GeoIP.TimeoutMinutes) * time.Minute
}

// ProxyTimeout bounds each exit-IP tunnel attempt.
func (c *Config) ProxyTimeout() time.Duration {
	return time.Duration(c.Proxy.TimeoutSeconds) * time.Second
}
