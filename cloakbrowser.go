// Package cloakbrowser provisions the patched Chromium build used for
// stealth automation and resolves the geography a proxy exits through.
//
// The first EnsureBinary call downloads the build for the current
// platform into a local cache, verifies it against published checksums
// and returns the path to its executable; later calls reuse the cache
// and check for newer builds in the background. ResolveGeo tunnels
// through a proxy to discover its exit address and maps it to the
// timezone and locale a browser behind that proxy should present.
package cloakbrowser

import (
	"context"

	"go.uber.org/zap"

	"github.com/CloakHQ/cloakbrowser/internal/config"
	"github.com/CloakHQ/cloakbrowser/internal/download"
	"github.com/CloakHQ/cloakbrowser/internal/geoip"
	"github.com/CloakHQ/cloakbrowser/internal/logging"
	"github.com/CloakHQ/cloakbrowser/internal/provision"
	"github.com/CloakHQ/cloakbrowser/internal/proxynet"
)

// Config holds every tunable: cache location, download servers,
// checksum policy, update behavior and proxy timeouts.
type Config = config.Config

// Info describes the Chromium build in use.
type Info = provision.Info

// GeoResult carries the geography resolved for a proxy. Empty fields
// mean unknown.
type GeoResult = geoip.Result

// Proxy is a proxy URL split into launch-ready parts.
type Proxy = proxynet.Proxy

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig builds configuration from defaults, the TOML file at path
// and CLOAKBROWSER_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Option customizes a facade call.
type Option func(*settings)

type settings struct {
	cfg      *config.Config
	log      *logging.Logger
	progress download.ProgressFunc
}

// WithConfig supplies configuration instead of the standard locations.
func WithConfig(cfg *Config) Option {
	return func(s *settings) {
		s.cfg = cfg
	}
}

// WithLogger routes library logs to l. Without it the library stays
// silent.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = &logging.Logger{Logger: l}
		}
	}
}

// WithProgress installs a callback invoked with cumulative byte counts
// during downloads. total is zero when the server does not announce a
// content length.
func WithProgress(fn func(downloaded, total int64)) Option {
	return func(s *settings) {
		s.progress = fn
	}
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if s.cfg == nil {
		s.cfg = config.LoadOrDefault()
	}
	return s
}

func (s settings) provisioner() *provision.Provisioner {
	return provision.New(s.cfg, s.log, provision.WithProgress(s.progress))
}

// EnsureBinary returns the path to a ready Chromium executable,
// downloading the build on first use. With CLOAKBROWSER_BINARY_PATH
// set, that path is validated and returned instead.
func EnsureBinary(ctx context.Context, opts ...Option) (string, error) {
	return newSettings(opts).provisioner().EnsureBinary(ctx)
}

// Download fetches the bundled Chromium build into the cache without
// consulting the binary override. force redownloads even when the
// build is already cached.
func Download(ctx context.Context, force bool, opts ...Option) (string, error) {
	return newSettings(opts).provisioner().Download(ctx, force)
}

// BinaryInfo reports the build in use, its cache location and where it
// is downloaded from.
func BinaryInfo(opts ...Option) (Info, error) {
	return newSettings(opts).provisioner().Info()
}

// ClearCache removes all cached builds and geo data.
func ClearCache(opts ...Option) error {
	return newSettings(opts).provisioner().ClearCache()
}

// CheckForUpdate queries the release feed and downloads a newer build
// when one exists. It returns the version now marked for use, or the
// empty string when already current.
func CheckForUpdate(ctx context.Context, opts ...Option) (string, error) {
	return newSettings(opts).provisioner().CheckForUpdate(ctx)
}

// ResolveGeo determines the exit address, timezone and locale for
// traffic leaving through the proxy. It never fails: fields that
// cannot be determined are empty.
func ResolveGeo(ctx context.Context, proxyURL string, opts ...Option) GeoResult {
	s := newSettings(opts)
	return geoip.NewLocator(s.cfg, s.log).Resolve(ctx, proxyURL)
}

// ParseProxyURL splits a proxy URL with embedded credentials into the
// server, username and password parts a browser launch needs. Strings
// that do not parse are passed through as the server verbatim.
func ParseProxyURL(raw string) Proxy {
	return proxynet.Parse(raw)
}
