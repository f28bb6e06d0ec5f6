// Package geoip infers timezone and locale from the address a proxy
// exits through. The GeoLite2 City database is fetched into the cache
// on first use and refreshed in the background once it grows stale;
// every failure along the way degrades to empty fields rather than an
// error.
package geoip

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"

	"github.com/CloakHQ/cloakbrowser/internal/config"
	"github.com/CloakHQ/cloakbrowser/internal/download"
	"github.com/CloakHQ/cloakbrowser/internal/logging"
	"github.com/CloakHQ/cloakbrowser/internal/proxynet"
)

// dbDirName is the cache subdirectory holding the geo database.
const dbDirName = "geoip"

// Result carries what a lookup could determine. Empty fields mean
// unknown.
type Result struct {
	IP       string `json:"ip" yaml:"ip"`
	Timezone string `json:"timezone" yaml:"timezone"`
	Locale   string `json:"locale" yaml:"locale"`
}

// ipResolver is the slice of proxynet.Resolver the locator needs.
type ipResolver interface {
	ExitIP(ctx context.Context, proxyURL string) string
	ProxyIP(ctx context.Context, proxyURL string) string
}

// Locator resolves proxy URLs to geo data backed by a locally cached
// GeoLite2 database.
type Locator struct {
	cfg      *config.Config
	log      *logging.Logger
	engine   *download.Engine
	resolver ipResolver

	mu         sync.Mutex
	refreshing bool
}

// NewLocator creates a Locator. A nil cfg or log falls back to
// defaults.
func NewLocator(cfg *config.Config, log *logging.Logger) *Locator {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Locator{
		cfg:      cfg,
		log:      log,
		engine:   download.NewEngine(log, cfg.GeoDownloadTimeout()),
		resolver: proxynet.NewResolver(cfg, log),
	}
}

// Resolve determines the address, timezone and locale for traffic
// leaving through the proxy. The exit address seen through the tunnel
// wins over the gateway address from the proxy URL. Resolve never
// fails: a missing database, unreachable proxy, or unmapped country
// all leave the corresponding fields empty.
func (l *Locator) Resolve(ctx context.Context, proxyURL string) Result {
	dbPath, err := l.ensureDB(ctx)
	if err != nil {
		l.log.Warn("geo database unavailable", zap.Error(err))
		return Result{}
	}

	ip := l.resolver.ExitIP(ctx, proxyURL)
	if ip == "" {
		ip = l.resolver.ProxyIP(ctx, proxyURL)
	}
	if ip == "" {
		l.log.Debug("no address resolvable for proxy")
		return Result{}
	}

	result := l.lookup(dbPath, ip)
	result.IP = ip
	return result
}

// DBPath returns where the geo database lives in the cache.
func (l *Locator) DBPath() string {
	return filepath.Join(l.cfg.CacheDir, dbDirName, config.GeoDBFilename)
}

// ensureDB guarantees a database file exists, downloading on first use.
// A stale file still serves the current call while a detached refresh
// replaces it.
func (l *Locator) ensureDB(ctx context.Context) (string, error) {
	dbPath := l.DBPath()

	info, err := os.Stat(dbPath)
	if err == nil {
		if time.Since(info.ModTime()) > l.cfg.GeoRefreshInterval() {
			l.refreshInBackground()
		}
		return dbPath, nil
	}

	l.log.Info("downloading geo database",
		zap.String("url", l.cfg.GeoIP.DBURL),
		zap.String("dest", dbPath))
	if err := l.engine.Fetch(ctx, []string{l.cfg.GeoIP.DBURL}, dbPath); err != nil {
		return "", fmt.Errorf("failed to download geo database: %w", err)
	}
	return dbPath, nil
}

// refreshInBackground re-downloads the database without blocking the
// caller. At most one refresh runs at a time; its context is detached
// so it survives the lookup that noticed the staleness.
func (l *Locator) refreshInBackground() {
	l.mu.Lock()
	if l.refreshing {
		l.mu.Unlock()
		return
	}
	l.refreshing = true
	l.mu.Unlock()

	go func() {
		defer func() {
			l.mu.Lock()
			l.refreshing = false
			l.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), l.cfg.GeoDownloadTimeout())
		defer cancel()

		l.log.Info("refreshing stale geo database")
		if err := l.engine.Fetch(ctx, []string{l.cfg.GeoIP.DBURL}, l.DBPath()); err != nil {
			l.log.Debug("background geo database refresh failed", zap.Error(err))
		}
	}()
}

// lookup reads one address out of the database.
func (l *Locator) lookup(dbPath, ip string) Result {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Result{}
	}

	reader, err := geoip2.Open(dbPath)
	if err != nil {
		l.log.Debug("failed to open geo database", zap.Error(err))
		return Result{}
	}
	defer reader.Close()

	city, err := reader.City(parsed)
	if err != nil {
		l.log.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return Result{}
	}

	result := Result{Timezone: city.Location.TimeZone}
	if code := city.Country.IsoCode; code != "" {
		result.Locale = ForCountry(code)
	}
	l.log.Debug("geo resolved",
		zap.String("ip", ip),
		zap.String("timezone", result.Timezone),
		zap.String("country", city.Country.IsoCode),
		zap.String("locale", result.Locale))
	return result
}
