// Package provision orchestrates getting a ready browser binary on
// disk: resolve platform and version, check the cache, download with
// mirror fallback, verify, extract, and keep an eye out for newer
// builds. One provisioning call owns the whole sequence; concurrent
// calls serialize on a cache lock.
package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/CloakHQ/cloakbrowser/internal/archive"
	"github.com/CloakHQ/cloakbrowser/internal/cache"
	"github.com/CloakHQ/cloakbrowser/internal/checksum"
	"github.com/CloakHQ/cloakbrowser/internal/config"
	"github.com/CloakHQ/cloakbrowser/internal/download"
	"github.com/CloakHQ/cloakbrowser/internal/logging"
	"github.com/CloakHQ/cloakbrowser/internal/platform"
	"github.com/CloakHQ/cloakbrowser/internal/update"
	"github.com/CloakHQ/cloakbrowser/internal/version"
)

// maxManifestSize caps checksum manifest fetches.
const maxManifestSize = 1 << 20

// Info describes the state of the cached installation.
type Info struct {
	Version        string `json:"version" yaml:"version"`
	BundledVersion string `json:"bundled_version" yaml:"bundled_version"`
	Platform       string `json:"platform" yaml:"platform"`
	BinaryPath     string `json:"binary_path" yaml:"binary_path"`
	Installed      bool   `json:"installed" yaml:"installed"`
	CacheDir       string `json:"cache_dir" yaml:"cache_dir"`
	DownloadURL    string `json:"download_url" yaml:"download_url"`
	Override       string `json:"override,omitempty" yaml:"override,omitempty"`
}

// Provisioner ensures a ready binary and manages its lifecycle in the
// cache.
type Provisioner struct {
	cfg       *config.Config
	log       *logging.Logger
	plat      platform.Platform
	store     *cache.Manager
	engine    *download.Engine
	installer *archive.Installer
	checker   *update.Checker
	progress  download.ProgressFunc

	updateWG sync.WaitGroup
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithPlatform overrides the detected platform.
func WithPlatform(p platform.Platform) Option {
	return func(pr *Provisioner) {
		pr.plat = p
	}
}

// WithProgress installs a callback for download progress.
func WithProgress(fn download.ProgressFunc) Option {
	return func(pr *Provisioner) {
		pr.progress = fn
	}
}

// New creates a Provisioner. A nil cfg or log falls back to defaults.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) *Provisioner {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.NewNop()
	}
	p := &Provisioner{
		cfg:  cfg,
		log:  log,
		plat: platform.Detect(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.store = cache.NewManager(cfg.CacheDir, p.plat)
	p.engine = download.NewEngine(log, cfg.DownloadTimeout(), download.WithProgress(p.progress))
	p.installer = archive.NewInstaller(log)
	p.checker = update.NewChecker(cfg.ReleasesAPIURL(), cfg.GitHubToken)
	return p
}

// EnsureBinary returns the path to a ready browser executable,
// downloading and installing the bundled build on first use. A
// configured binary override short-circuits everything else and must
// point at an existing file.
func (p *Provisioner) EnsureBinary(ctx context.Context) (string, error) {
	if override := p.cfg.BinaryPath; override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("binary override %q does not exist", override)
		}
		p.log.Info("using local binary override", zap.String("path", override))
		return override, nil
	}

	if err := p.plat.CheckAvailable(); err != nil {
		return "", err
	}

	if path, ok := p.installedPath(); ok {
		p.maybeTriggerUpdateCheck()
		return path, nil
	}

	tag, err := p.plat.Tag()
	if err != nil {
		return "", err
	}
	p.log.Info("browser binary not found, downloading",
		zap.String("version", version.Bundled),
		zap.String("platform", tag))

	release, err := p.store.LockProvision(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to lock cache for provisioning: %w", err)
	}
	defer release()

	// Another process may have finished installing while this one
	// waited on the lock.
	if path, ok := p.installedPath(); ok {
		p.maybeTriggerUpdateCheck()
		return path, nil
	}

	if err := p.install(ctx, version.Bundled); err != nil {
		return "", err
	}

	binaryPath := p.store.BinaryPath(version.Bundled)
	if _, err := os.Stat(binaryPath); err != nil {
		return "", fmt.Errorf(
			"download completed but binary not found at %s; this may indicate a packaging problem, please report at https://github.com/CloakHQ/cloakbrowser/issues",
			binaryPath)
	}

	p.maybeTriggerUpdateCheck()
	return binaryPath, nil
}

// Download fetches the bundled build into the cache without the
// override and availability shortcuts of EnsureBinary. force
// reinstalls even when a usable binary exists.
func (p *Provisioner) Download(ctx context.Context, force bool) (string, error) {
	if err := p.plat.CheckAvailable(); err != nil {
		return "", err
	}

	if !force {
		if path, ok := p.installedPath(); ok {
			return path, nil
		}
	}

	release, err := p.store.LockProvision(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to lock cache for provisioning: %w", err)
	}
	defer release()

	if !force {
		if path, ok := p.installedPath(); ok {
			return path, nil
		}
	}

	if err := p.install(ctx, version.Bundled); err != nil {
		return "", err
	}
	return p.store.BinaryPath(version.Bundled), nil
}

// Info reports the effective installation state.
func (p *Provisioner) Info() (Info, error) {
	tag, err := p.plat.Tag()
	if err != nil {
		return Info{}, err
	}

	effective := p.store.EffectiveVersion(version.Bundled)
	info := Info{
		Version:        effective,
		BundledVersion: version.Bundled,
		Platform:       tag,
		BinaryPath:     p.store.BinaryPath(effective),
		Installed:      p.store.IsInstalled(effective),
		CacheDir:       p.store.VersionDir(effective),
		DownloadURL:    p.cfg.ArchiveURL(effective, tag),
	}
	if p.cfg.BinaryPath != "" {
		info.Override = p.cfg.BinaryPath
	}
	return info, nil
}

// ClearCache removes every cached artifact; the next ensure downloads
// fresh.
func (p *Provisioner) ClearCache() error {
	if err := p.store.Clear(); err != nil {
		return err
	}
	p.log.Info("cache cleared", zap.String("dir", p.store.Root()))
	return nil
}

// InstalledVersions lists the builds in the cache, newest first.
func (p *Provisioner) InstalledVersions() ([]cache.VersionInfo, error) {
	return p.store.InstalledVersions()
}

// PruneCache removes installed builds beyond the keep newest. The build
// the next launch resolves to is always retained.
func (p *Provisioner) PruneCache(keep int) (*cache.PruneResult, error) {
	effective := p.store.EffectiveVersion(version.Bundled)
	result, err := p.store.Prune(keep, effective)
	if err != nil {
		return nil, err
	}
	for _, v := range result.Deleted {
		p.log.Info("pruned old chromium build",
			zap.String("version", v.Version),
			zap.Int64("size_mb", v.Size/(1<<20)))
	}
	return result, nil
}

// CheckForUpdate queries for a build newer than the bundled version and
// installs it, blocking until done. It returns the new version, or ""
// when already current.
func (p *Provisioner) CheckForUpdate(ctx context.Context) (string, error) {
	tag, err := p.plat.Tag()
	if err != nil {
		return "", err
	}

	candidate, err := p.checker.Latest(ctx, tag)
	if err != nil {
		return "", fmt.Errorf("update check failed: %w", err)
	}
	if candidate == nil || !version.Newer(candidate.Version, version.Bundled) {
		return "", nil
	}

	if p.store.IsInstalled(candidate.Version) {
		if err := p.store.WriteMarker(candidate.Version); err != nil {
			return "", err
		}
		return candidate.Version, nil
	}

	release, err := p.store.LockProvision(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to lock cache for provisioning: %w", err)
	}
	defer release()

	p.log.Info("downloading newer chromium", zap.String("version", candidate.Version))
	if err := p.install(ctx, candidate.Version); err != nil {
		return "", err
	}
	if err := p.store.WriteMarker(candidate.Version); err != nil {
		return "", err
	}
	return candidate.Version, nil
}

// installedPath returns a usable executable from the cache, preferring
// an auto-updated version over the bundled one.
func (p *Provisioner) installedPath() (string, bool) {
	effective := p.store.EffectiveVersion(version.Bundled)
	if !p.store.IsInstalled(effective) {
		return "", false
	}
	path := p.store.BinaryPath(effective)
	p.log.Debug("binary found in cache",
		zap.String("version", effective),
		zap.String("path", path))
	return path, true
}

// install downloads, verifies and extracts one version into the cache.
func (p *Provisioner) install(ctx context.Context, v string) error {
	tag, err := p.plat.Tag()
	if err != nil {
		return err
	}

	archivePath := filepath.Join(p.store.DownloadsDir(), platform.ArchiveName(tag))
	defer os.Remove(archivePath)

	if err := p.engine.Fetch(ctx, p.cfg.ArchiveURLs(v, tag), archivePath); err != nil {
		return err
	}

	if err := p.verify(ctx, archivePath, v, tag); err != nil {
		return err
	}

	return p.installer.Install(archivePath, p.store.VersionDir(v), p.plat.ExecRelPath())
}

// verify checks the archive digest against the release manifest,
// honoring the configured policy: off skips entirely, warn skips when
// no manifest or entry is published, strict fails on anything missing.
// A digest mismatch always fails.
func (p *Provisioner) verify(ctx context.Context, archivePath, v, tag string) error {
	if p.cfg.ChecksumPolicy == config.PolicyOff {
		p.log.Warn("checksum verification disabled")
		return nil
	}

	archiveName := platform.ArchiveName(tag)

	manifest, err := p.engine.FetchText(ctx, p.cfg.SumsURLs(v), maxManifestSize)
	if err != nil {
		if p.cfg.ChecksumPolicy == config.PolicyStrict {
			return fmt.Errorf("checksum manifest unavailable: %w", err)
		}
		p.log.Warn("checksum manifest unavailable, skipping verification", zap.Error(err))
		return nil
	}

	expected, ok := checksum.ParseManifest(manifest)[archiveName]
	if !ok {
		if p.cfg.ChecksumPolicy == config.PolicyStrict {
			return fmt.Errorf("checksum manifest has no entry for %s", archiveName)
		}
		p.log.Warn("checksum manifest has no entry for archive, skipping verification",
			zap.String("archive", archiveName))
		return nil
	}

	if err := checksum.VerifyFile(archivePath, expected); err != nil {
		return err
	}
	p.log.Info("checksum verified", zap.String("sha256", expected))
	return nil
}

// maybeTriggerUpdateCheck starts a rate-limited background check for a
// newer build. Disabled when auto-update is off, a binary override is
// set, or downloads come from a custom server.
func (p *Provisioner) maybeTriggerUpdateCheck() {
	if !p.shouldCheckForUpdate() {
		return
	}
	p.updateWG.Add(1)
	go func() {
		defer p.updateWG.Done()
		p.runBackgroundUpdate()
	}()
}

func (p *Provisioner) shouldCheckForUpdate() bool {
	if !p.cfg.AutoUpdate || p.cfg.BinaryPath != "" || p.cfg.IsCustomBaseURL() {
		return false
	}
	return p.store.ShouldCheckForUpdate(p.cfg.UpdateCheckInterval())
}

// runBackgroundUpdate checks for and installs a newer build without
// blocking the caller. The marker makes the new version effective on
// the next launch; the running one is never swapped out.
func (p *Provisioner) runBackgroundUpdate() {
	// Stamp first: a failed check still counts against the rate limit.
	if err := p.store.TouchUpdateCheck(); err != nil {
		p.log.Debug("failed to record update check", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DownloadTimeout())
	defer cancel()

	tag, err := p.plat.Tag()
	if err != nil {
		return
	}

	candidate, err := p.checker.Latest(ctx, tag)
	if err != nil {
		p.log.Debug("background update check failed", zap.Error(err))
		return
	}
	if candidate == nil || !version.Newer(candidate.Version, version.Bundled) {
		return
	}

	if p.store.IsInstalled(candidate.Version) {
		if err := p.store.WriteMarker(candidate.Version); err != nil {
			p.log.Debug("failed to write version marker", zap.Error(err))
		}
		return
	}

	p.log.Info("newer chromium available, downloading in background",
		zap.String("latest", candidate.Version),
		zap.String("current", version.Bundled))

	release, err := p.store.LockProvision(ctx)
	if err != nil {
		p.log.Debug("background update could not lock cache", zap.Error(err))
		return
	}
	defer release()

	if err := p.install(ctx, candidate.Version); err != nil {
		p.log.Debug("background update failed", zap.Error(err))
		return
	}
	if err := p.store.WriteMarker(candidate.Version); err != nil {
		p.log.Debug("failed to write version marker", zap.Error(err))
		return
	}
	p.log.Info("background update complete, will use on next launch",
		zap.String("version", candidate.Version))
}
