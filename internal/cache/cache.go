// Package cache manages the on-disk layout under the cache root: version
// directories, the GeoIP database, the auto-update version marker and the
// update-check stamp.
//
// Layout:
//
//	{root}/chromium-{version}/...   installed binaries
//	{root}/downloads/               in-flight archive downloads
//	{root}/geoip/                   GeoLite2 database
//	{root}/latest_version_{tag}     auto-update version marker
//	{root}/.last_update_check       update-check rate-limit stamp
//	{root}/.provision.lock          inter-process provisioning lock
package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/CloakHQ/cloakbrowser/internal/platform"
	"github.com/CloakHQ/cloakbrowser/internal/version"
)

const (
	versionDirPrefix = "chromium-"
	markerPrefix     = "latest_version"
	checkStamp       = ".last_update_check"
	lockFile         = ".provision.lock"
	lockRetryWait    = 100 * time.Millisecond
)

// Manager resolves paths and owns the marker/stamp files for one cache
// root and one platform.
type Manager struct {
	root string
	plat platform.Platform
}

// NewManager creates a Manager rooted at root for the given platform.
func NewManager(root string, plat platform.Platform) *Manager {
	return &Manager{root: root, plat: plat}
}

// Root returns the cache root directory.
func (m *Manager) Root() string {
	return m.root
}

// VersionDir returns the install directory for a Chromium version.
func (m *Manager) VersionDir(v string) string {
	return filepath.Join(m.root, versionDirPrefix+v)
}

// BinaryPath returns the expected executable path for a version.
func (m *Manager) BinaryPath(v string) string {
	return filepath.Join(m.VersionDir(v), m.plat.ExecRelPath())
}

// DownloadsDir returns the directory for in-flight archive downloads. It
// lives under the cache root so the final rename stays on one filesystem.
func (m *Manager) DownloadsDir() string {
	return filepath.Join(m.root, "downloads")
}

// GeoIPDir returns the directory holding the GeoLite2 database.
func (m *Manager) GeoIPDir() string {
	return filepath.Join(m.root, "geoip")
}

// IsInstalled reports whether a version's executable exists and carries
// the executable bit. Existence alone is not enough; a partially
// extracted or never-chmodded binary does not count.
func (m *Manager) IsInstalled(v string) bool {
	info, err := os.Stat(m.BinaryPath(v))
	if err != nil || info.IsDir() {
		return false
	}
	if m.plat.OS == "windows" {
		return true
	}
	return info.Mode()&0o111 != 0
}

// Clear removes the entire cache root, forcing a re-download on next use.
func (m *Manager) Clear() error {
	if err := os.RemoveAll(m.root); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// markerPath returns the per-platform version marker path.
func (m *Manager) markerPath() (string, error) {
	tag, err := m.plat.Tag()
	if err != nil {
		return "", err
	}
	return filepath.Join(m.root, markerPrefix+"_"+tag), nil
}

// ReadMarker returns the persisted auto-update version for this platform,
// or "" when no marker exists. The unsuffixed legacy marker name is
// honored as a fallback.
func (m *Manager) ReadMarker() string {
	paths := make([]string, 0, 2)
	if p, err := m.markerPath(); err == nil {
		paths = append(paths, p)
	}
	paths = append(paths, filepath.Join(m.root, markerPrefix))

	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if v := strings.TrimSpace(string(content)); v != "" {
			return v
		}
	}
	return ""
}

// WriteMarker persists the auto-update version marker atomically.
func (m *Manager) WriteMarker(v string) error {
	p, err := m.markerPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("failed to create cache root: %w", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(v), 0o644); err != nil {
		return fmt.Errorf("failed to write version marker: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit version marker: %w", err)
	}
	return nil
}

// EffectiveVersion resolves the version to serve: the marker wins only if
// it is strictly newer than the bundled version AND actually installed —
// a version that never finished installing is never advertised.
func (m *Manager) EffectiveVersion(bundled string) string {
	marker := m.ReadMarker()
	if marker == "" {
		return bundled
	}
	if version.Newer(marker, bundled) && m.IsInstalled(marker) {
		return marker
	}
	return bundled
}

// ShouldCheckForUpdate reports whether enough time has passed since the
// last recorded update check. A missing or unreadable stamp means yes.
func (m *Manager) ShouldCheckForUpdate(interval time.Duration) bool {
	content, err := os.ReadFile(filepath.Join(m.root, checkStamp))
	if err != nil {
		return true
	}
	last, err := strconv.ParseFloat(strings.TrimSpace(string(content)), 64)
	if err != nil {
		return true
	}
	elapsed := time.Since(time.Unix(int64(last), 0))
	return elapsed >= interval
}

// TouchUpdateCheck records the current time as the last update check.
func (m *Manager) TouchUpdateCheck() error {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return fmt.Errorf("failed to create cache root: %w", err)
	}
	stamp := strconv.FormatInt(time.Now().Unix(), 10)
	if err := os.WriteFile(filepath.Join(m.root, checkStamp), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("failed to write update-check stamp: %w", err)
	}
	return nil
}

// LockProvision takes the inter-process provisioning lock, blocking until
// it is acquired or ctx is done. The returned release function must be
// called exactly once. Callers re-check installation state after
// acquiring — another process may have completed the install while this
// one waited.
func (m *Manager) LockProvision(ctx context.Context) (release func(), err error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	lock := flock.New(filepath.Join(m.root, lockFile))
	ok, err := lock.TryLockContext(ctx, lockRetryWait)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire provisioning lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("provisioning lock unavailable")
	}
	return func() { _ = lock.Unlock() }, nil
}
