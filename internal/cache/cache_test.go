package cache

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/CloakHQ/cloakbrowser/internal/platform"
)

var linuxPlat = platform.Platform{OS: "linux", Arch: "amd64"}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(t.TempDir(), linuxPlat)
}

func installVersion(t *testing.T, m *Manager, v string, executable bool) string {
	t.Helper()
	binary := m.BinaryPath(v)
	if err := os.MkdirAll(filepath.Dir(binary), 0o755); err != nil {
		t.Fatal(err)
	}
	mode := os.FileMode(0o644)
	if executable {
		mode = 0o755
	}
	if err := os.WriteFile(binary, []byte("binary"), mode); err != nil {
		t.Fatal(err)
	}
	// os.WriteFile only applies mode on creation; reinstalling over an
	// existing file must still end up with the requested permissions.
	if err := os.Chmod(binary, mode); err != nil {
		t.Fatal(err)
	}
	return binary
}

func TestLayout(t *testing.T) {
	m := NewManager("/cache", linuxPlat)

	if got := m.VersionDir("145.0.7632.109"); got != filepath.Join("/cache", "chromium-145.0.7632.109") {
		t.Errorf("VersionDir() = %v", got)
	}
	if got := m.BinaryPath("145.0.7632.109"); got != filepath.Join("/cache", "chromium-145.0.7632.109", "chrome") {
		t.Errorf("BinaryPath() = %v", got)
	}
	if got := m.GeoIPDir(); got != filepath.Join("/cache", "geoip") {
		t.Errorf("GeoIPDir() = %v", got)
	}
	if got := m.DownloadsDir(); got != filepath.Join("/cache", "downloads") {
		t.Errorf("DownloadsDir() = %v", got)
	}
}

func TestBinaryPathDarwin(t *testing.T) {
	m := NewManager("/cache", platform.Platform{OS: "darwin", Arch: "arm64"})
	want := filepath.Join("/cache", "chromium-145.0.7632.109",
		"Chromium.app", "Contents", "MacOS", "Chromium")
	if got := m.BinaryPath("145.0.7632.109"); got != want {
		t.Errorf("BinaryPath() = %v, want %v", got, want)
	}
}

func TestIsInstalled(t *testing.T) {
	m := newTestManager(t)
	const v = "145.0.7632.109"

	if m.IsInstalled(v) {
		t.Error("IsInstalled() should be false before install")
	}

	installVersion(t, m, v, false)
	if m.IsInstalled(v) {
		t.Error("IsInstalled() should be false without executable bit")
	}

	installVersion(t, m, v, true)
	if !m.IsInstalled(v) {
		t.Error("IsInstalled() should be true for executable binary")
	}
}

func TestClear(t *testing.T) {
	m := newTestManager(t)
	installVersion(t, m, "145.0.7632.109", true)

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(m.Root()); !os.IsNotExist(err) {
		t.Error("cache root should be gone after Clear()")
	}
	if m.IsInstalled("145.0.7632.109") {
		t.Error("IsInstalled() should be false after Clear()")
	}

	// Clearing an already-absent cache is not an error.
	if err := m.Clear(); err != nil {
		t.Errorf("Clear() on empty cache = %v", err)
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	m := newTestManager(t)

	if got := m.ReadMarker(); got != "" {
		t.Errorf("ReadMarker() on empty cache = %q, want empty", got)
	}

	if err := m.WriteMarker("146.0.7700.50"); err != nil {
		t.Fatalf("WriteMarker() error = %v", err)
	}
	if got := m.ReadMarker(); got != "146.0.7700.50" {
		t.Errorf("ReadMarker() = %q, want 146.0.7700.50", got)
	}

	// No temp file left behind.
	entries, err := os.ReadDir(m.Root())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestReadMarkerLegacyFallback(t *testing.T) {
	m := newTestManager(t)
	if err := os.MkdirAll(m.Root(), 0o755); err != nil {
		t.Fatal(err)
	}
	// Markers written before the per-platform suffix still count.
	if err := os.WriteFile(filepath.Join(m.Root(), "latest_version"), []byte("146.0.7700.50\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := m.ReadMarker(); got != "146.0.7700.50" {
		t.Errorf("ReadMarker() = %q, want legacy marker value", got)
	}
}

func TestEffectiveVersion(t *testing.T) {
	const bundled = "145.0.7632.109"

	tests := []struct {
		name    string
		marker  string
		install bool
		want    string
	}{
		{
			name: "no marker uses bundled",
			want: bundled,
		},
		{
			name:    "newer installed marker wins",
			marker:  "146.0.7700.50",
			install: true,
			want:    "146.0.7700.50",
		},
		{
			name:   "newer marker without install loses",
			marker: "146.0.7700.50",
			want:   bundled,
		},
		{
			name:    "older marker loses even when installed",
			marker:  "144.0.7500.10",
			install: true,
			want:    bundled,
		},
		{
			name:    "equal marker loses",
			marker:  bundled,
			install: true,
			want:    bundled,
		},
		{
			name:   "malformed marker loses",
			marker: "not-a-version",
			want:   bundled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t)
			if tt.marker != "" {
				if err := m.WriteMarker(tt.marker); err != nil {
					t.Fatal(err)
				}
			}
			if tt.install {
				installVersion(t, m, tt.marker, true)
			}

			if got := m.EffectiveVersion(bundled); got != tt.want {
				t.Errorf("EffectiveVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEffectiveVersionNonExecutableInstall(t *testing.T) {
	m := newTestManager(t)
	if err := m.WriteMarker("146.0.7700.50"); err != nil {
		t.Fatal(err)
	}
	// Binary exists but was never made executable: not installed.
	installVersion(t, m, "146.0.7700.50", false)

	if got := m.EffectiveVersion("145.0.7632.109"); got != "145.0.7632.109" {
		t.Errorf("EffectiveVersion() = %q, want bundled for non-executable marker binary", got)
	}
}

func TestShouldCheckForUpdate(t *testing.T) {
	m := newTestManager(t)
	interval := time.Hour

	if !m.ShouldCheckForUpdate(interval) {
		t.Error("ShouldCheckForUpdate() with no stamp should be true")
	}

	if err := m.TouchUpdateCheck(); err != nil {
		t.Fatalf("TouchUpdateCheck() error = %v", err)
	}
	if m.ShouldCheckForUpdate(interval) {
		t.Error("ShouldCheckForUpdate() right after touch should be false")
	}

	// Backdate the stamp past the interval.
	old := strconv.FormatInt(time.Now().Add(-2*time.Hour).Unix(), 10)
	if err := os.WriteFile(filepath.Join(m.Root(), ".last_update_check"), []byte(old), 0o644); err != nil {
		t.Fatal(err)
	}
	if !m.ShouldCheckForUpdate(interval) {
		t.Error("ShouldCheckForUpdate() with old stamp should be true")
	}

	// Garbage stamp means check.
	if err := os.WriteFile(filepath.Join(m.Root(), ".last_update_check"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !m.ShouldCheckForUpdate(interval) {
		t.Error("ShouldCheckForUpdate() with unreadable stamp should be true")
	}
}

func TestLockProvision(t *testing.T) {
	m := newTestManager(t)

	release, err := m.LockProvision(context.Background())
	if err != nil {
		t.Fatalf("LockProvision() error = %v", err)
	}
	release()

	// Reacquirable after release.
	release, err = m.LockProvision(context.Background())
	if err != nil {
		t.Fatalf("LockProvision() after release error = %v", err)
	}
	release()
}
