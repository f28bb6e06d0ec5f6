package platform

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Platform identifies an operating system / CPU architecture pair,
// expressed in GOOS/GOARCH terms.
type Platform struct {
	OS   string
	Arch string
}

// tags maps a platform to its canonical download tag. A pair absent from
// this map is a hard failure; the resolver never guesses a nearest match.
var tags = map[Platform]string{
	{OS: "linux", Arch: "amd64"}:   "linux-x64",
	{OS: "linux", Arch: "arm64"}:   "linux-arm64",
	{OS: "darwin", Arch: "amd64"}:  "darwin-x64",
	{OS: "darwin", Arch: "arm64"}:  "darwin-arm64",
	{OS: "windows", Arch: "amd64"}: "win32-x64",
	{OS: "windows", Arch: "arm64"}: "win32-arm64",
}

// available lists the tags with pre-built binaries published for download.
// Updated as new platform builds are released.
var available = map[string]bool{
	"linux-x64":    true,
	"darwin-x64":   true,
	"darwin-arm64": true,
}

// UnsupportedError is returned when no download tag exists for the
// running platform.
type UnsupportedError struct {
	OS   string
	Arch string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported platform: %s/%s (supported: %s)",
		e.OS, e.Arch, strings.Join(SupportedTags(), ", "))
}

// Detect returns the current platform (OS and architecture).
func Detect() Platform {
	return Platform{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}
}

// Tag returns the download tag for this platform, e.g. "linux-x64" or
// "darwin-arm64".
func (p Platform) Tag() (string, error) {
	tag, ok := tags[p]
	if !ok {
		return "", &UnsupportedError{OS: p.OS, Arch: p.Arch}
	}
	return tag, nil
}

// Available returns true if a pre-built binary is published for this
// platform.
func (p Platform) Available() bool {
	tag, ok := tags[p]
	return ok && available[tag]
}

// CheckAvailable returns a descriptive error when the platform maps to a
// tag but no pre-built binary has been published for it yet. Callers with
// a local binary override skip this check.
func (p Platform) CheckAvailable() error {
	tag, err := p.Tag()
	if err != nil {
		return err
	}
	if !available[tag] {
		return fmt.Errorf("no pre-built binary for %s: available platforms are %s (set CLOAKBROWSER_BINARY_PATH to use a local build)",
			tag, strings.Join(AvailableTags(), ", "))
	}
	return nil
}

// ExecRelPath returns the path of the Chromium executable relative to a
// version directory. macOS ships an app bundle; other platforms a flat
// binary.
func (p Platform) ExecRelPath() string {
	switch p.OS {
	case "darwin":
		return filepath.Join("Chromium.app", "Contents", "MacOS", "Chromium")
	case "windows":
		return "chrome.exe"
	default:
		return "chrome"
	}
}

// ArchiveName returns the tarball filename published for a tag,
// e.g. "cloakbrowser-linux-x64.tar.gz".
func ArchiveName(tag string) string {
	return fmt.Sprintf("cloakbrowser-%s.tar.gz", tag)
}

// SupportedTags returns every known download tag in sorted order.
func SupportedTags() []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// AvailableTags returns the tags with published binaries in sorted order.
func AvailableTags() []string {
	out := make([]string, 0, len(available))
	for tag := range available {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
