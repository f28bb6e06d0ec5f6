// Package archive installs downloaded Chromium tarballs into the cache.
//
// Extraction lands in a staging directory next to the destination and the
// result is renamed into place, so a version directory is either fully
// absent or fully populated — never partially visible.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/xattr"
	"go.uber.org/zap"

	"github.com/CloakHQ/cloakbrowser/internal/logging"
)

// Installer extracts Chromium archives into version directories.
type Installer struct {
	log *logging.Logger
}

// NewInstaller creates an Installer. A nil logger is replaced with a
// no-op logger.
func NewInstaller(log *logging.Logger) *Installer {
	if log == nil {
		log = logging.NewNop()
	}
	return &Installer{log: log}
}

// Install extracts archivePath into destDir and marks the executable at
// execRel (relative to destDir) as runnable. A pre-existing destDir is
// replaced. On failure the whole extraction is retried once from scratch
// before giving up; partially-overwritten installs are never patched
// incrementally.
func (i *Installer) Install(archivePath, destDir, execRel string) error {
	if err := i.installOnce(archivePath, destDir, execRel); err != nil {
		i.log.Warn("extraction failed, retrying from scratch",
			zap.String("archive", archivePath),
			zap.Error(err))
		if err := i.installOnce(archivePath, destDir, execRel); err != nil {
			return fmt.Errorf("extraction failed after retry: %w", err)
		}
	}
	return nil
}

func (i *Installer) installOnce(archivePath, destDir, execRel string) error {
	parent := filepath.Dir(destDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to prepare cache directory: %w", err)
	}

	// Staging lives next to the destination so the final rename stays on
	// one filesystem.
	staging, err := os.MkdirTemp(parent, ".extract-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := i.extractTarGz(archivePath, staging); err != nil {
		return err
	}

	if err := i.flattenSingleDir(staging); err != nil {
		return err
	}

	execPath := filepath.Join(staging, execRel)
	if _, err := os.Stat(execPath); err == nil {
		if err := makeExecutable(execPath); err != nil {
			return err
		}
	}

	if runtime.GOOS == "darwin" {
		i.clearQuarantine(staging)
	}

	if err := os.RemoveAll(destDir); err != nil {
		return fmt.Errorf("failed to remove previous install: %w", err)
	}
	if err := os.Rename(staging, destDir); err != nil {
		return fmt.Errorf("failed to move install directory: %w", err)
	}
	return nil
}

func (i *Installer) extractTarGz(archivePath, dest string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("failed to read gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read archive entry: %w", err)
		}

		// A single malicious or odd entry is excluded, not a reason to
		// reject an otherwise-valid archive.
		if escapesRoot(header.Name) {
			i.log.Warn("skipping archive entry with unsafe path",
				zap.String("entry", header.Name))
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(header.Name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fileMode(header)); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent of %s: %w", target, err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode(header))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("failed to write file %s: %w", target, err)
			}
			f.Close()
		case tar.TypeSymlink:
			// macOS app bundles rely on relative framework symlinks, so
			// symlinks are kept — as long as the target stays inside the
			// extraction root.
			if escapesRoot(header.Linkname) {
				i.log.Warn("skipping symlink with unsafe target",
					zap.String("entry", header.Name),
					zap.String("target", header.Linkname))
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent of %s: %w", target, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("failed to create symlink %s: %w", target, err)
			}
		case tar.TypeLink:
			if escapesRoot(header.Linkname) {
				i.log.Warn("skipping hardlink with unsafe target",
					zap.String("entry", header.Name),
					zap.String("target", header.Linkname))
				continue
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent of %s: %w", target, err)
			}
			source := filepath.Join(dest, filepath.FromSlash(header.Linkname))
			if err := os.Link(source, target); err != nil {
				return fmt.Errorf("failed to create hardlink %s: %w", target, err)
			}
		default:
			i.log.Debug("skipping unsupported archive entry",
				zap.String("entry", header.Name),
				zap.Uint8("type", header.Typeflag))
		}
	}

	return nil
}

// escapesRoot reports whether an archive entry path would land outside the
// extraction root: absolute, or still containing a parent-directory
// segment after cleaning.
func escapesRoot(name string) bool {
	if name == "" {
		return false
	}
	if path.IsAbs(name) || filepath.IsAbs(name) {
		return true
	}
	clean := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// flattenSingleDir hoists the contents of a lone top-level directory up
// one level. Upstream tarballs usually wrap everything in a versioned
// directory; the cache wants the executable directly under the version
// dir. App bundles are kept intact — macOS needs the bundle structure.
func (i *Installer) flattenSingleDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list extraction dir: %w", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	if strings.HasSuffix(entries[0].Name(), ".app") {
		i.log.Debug("keeping app bundle intact", zap.String("bundle", entries[0].Name()))
		return nil
	}

	sub := filepath.Join(dir, entries[0].Name())
	i.log.Debug("flattening single subdirectory", zap.String("dir", entries[0].Name()))

	subEntries, err := os.ReadDir(sub)
	if err != nil {
		return fmt.Errorf("failed to list wrapper dir: %w", err)
	}
	for _, entry := range subEntries {
		if err := os.Rename(filepath.Join(sub, entry.Name()), filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("failed to hoist %s: %w", entry.Name(), err)
		}
	}
	if err := os.Remove(sub); err != nil {
		return fmt.Errorf("failed to remove wrapper dir: %w", err)
	}
	return nil
}

// clearQuarantine removes macOS quarantine and provenance attributes so
// Gatekeeper does not block the freshly extracted binary. Best effort.
func (i *Installer) clearQuarantine(root string) {
	attrs := []string{"com.apple.quarantine", "com.apple.provenance"}
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		for _, attr := range attrs {
			_ = xattr.Remove(p, attr)
		}
		return nil
	})
	if err != nil {
		i.log.Debug("failed to clear quarantine attributes", zap.Error(err))
		return
	}
	i.log.Debug("cleared quarantine attributes", zap.String("path", root))
}

func makeExecutable(p string) error {
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("failed to stat executable: %w", err)
	}
	if err := os.Chmod(p, info.Mode()|0o111); err != nil {
		return fmt.Errorf("failed to set executable bit: %w", err)
	}
	return nil
}

func fileMode(header *tar.Header) os.FileMode {
	mode := os.FileMode(header.Mode) & 0o777
	if mode == 0 {
		mode = 0o644
	}
	return mode
}
