package cache

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/CloakHQ/cloakbrowser/internal/version"
)

// DefaultKeepCount is the default number of installed versions to retain
// when pruning. Auto-update leaves the previous build in place so a bad
// release can be rolled back; anything older is dead weight.
const DefaultKeepCount = 2

// VersionInfo summarizes one installed version directory.
type VersionInfo struct {
	Version string    `json:"version" yaml:"version"`
	Path    string    `json:"path" yaml:"path"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
}

// PruneResult reports what a prune removed and kept.
type PruneResult struct {
	Deleted []VersionInfo
	Kept    int
}

// FreedBytes returns the total size of the deleted version directories.
func (r *PruneResult) FreedBytes() int64 {
	var total int64
	for _, v := range r.Deleted {
		total += v.Size
	}
	return total
}

// InstalledVersions returns every version directory under the cache root,
// newest version first. Directories whose suffix does not parse as a
// version are ignored.
func (m *Manager) InstalledVersions() ([]VersionInfo, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return []VersionInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read cache root: %w", err)
	}

	var versions []VersionInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), versionDirPrefix) {
			continue
		}
		v := strings.TrimPrefix(entry.Name(), versionDirPrefix)
		if _, err := version.Parse(v); err != nil {
			continue
		}

		path := filepath.Join(m.root, entry.Name())
		info := VersionInfo{
			Version: v,
			Path:    path,
			Size:    dirSize(path),
		}
		if fi, err := entry.Info(); err == nil {
			info.ModTime = fi.ModTime()
		}
		versions = append(versions, info)
	}

	sort.Slice(versions, func(i, j int) bool {
		return version.Newer(versions[i].Version, versions[j].Version)
	})
	return versions, nil
}

// Prune removes installed versions beyond the keep newest. The effective
// version is always retained, even when it falls outside the window —
// deleting the build the next launch resolves to would force a pointless
// re-download.
func (m *Manager) Prune(keep int, effective string) (*PruneResult, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep count must be non-negative")
	}

	versions, err := m.InstalledVersions()
	if err != nil {
		return nil, err
	}

	result := &PruneResult{}
	for i, v := range versions {
		if i < keep || v.Version == effective {
			result.Kept++
			continue
		}
		if err := os.RemoveAll(v.Path); err != nil {
			return nil, fmt.Errorf("failed to remove version %s: %w", v.Version, err)
		}
		result.Deleted = append(result.Deleted, v)
	}
	return result, nil
}

// dirSize sums the file sizes under a directory, best effort.
func dirSize(root string) int64 {
	var total int64
	_ = filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
