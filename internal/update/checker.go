// Package update queries the GitHub releases feed for Chromium builds
// newer than the one pinned at compile time.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CloakHQ/cloakbrowser/internal/platform"
	"github.com/CloakHQ/cloakbrowser/internal/version"
)

const (
	// tagPrefix marks release tags that carry Chromium builds; other
	// tags on the repository are ignored.
	tagPrefix = "chromium-v"

	// releasePageSize bounds how many recent releases one check inspects.
	releasePageSize = 10

	requestTimeout = 10 * time.Second
)

// Release is the subset of a GitHub release the checker reads.
type Release struct {
	TagName    string  `json:"tag_name"`
	Draft      bool    `json:"draft"`
	Prerelease bool    `json:"prerelease"`
	HTMLURL    string  `json:"html_url"`
	Assets     []Asset `json:"assets"`
}

// Asset is a downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Candidate is the newest published build that ships an archive for the
// requested platform.
type Candidate struct {
	Version  string // Chromium version, the tag without its prefix
	TagName  string // full release tag
	URL      string // release page
	AssetURL string // direct archive download
}

// Info summarizes an update check against an installed version.
type Info struct {
	Available      bool
	CurrentVersion string
	LatestVersion  string
	ReleaseURL     string
	AssetURL       string
}

// Checker asks the GitHub API for newer Chromium builds.
type Checker struct {
	apiURL string
	token  string
	client *http.Client
}

// NewChecker creates a Checker against apiURL, the full releases list
// endpoint. token is optional and only raises API rate limits.
func NewChecker(apiURL, token string) *Checker {
	return &Checker{
		apiURL: apiURL,
		token:  token,
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Latest returns the newest published release that carries an archive
// for the platform tag. Releases arrive newest-first, so the first
// non-draft match wins. A nil Candidate with nil error means none of
// the recent releases has a build for this platform.
func (c *Checker) Latest(ctx context.Context, tag string) (*Candidate, error) {
	releases, err := c.listReleases(ctx)
	if err != nil {
		return nil, err
	}

	archiveName := platform.ArchiveName(tag)
	for _, release := range releases {
		if release.Draft || !strings.HasPrefix(release.TagName, tagPrefix) {
			continue
		}
		for _, asset := range release.Assets {
			if asset.Name != archiveName {
				continue
			}
			return &Candidate{
				Version:  strings.TrimPrefix(release.TagName, tagPrefix),
				TagName:  release.TagName,
				URL:      release.HTMLURL,
				AssetURL: asset.BrowserDownloadURL,
			}, nil
		}
	}
	return nil, nil
}

// Check reports whether a build newer than current is published for the
// platform tag.
func (c *Checker) Check(ctx context.Context, current, tag string) (*Info, error) {
	candidate, err := c.Latest(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}

	info := &Info{
		CurrentVersion: current,
		LatestVersion:  current,
	}
	if candidate == nil {
		return info, nil
	}

	info.LatestVersion = candidate.Version
	info.ReleaseURL = candidate.URL
	info.AssetURL = candidate.AssetURL
	info.Available = version.Newer(candidate.Version, current)
	return info, nil
}

// listReleases fetches the most recent releases from the GitHub API.
func (c *Checker) listReleases(ctx context.Context) ([]Release, error) {
	url := fmt.Sprintf("%s?per_page=%d", c.apiURL, releasePageSize)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "cloakbrowser")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var releases []Release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return releases, nil
}
