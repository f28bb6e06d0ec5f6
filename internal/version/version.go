package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Bundled is the Chromium build this release of cloakbrowser ships against.
// A newer build installed by the background updater can supersede it at
// runtime via the cache's version marker.
const Bundled = "145.0.7632.109"

// Version represents a Chromium build number: dotted numeric components,
// normally four (e.g. "145.0.7632.109") with an optional fifth patch
// component appended by rebuild releases (e.g. "145.0.7632.109.2").
type Version []int

// Parse parses a build number string.
// Accepts an optional 'v' prefix; every component must be numeric.
func Parse(s string) (Version, error) {
	trimmed := strings.TrimPrefix(s, "v")
	if trimmed == "" {
		return nil, fmt.Errorf("invalid version format: %q", s)
	}

	parts := strings.Split(trimmed, ".")
	v := make(Version, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version format: %q", s)
		}
		v[i] = n
	}
	return v, nil
}

// String returns the dotted string representation.
func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Compare compares two versions component-wise, left to right.
// Missing trailing components are treated as 0, so "145.0.7632.109.2"
// is newer than "145.0.7632.109" while "145.0.7632.109.0" equals it.
// Returns:
//   - 1 if v > other
//   - 0 if v == other
//   - -1 if v < other
func (v Version) Compare(other Version) int {
	n := len(v)
	if len(other) > n {
		n = len(other)
	}

	for i := 0; i < n; i++ {
		a, b := 0, 0
		if i < len(v) {
			a = v[i]
		}
		if i < len(other) {
			b = other[i]
		}
		if a != b {
			if a > b {
				return 1
			}
			return -1
		}
	}
	return 0
}

// Compare compares two build number strings.
// Returns:
//   - 1 if a > b
//   - 0 if a == b
//   - -1 if a < b
//   - error if either string is not a valid build number
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, fmt.Errorf("invalid version a: %w", err)
	}

	vb, err := Parse(b)
	if err != nil {
		return 0, fmt.Errorf("invalid version b: %w", err)
	}

	return va.Compare(vb), nil
}

// Newer reports whether a is strictly newer than b.
// Returns false when either string fails to parse; callers deciding
// between a persisted marker and the compiled-in default treat a
// malformed marker as not newer rather than as an error.
func Newer(a, b string) bool {
	cmp, err := Compare(a, b)
	if err != nil {
		return false
	}
	return cmp > 0
}

// Normalize removes the 'v' prefix if present.
func Normalize(s string) string {
	return strings.TrimPrefix(s, "v")
}
