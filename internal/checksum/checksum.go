// Package checksum parses SHA256SUMS manifests and verifies downloaded
// archives against them.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMismatch is wrapped by verification failures so callers can
// distinguish a corrupted download from an I/O problem.
var ErrMismatch = fmt.Errorf("checksum mismatch")

// ParseManifest parses SHA256SUMS text into a filename → digest map.
// Format is one entry per line: the hex digest, whitespace, then the
// filename with an optional '*' binary-mode marker. Blank and malformed
// lines are ignored; digests are lowercased.
func ParseManifest(text string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		digest, filename := fields[0], fields[1]
		filename = strings.TrimPrefix(filename, "*")
		if filename == "" {
			continue
		}
		result[filename] = strings.ToLower(digest)
	}
	return result
}

// File computes the SHA-256 digest of a file, streaming rather than
// loading it into memory.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile checks a file against an expected hex digest. A mismatch
// wraps ErrMismatch and reports both digests; the archive may be corrupted
// or tampered with.
func VerifyFile(path, expected string) error {
	actual, err := File(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: expected %s, got %s", ErrMismatch, strings.ToLower(expected), actual)
	}
	return nil
}
