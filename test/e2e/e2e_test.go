package e2e

import (
	"archive/tar"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/CloakHQ/cloakbrowser/internal/platform"
	"github.com/CloakHQ/cloakbrowser/internal/version"
)

const binaryName = "cloakbrowser"

var binaryPath string

// TestMain builds the CLI once for the whole suite.
func TestMain(m *testing.M) {
	cmd := exec.Command("go", "build", "-o", binaryName, "../../cmd/cloakbrowser")
	if out, err := cmd.CombinedOutput(); err != nil {
		panic("failed to build binary: " + err.Error() + "\n" + string(out))
	}
	binaryPath, _ = filepath.Abs(binaryName)

	code := m.Run()

	os.Remove(binaryName)
	os.Exit(code)
}

// releaseServer is an in-process stand-in for the download server and
// the GitHub releases API.
type releaseServer struct {
	*httptest.Server

	tag      string
	archive  []byte
	badSums  bool
	releases []map[string]interface{}

	mu   sync.Mutex
	hits map[string]int
}

func newReleaseServer(t *testing.T) *releaseServer {
	t.Helper()

	plat := platform.Detect()
	tag, err := plat.Tag()
	if err != nil {
		t.Skipf("host platform unsupported: %v", err)
	}

	s := &releaseServer{
		tag:     tag,
		archive: buildArchive(t, plat.ExecRelPath()),
		hits:    map[string]int{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *releaseServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/repos/CloakHQ/cloakbrowser/releases":
		json.NewEncoder(w).Encode(s.releases)
	case strings.HasSuffix(r.URL.Path, "/SHA256SUMS"):
		if s.badSums {
			fmt.Fprintf(w, "%s  cloakbrowser-%s.tar.gz\n", strings.Repeat("0", 64), s.tag)
			return
		}
		digest := sha256.Sum256(s.archive)
		fmt.Fprintf(w, "%s  cloakbrowser-%s.tar.gz\n", hex.EncodeToString(digest[:]), s.tag)
	case strings.HasSuffix(r.URL.Path, ".tar.gz"):
		w.Write(s.archive)
	default:
		http.NotFound(w, r)
	}
}

func (s *releaseServer) archiveHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for path, n := range s.hits {
		if strings.HasSuffix(path, ".tar.gz") {
			total += n
		}
	}
	return total
}

// buildArchive produces a minimal Chromium tarball with the executable
// at the path the host platform expects.
func buildArchive(t *testing.T, execRel string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := []struct {
		name    string
		content string
		mode    int64
	}{
		{"chromium-build/" + filepath.ToSlash(execRel), "#!/bin/sh\necho chromium\n", 0o755},
		{"chromium-build/product_version", "e2e build", 0o644},
	}
	for _, f := range files {
		header := &tar.Header{Name: f.name, Mode: f.mode, Size: int64(len(f.content))}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(f.content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// testEnv is one isolated CLI environment: its own HOME, cache dir and
// release server.
type testEnv struct {
	home     string
	cacheDir string
	server   *releaseServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return &testEnv{
		home:     t.TempDir(),
		cacheDir: t.TempDir(),
		server:   newReleaseServer(t),
	}
}

// run executes the built CLI with the environment pointed at the test
// server and cache.
func (e *testEnv) run(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(),
		"HOME="+e.home,
		"CLOAKBROWSER_CACHE_DIR="+e.cacheDir,
		"CLOAKBROWSER_DOWNLOAD_URL="+e.server.URL,
		"CLOAKBROWSER_GITHUB_API_URL="+e.server.URL,
		"CLOAKBROWSER_GEOIP_DB_URL="+e.server.URL+"/missing.mmdb",
		"CLOAKBROWSER_AUTO_UPDATE=false",
	)

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func TestFetchInstallsBinary(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, err := env.run(t, "fetch")
	if err != nil {
		t.Fatalf("fetch failed: %v\nstderr: %s", err, stderr)
	}

	path := strings.TrimSpace(stdout)
	want := filepath.Join(env.cacheDir, "chromium-"+version.Bundled, platform.Detect().ExecRelPath())
	if path != want {
		t.Errorf("fetch printed %q, want %q", path, want)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("fetched binary missing: %v", err)
	}
	if info.Mode()&0o111 == 0 {
		t.Error("fetched binary is not executable")
	}

	// A second fetch serves from the cache.
	stdout2, stderr2, err := env.run(t, "fetch")
	if err != nil {
		t.Fatalf("second fetch failed: %v\nstderr: %s", err, stderr2)
	}
	if strings.TrimSpace(stdout2) != path {
		t.Errorf("second fetch printed %q, want %q", strings.TrimSpace(stdout2), path)
	}
	if hits := env.server.archiveHits(); hits != 1 {
		t.Errorf("archive downloaded %d times across two fetches, want 1", hits)
	}
}

func TestFetchChecksumMismatch(t *testing.T) {
	env := newTestEnv(t)
	env.server.badSums = true

	_, stderr, err := env.run(t, "fetch")
	if err == nil {
		t.Fatal("fetch against a corrupted manifest should fail")
	}
	if !strings.Contains(stderr, "checksum mismatch") {
		t.Errorf("stderr should report the mismatch, got: %s", stderr)
	}
	if _, err := os.Stat(filepath.Join(env.cacheDir, "chromium-"+version.Bundled)); !os.IsNotExist(err) {
		t.Error("nothing may be installed after a checksum mismatch")
	}
}

func TestInfoJSON(t *testing.T) {
	env := newTestEnv(t)

	if _, stderr, err := env.run(t, "fetch"); err != nil {
		t.Fatalf("fetch failed: %v\nstderr: %s", err, stderr)
	}

	stdout, stderr, err := env.run(t, "info", "-o", "json")
	if err != nil {
		t.Fatalf("info failed: %v\nstderr: %s", err, stderr)
	}

	var info struct {
		Version   string `json:"version"`
		Platform  string `json:"platform"`
		Installed bool   `json:"installed"`
	}
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("info -o json produced invalid JSON: %v\n%s", err, stdout)
	}
	if info.Version != version.Bundled {
		t.Errorf("info version = %q, want %q", info.Version, version.Bundled)
	}
	if !info.Installed {
		t.Error("info should report the build installed after fetch")
	}
}

func TestClearRemovesCache(t *testing.T) {
	env := newTestEnv(t)

	if _, stderr, err := env.run(t, "fetch"); err != nil {
		t.Fatalf("fetch failed: %v\nstderr: %s", err, stderr)
	}

	stdout, stderr, err := env.run(t, "clear", "--yes")
	if err != nil {
		t.Fatalf("clear failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "Cache cleared") {
		t.Errorf("clear output = %q", stdout)
	}
	if _, err := os.Stat(env.cacheDir); !os.IsNotExist(err) {
		t.Error("cache dir still present after clear")
	}
}

func TestUpdateCheckReportsNewer(t *testing.T) {
	env := newTestEnv(t)
	newer := "999.0.0.1"
	env.server.releases = []map[string]interface{}{
		{
			"tag_name": "chromium-v" + newer,
			"html_url": "https://example.com/release",
			"assets": []map[string]interface{}{
				{"name": "cloakbrowser-" + env.server.tag + ".tar.gz", "browser_download_url": "https://example.com/a.tar.gz"},
			},
		},
	}

	stdout, stderr, err := env.run(t, "update", "--check")
	if err != nil {
		t.Fatalf("update --check failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, newer) {
		t.Errorf("update --check output should name %s, got: %s", newer, stdout)
	}
}

func TestGeoNeverFails(t *testing.T) {
	env := newTestEnv(t)

	// Unreachable proxy and a 404 geo database: the command still exits
	// zero with unknown fields.
	stdout, stderr, err := env.run(t, "geo", "http://127.0.0.1:1", "-o", "json")
	if err != nil {
		t.Fatalf("geo must not fail on an unreachable proxy: %v\nstderr: %s", err, stderr)
	}

	var result struct {
		IP       string `json:"ip"`
		Timezone string `json:"timezone"`
		Locale   string `json:"locale"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("geo -o json produced invalid JSON: %v\n%s", err, stdout)
	}
	if result.IP != "" || result.Timezone != "" || result.Locale != "" {
		t.Errorf("geo = %+v, want all fields unknown", result)
	}
}

func TestInitWritesConfig(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, err := env.run(t, "init")
	if err != nil {
		t.Fatalf("init failed: %v\nstderr: %s", err, stderr)
	}

	path := filepath.Join(env.home, ".cloakbrowser", "config.toml")
	if !strings.Contains(stdout, path) {
		t.Errorf("init output %q does not name %s", stdout, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(content), "checksum_policy") {
		t.Error("written config missing checksum_policy")
	}
}

func TestVersionShowsBundledChromium(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, err := env.run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, version.Bundled) {
		t.Errorf("version output should include the bundled chromium %s, got: %s", version.Bundled, stdout)
	}
}

func TestPruneRemovesOldBuilds(t *testing.T) {
	env := newTestEnv(t)

	if _, stderr, err := env.run(t, "fetch"); err != nil {
		t.Fatalf("fetch failed: %v\nstderr: %s", err, stderr)
	}

	// Seed a stale older install next to the fetched one.
	staleBin := filepath.Join(env.cacheDir, "chromium-100.0.0.1", platform.Detect().ExecRelPath())
	if err := os.MkdirAll(filepath.Dir(staleBin), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(staleBin, []byte("stale"), 0o755); err != nil {
		t.Fatal(err)
	}

	stdout, stderr, err := env.run(t, "prune", "--keep", "1")
	if err != nil {
		t.Fatalf("prune failed: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "100.0.0.1") {
		t.Errorf("prune output should name the removed build, got: %s", stdout)
	}
	if _, err := os.Stat(filepath.Dir(staleBin)); !os.IsNotExist(err) {
		t.Error("stale build still present after prune")
	}
	if _, err := os.Stat(filepath.Join(env.cacheDir, "chromium-"+version.Bundled)); err != nil {
		t.Error("current build must survive prune")
	}
}
