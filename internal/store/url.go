package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// URLToDir resolves a repo URL to a repository directory, or reports
// that the URL does not name a local store.
//
// Supported forms:
//   - eager:<path>, eager://<path>
//   - test:<name>, test://<name>: resolved under $TESTTMP
//   - file://<path>: must carry the "eagerepo" store requirement
//   - ssh://user@dummy/<rel>: legacy test form, resolved under $TESTTMP;
//     must carry "eagercompat" or "eagerepo"
func URLToDir(url string) (string, bool) {
	if rest, ok := strings.CutPrefix(url, "eager://"); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(url, "eager:"); ok {
		return rest, true
	}
	if rest, ok := cutTestScheme(url, "test"); ok {
		tmp, ok := testTmp()
		if !ok {
			return "", false
		}
		return filepath.Join(tmp, rest), true
	}
	if rest, ok := strings.CutPrefix(url, "file://"); ok {
		if hasStoreRequirement(rest, "eagerepo") {
			return rest, true
		}
		return "", false
	}
	if rest, ok := strings.CutPrefix(url, "ssh://user@dummy/"); ok {
		tmp, ok := testTmp()
		if !ok {
			return "", false
		}
		dir := filepath.Join(tmp, rest)
		if hasStoreRequirement(dir, "eagercompat") || hasStoreRequirement(dir, "eagerepo") {
			return dir, true
		}
		return "", false
	}
	return "", false
}

func cutTestScheme(url, scheme string) (string, bool) {
	if rest, ok := strings.CutPrefix(url, scheme+"://"); ok {
		return rest, true
	}
	return strings.CutPrefix(url, scheme+":")
}

// testTmp resolves $TESTTMP, following the ".testtmp" breadcrumb file
// that redirects to the real test directory when tests run behind an
// indirection layer.
func testTmp() (string, bool) {
	tmp := os.Getenv("TESTTMP")
	if tmp == "" {
		return "", false
	}
	if data, err := os.ReadFile(filepath.Join(tmp, ".testtmp")); err == nil {
		if redirected := strings.TrimSpace(string(data)); redirected != "" {
			return redirected, true
		}
	}
	return tmp, true
}

// hasStoreRequirement reports whether the repo at dir lists the token in
// its store requires file.
func hasStoreRequirement(dir, token string) bool {
	path := filepath.Join(dir, DotDir, storeSubdir, "requires")
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line == token {
			return true
		}
	}
	return false
}

// MustURLToDir is URLToDir with an error for URLs that do not name a
// local store.
func MustURLToDir(url string) (string, error) {
	dir, ok := URLToDir(url)
	if !ok {
		return "", fmt.Errorf("%q does not name a local repo", url)
	}
	return dir, nil
}
