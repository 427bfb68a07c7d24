package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/manifold/pkg/atoms/directory"
	"github.com/openfroyo/manifold/pkg/atoms/file"
	"github.com/openfroyo/manifold/pkg/atoms/http"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

// GitHubAPI is the base URL of the GitHub REST API used to look up releases.
var GitHubAPI = "https://api.github.com"

var githubClient = &nethttp.Client{Timeout: 30 * time.Second}

const latestVersion = "latest"

// BinaryGitHub installs a single binary asset from a GitHub release.
type BinaryGitHub struct {
	Name       string `yaml:"name" validate:"required"`
	Directory  string `yaml:"directory" validate:"required"`
	Repository string `yaml:"repository" validate:"required,contains=/"`
	Version    string `yaml:"version,omitempty"`
}

func (b *BinaryGitHub) applyDefaults() error {
	if b.Version == "" {
		b.Version = latestVersion
	}
	return nil
}

// Summarize implements Summarizer.
func (b BinaryGitHub) Summarize() string {
	return fmt.Sprintf("Install %s@%s from %s into %s", b.Name, b.Version, b.Repository, b.Directory)
}

// Plan looks up the release asset for the target platform. An installed
// binary is not looked up again.
func (b BinaryGitHub) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	target := filepath.Join(b.Directory, b.Name)

	if _, err := os.Stat(target); err == nil {
		return []steps.Step{steps.New(&file.Chmod{Path: target, Mode: 0755})}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", target, err)
	}

	release, err := fetchRelease(b.Repository, b.Version)
	if err != nil {
		return nil, err
	}

	asset, err := selectAsset(release.Assets, osName(scope), osArch(scope))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", b.Repository, release.TagName, err)
	}

	return []steps.Step{
		steps.New(
			&directory.Create{Path: b.Directory},
			&http.Download{URL: asset.DownloadURL, Path: target},
			&file.Chmod{Path: target, Mode: 0755},
		),
	}, nil
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

func fetchRelease(repository, version string) (*githubRelease, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s", strings.TrimSuffix(GitHubAPI, "/"), repository, version)
	if version == latestVersion {
		url = fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimSuffix(GitHubAPI, "/"), repository)
	}

	req, err := nethttp.NewRequest(nethttp.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := githubClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch release of %s: %w", repository, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, fmt.Errorf("failed to fetch release %s of %s: status %d", version, repository, resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to decode release of %s: %w", repository, err)
	}
	return &release, nil
}

var (
	osAliases = map[string][]string{
		"linux":   {"linux"},
		"darwin":  {"darwin", "macos", "apple", "osx"},
		"windows": {"windows", "win64"},
		"freebsd": {"freebsd"},
	}
	archAliases = map[string][]string{
		"amd64": {"amd64", "x86_64", "x64"},
		"arm64": {"arm64", "aarch64"},
		"386":   {"386", "i386", "i686"},
		"arm":   {"armv7", "armhf", "arm"},
	}
	nonBinarySuffixes = []string{
		".sha256", ".sha512", ".sha256sum", ".asc", ".sig", ".pem", ".sbom", ".json", ".txt",
		".deb", ".rpm", ".apk", ".msi", ".pkg", ".dmg",
		".tar.gz", ".tgz", ".tar.xz", ".tar.bz2", ".zip",
	}
)

// selectAsset picks the plain binary asset built for goos/goarch. Among
// several candidates the shortest name wins.
func selectAsset(assets []githubAsset, goos, goarch string) (githubAsset, error) {
	var candidates []githubAsset
	for _, asset := range assets {
		name := strings.ToLower(asset.Name)
		if hasAnySuffix(name, nonBinarySuffixes) {
			continue
		}
		if !containsAny(name, aliasesFor(osAliases, goos)) || !containsAny(name, aliasesFor(archAliases, goarch)) {
			continue
		}
		candidates = append(candidates, asset)
	}

	if len(candidates) == 0 {
		return githubAsset{}, fmt.Errorf("no binary asset for %s/%s", goos, goarch)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i].Name) < len(candidates[j].Name)
	})
	return candidates[0], nil
}

func osArch(scope contexts.Contexts) string {
	if v, ok := scope.Lookup("os.arch"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return runtime.GOARCH
}

func aliasesFor(table map[string][]string, key string) []string {
	if aliases, ok := table[key]; ok {
		return aliases
	}
	return []string{key}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}
