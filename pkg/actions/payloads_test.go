package actions

import (
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/manifold/pkg/atoms/command"
	"github.com/openfroyo/manifold/pkg/atoms/directory"
	"github.com/openfroyo/manifold/pkg/atoms/file"
	"github.com/openfroyo/manifold/pkg/atoms/http"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

func linuxScope(distribution string) contexts.Contexts {
	return contexts.New(map[string]any{
		"os": map[string]any{
			"name":         "linux",
			"family":       "unix",
			"arch":         "amd64",
			"distribution": distribution,
		},
		"user": map[string]any{"name": "deploy"},
	})
}

func darwinScope() contexts.Contexts {
	return contexts.New(map[string]any{
		"os": map[string]any{"name": "darwin", "family": "unix", "arch": "arm64"},
	})
}

func newOrigin(t *testing.T) Origin {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, FilesDir), 0755))
	return Origin{Name: "test", Root: root}
}

func argv(t *testing.T, planned []steps.Step) [][]string {
	t.Helper()
	var out [][]string
	for _, s := range planned {
		for _, a := range s.Atoms {
			exec, ok := a.(*command.Exec)
			require.True(t, ok, "expected *command.Exec, got %T", a)
			out = append(out, append([]string{exec.Command}, exec.Args...))
		}
	}
	return out
}

func TestFileCopy_Plan(t *testing.T) {
	origin := newOrigin(t)
	require.NoError(t, os.WriteFile(filepath.Join(origin.Root, FilesDir, "motd"), []byte("Hello {{ .user.name }} on {{ .os.distribution }}\n"), 0644))

	target := filepath.Join(t.TempDir(), "etc", "motd")
	payload := FileCopy{From: "motd", To: target, Chmod: "600", Template: true}

	planned, err := payload.Plan(origin, linuxScope("debian"))
	require.NoError(t, err)
	require.Len(t, planned, 1)

	atoms := planned[0].Atoms
	require.Len(t, atoms, 4)
	assert.Equal(t, &directory.Create{Path: filepath.Dir(target)}, atoms[0])
	assert.Equal(t, &file.Create{Path: target}, atoms[1])
	assert.Equal(t, &file.SetContents{Path: target, Contents: []byte("Hello deploy on debian\n")}, atoms[2])
	assert.Equal(t, &file.Chmod{Path: target, Mode: 0600}, atoms[3])
}

func TestFileCopy_TemplateMissingKey(t *testing.T) {
	origin := newOrigin(t)
	require.NoError(t, os.WriteFile(filepath.Join(origin.Root, FilesDir, "conf"), []byte("{{ .nope }}"), 0644))

	_, err := FileCopy{From: "conf", To: "/tmp/conf", Chmod: "644", Template: true}.Plan(origin, linuxScope("debian"))
	require.Error(t, err)
}

func TestFileCopy_MissingSource(t *testing.T) {
	_, err := FileCopy{From: "absent", To: "/tmp/x", Chmod: "644"}.Plan(newOrigin(t), linuxScope("debian"))
	require.Error(t, err)
}

func TestFileLink_Plan(t *testing.T) {
	origin := newOrigin(t)

	planned, err := FileLink{From: "vimrc", To: "/home/deploy/.vimrc"}.Plan(origin, linuxScope("debian"))
	require.NoError(t, err)
	require.Len(t, planned, 1)
	assert.Equal(t, &file.Link{Source: filepath.Join(origin.Root, FilesDir, "vimrc"), Target: "/home/deploy/.vimrc"}, planned[0].Atoms[1])

	planned, err = FileLink{From: "/etc/vimrc", To: "/home/deploy/.vimrc"}.Plan(origin, linuxScope("debian"))
	require.NoError(t, err)
	assert.Equal(t, &file.Link{Source: "/etc/vimrc", Target: "/home/deploy/.vimrc"}, planned[0].Atoms[1])
}

func TestFileDownload_Plan(t *testing.T) {
	planned, err := FileDownload{From: "https://example.com/tool", To: "/opt/bin/tool", Chmod: "755"}.Plan(Origin{}, linuxScope("debian"))
	require.NoError(t, err)
	require.Len(t, planned, 1)
	require.Len(t, planned[0].Atoms, 3)
	assert.Equal(t, &http.Download{URL: "https://example.com/tool", Path: "/opt/bin/tool"}, planned[0].Atoms[1])
	assert.Equal(t, &file.Chmod{Path: "/opt/bin/tool", Mode: 0755}, planned[0].Atoms[2])
}

func TestDirectoryCopy_Plan(t *testing.T) {
	origin := newOrigin(t)
	source := filepath.Join(origin.Root, FilesDir, "skel")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "a"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "config", "b"), []byte("b"), 0644))

	planned, err := DirectoryCopy{From: "skel", To: "/home/deploy"}.Plan(origin, linuxScope("debian"))
	require.NoError(t, err)
	require.Len(t, planned, 1)

	var names []string
	for _, a := range planned[0].Atoms {
		names = append(names, a.String())
	}
	assert.Equal(t, []string{
		"DirCreate /home/deploy",
		"FileCopy " + filepath.Join(source, "a") + " to /home/deploy/a",
		"DirCreate /home/deploy/config",
		"FileCopy " + filepath.Join(source, "config", "b") + " to /home/deploy/config/b",
	}, names)
}

func TestDirectoryCopy_Execute(t *testing.T) {
	origin := newOrigin(t)
	source := filepath.Join(origin.Root, FilesDir, "skel")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "nested", "file"), []byte("data"), 0644))

	target := filepath.Join(t.TempDir(), "copy")
	planned, err := DirectoryCopy{From: "skel", To: target}.Plan(origin, linuxScope("debian"))
	require.NoError(t, err)

	_, err = steps.ExecuteAll(t.Context(), planned)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(target, "nested", "file"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestPackageInstall_Plan(t *testing.T) {
	tests := []struct {
		name         string
		payload      PackageInstall
		scope        contexts.Contexts
		wantArgv     [][]string
		wantUnless   []string
		wantPrivilge bool
	}{
		{
			name:         "apt from distribution",
			payload:      PackageInstall{Name: "git", List: []string{"curl"}},
			scope:        linuxScope("debian"),
			wantArgv:     [][]string{{"apt-get", "install", "-y", "--no-install-recommends", "git"}, {"apt-get", "install", "-y", "--no-install-recommends", "curl"}},
			wantUnless:   []string{"dpkg", "-s", "git"},
			wantPrivilge: true,
		},
		{
			name:         "dnf with repository",
			payload:      PackageInstall{Name: "htop", Repository: "epel"},
			scope:        linuxScope("rocky"),
			wantArgv:     [][]string{{"dnf", "install", "-y", "--enablerepo", "epel", "htop"}},
			wantUnless:   []string{"rpm", "-q", "htop"},
			wantPrivilge: true,
		},
		{
			name:       "brew on darwin",
			payload:    PackageInstall{List: []string{"jq"}},
			scope:      darwinScope(),
			wantArgv:   [][]string{{"brew", "install", "jq"}},
			wantUnless: []string{"brew", "list", "--versions", "jq"},
		},
		{
			name:         "explicit provider wins",
			payload:      PackageInstall{Name: "vim", Provider: "pacman"},
			scope:        linuxScope("debian"),
			wantArgv:     [][]string{{"pacman", "-S", "--noconfirm", "--needed", "vim"}},
			wantUnless:   []string{"pacman", "-Qi", "vim"},
			wantPrivilge: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planned, err := tt.payload.Plan(Origin{}, tt.scope)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArgv, argv(t, planned))

			first := planned[0].Atoms[0].(*command.Exec)
			assert.Equal(t, tt.wantUnless, first.Unless)
			assert.Equal(t, tt.wantPrivilge, first.Privileged)
		})
	}
}

func TestPackageInstall_Files(t *testing.T) {
	origin := newOrigin(t)
	planned, err := PackageInstall{Name: "tool.deb", File: true}.Plan(origin, linuxScope("ubuntu"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"apt-get", "install", "-y", filepath.Join(origin.Root, FilesDir, "tool.deb")}}, argv(t, planned))

	_, err = PackageInstall{Name: "tool", File: true}.Plan(origin, darwinScope())
	require.Error(t, err)
}

func TestPackageInstall_UnknownDistribution(t *testing.T) {
	_, err := PackageInstall{Name: "git"}.Plan(Origin{}, linuxScope("gentoo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gentoo")
}

func TestPackageRepository_Plan(t *testing.T) {
	planned, err := PackageRepository{
		Name: "ppa:git-core/ppa",
		Key:  RepositoryKey{Fingerprint: "E1DD270288B4E6030699E45FA1715D88E1DF1F24"},
	}.Plan(Origin{}, linuxScope("ubuntu"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"gpg", "--no-default-keyring", "--keyring", "/etc/apt/keyrings/ppa-git-core-ppa.gpg", "--keyserver", "hkps://keyserver.ubuntu.com", "--recv-keys", "E1DD270288B4E6030699E45FA1715D88E1DF1F24"},
		{"add-apt-repository", "-y", "ppa:git-core/ppa"},
		{"apt-get", "update"},
	}, argv(t, planned))

	planned, err = PackageRepository{Name: "homebrew/cask-fonts"}.Plan(Origin{}, darwinScope())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"brew", "tap", "homebrew/cask-fonts"}}, argv(t, planned))

	_, err = PackageRepository{Name: "x", Key: RepositoryKey{Fingerprint: "ABCD"}}.Plan(Origin{}, linuxScope("fedora"))
	require.Error(t, err)

	_, err = PackageRepository{Name: "x"}.Plan(Origin{}, linuxScope("arch"))
	require.Error(t, err)
}

func TestSystemActions_Plan(t *testing.T) {
	tests := []struct {
		name  string
		plan  func() ([]steps.Step, error)
		want  [][]string
		empty bool
	}{
		{
			name: "group.add linux",
			plan: func() ([]steps.Step, error) { return GroupAdd{GroupName: "docker"}.Plan(Origin{}, linuxScope("debian")) },
			want: [][]string{{"groupadd", "docker"}},
		},
		{
			name: "group.add darwin",
			plan: func() ([]steps.Step, error) { return GroupAdd{GroupName: "docker"}.Plan(Origin{}, darwinScope()) },
			want: [][]string{{"dscl", ".", "-create", "/Groups/docker"}},
		},
		{
			name: "user.add linux",
			plan: func() ([]steps.Step, error) {
				return UserAdd{Username: "deploy", Fullname: "Deploy User", HomeDir: "/srv/deploy", Shell: "/bin/bash", Group: []string{"docker", "wheel"}}.Plan(Origin{}, linuxScope("debian"))
			},
			want: [][]string{{"useradd", "-c", "Deploy User", "-d", "/srv/deploy", "-m", "-s", "/bin/bash", "-G", "docker,wheel", "deploy"}},
		},
		{
			name: "user.add darwin",
			plan: func() ([]steps.Step, error) {
				return UserAdd{Username: "deploy", Group: []string{"admin"}}.Plan(Origin{}, darwinScope())
			},
			want: [][]string{
				{"sysadminctl", "-addUser", "deploy"},
				{"dseditgroup", "-o", "edit", "-a", "deploy", "-t", "user", "admin"},
			},
		},
		{
			name: "user.group linux",
			plan: func() ([]steps.Step, error) {
				return UserGroup{Username: "deploy", Group: []string{"docker", "audio"}}.Plan(Origin{}, linuxScope("debian"))
			},
			want: [][]string{{"usermod", "-aG", "docker,audio", "deploy"}},
		},
		{
			name: "macos.default darwin",
			plan: func() ([]steps.Step, error) {
				return MacOSDefault{Domain: "com.apple.dock", Key: "autohide", Kind: "bool", Value: "true"}.Plan(Origin{}, darwinScope())
			},
			want: [][]string{{"defaults", "write", "com.apple.dock", "autohide", "-bool", "true"}},
		},
		{
			name: "macos.default elsewhere",
			plan: func() ([]steps.Step, error) {
				return MacOSDefault{Domain: "com.apple.dock", Key: "autohide", Kind: "bool", Value: "true"}.Plan(Origin{}, linuxScope("debian"))
			},
			empty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planned, err := tt.plan()
			require.NoError(t, err)
			if tt.empty {
				assert.Empty(t, planned)
				return
			}
			assert.Equal(t, tt.want, argv(t, planned))
		})
	}
}

func TestSystemActions_UnsupportedOS(t *testing.T) {
	scope := contexts.New(map[string]any{"os": map[string]any{"name": "plan9"}})

	_, err := GroupAdd{GroupName: "g"}.Plan(Origin{}, scope)
	require.Error(t, err)
	_, err = UserAdd{Username: "u"}.Plan(Origin{}, scope)
	require.Error(t, err)
	_, err = UserGroup{Username: "u", Group: []string{"g"}}.Plan(Origin{}, scope)
	require.Error(t, err)
}

func TestBinaryGitHub_Plan(t *testing.T) {
	var requested string
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		requested = r.URL.Path
		_ = json.NewEncoder(w).Encode(githubRelease{
			TagName: "v1.2.3",
			Assets: []githubAsset{
				{Name: "tool_1.2.3_checksums.txt", DownloadURL: "https://example.com/checksums.txt"},
				{Name: "tool_linux_amd64.tar.gz", DownloadURL: "https://example.com/tool_linux_amd64.tar.gz"},
				{Name: "tool_linux_x86_64", DownloadURL: "https://example.com/tool_linux_x86_64"},
				{Name: "tool_darwin_arm64", DownloadURL: "https://example.com/tool_darwin_arm64"},
			},
		})
	}))
	defer server.Close()

	previous := GitHubAPI
	GitHubAPI = server.URL
	t.Cleanup(func() { GitHubAPI = previous })

	dir := t.TempDir()
	payload := BinaryGitHub{Name: "tool", Directory: dir, Repository: "owner/tool", Version: "latest"}

	planned, err := payload.Plan(Origin{}, linuxScope("debian"))
	require.NoError(t, err)
	assert.Equal(t, "/repos/owner/tool/releases/latest", requested)
	require.Len(t, planned, 1)
	require.Len(t, planned[0].Atoms, 3)
	assert.Equal(t, &http.Download{URL: "https://example.com/tool_linux_x86_64", Path: filepath.Join(dir, "tool")}, planned[0].Atoms[1])

	payload.Version = "v1.2.3"
	planned, err = payload.Plan(Origin{}, darwinScope())
	require.NoError(t, err)
	assert.Equal(t, "/repos/owner/tool/releases/tags/v1.2.3", requested)
	assert.Equal(t, &http.Download{URL: "https://example.com/tool_darwin_arm64", Path: filepath.Join(dir, "tool")}, planned[0].Atoms[1])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tool"), []byte("bin"), 0644))
	requested = ""
	planned, err = payload.Plan(Origin{}, linuxScope("debian"))
	require.NoError(t, err)
	assert.Empty(t, requested)
	assert.Equal(t, []steps.Step{steps.New(&file.Chmod{Path: filepath.Join(dir, "tool"), Mode: 0755})}, planned)
}

func TestSelectAsset(t *testing.T) {
	assets := []githubAsset{
		{Name: "tool-windows-amd64.exe"},
		{Name: "tool-darwin-amd64"},
		{Name: "tool-linux-arm64.sha256"},
		{Name: "tool-linux-aarch64"},
	}

	asset, err := selectAsset(assets, "linux", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "tool-linux-aarch64", asset.Name)

	asset, err = selectAsset(assets, "windows", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "tool-windows-amd64.exe", asset.Name)

	_, err = selectAsset(assets, "freebsd", "amd64")
	require.Error(t, err)
}
