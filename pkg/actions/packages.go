package actions

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/openfroyo/manifold/pkg/atoms"
	"github.com/openfroyo/manifold/pkg/atoms/command"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

// Package providers.
const (
	ProviderAPT    = "apt"
	ProviderDNF    = "dnf"
	ProviderYum    = "yum"
	ProviderZypper = "zypper"
	ProviderPacman = "pacman"
	ProviderBrew   = "brew"
)

type packageProvider struct {
	name       string
	privileged bool
	env        map[string]string

	// install returns the argv installing pkgs, optionally from repository.
	install func(pkgs []string, repository string) []string
	// installFiles returns the argv installing local package files.
	installFiles func(paths []string) []string
	// query returns the argv that succeeds when pkg is installed.
	query func(pkg string) []string
	// addRepository returns the argv sequence registering a repository.
	addRepository func(name, slug string) [][]string
	// importKey returns the argv sequence trusting a signing key.
	importKey func(key RepositoryKey, slug string) [][]string
}

func aptKeyring(slug string) string {
	return filepath.Join("/etc/apt/keyrings", slug+".gpg")
}

var packageProviders = map[string]*packageProvider{
	ProviderAPT: {
		name:       ProviderAPT,
		privileged: true,
		env:        map[string]string{"DEBIAN_FRONTEND": "noninteractive"},
		install: func(pkgs []string, repository string) []string {
			argv := []string{"apt-get", "install", "-y", "--no-install-recommends"}
			if repository != "" {
				argv = append(argv, "-t", repository)
			}
			return append(argv, pkgs...)
		},
		installFiles: func(paths []string) []string {
			return append([]string{"apt-get", "install", "-y"}, paths...)
		},
		query: func(pkg string) []string {
			return []string{"dpkg", "-s", pkg}
		},
		addRepository: func(name, slug string) [][]string {
			return [][]string{
				{"add-apt-repository", "-y", name},
				{"apt-get", "update"},
			}
		},
		importKey: func(key RepositoryKey, slug string) [][]string {
			keyring := aptKeyring(slug)
			if key.Fingerprint != "" {
				return [][]string{{
					"gpg", "--no-default-keyring", "--keyring", keyring,
					"--keyserver", "hkps://keyserver.ubuntu.com", "--recv-keys", key.Fingerprint,
				}}
			}
			return [][]string{{"sh", "-c", fmt.Sprintf("curl -fsSL %q | gpg --dearmor --yes -o %q", key.URL, keyring)}}
		},
	},
	ProviderDNF:    rpmProvider(ProviderDNF),
	ProviderYum:    rpmProvider(ProviderYum),
	ProviderZypper: zypperProvider(),
	ProviderPacman: {
		name:       ProviderPacman,
		privileged: true,
		install: func(pkgs []string, repository string) []string {
			argv := []string{"pacman", "-S", "--noconfirm", "--needed"}
			for _, pkg := range pkgs {
				if repository != "" {
					pkg = repository + "/" + pkg
				}
				argv = append(argv, pkg)
			}
			return argv
		},
		installFiles: func(paths []string) []string {
			return append([]string{"pacman", "-U", "--noconfirm"}, paths...)
		},
		query: func(pkg string) []string {
			return []string{"pacman", "-Qi", pkg}
		},
	},
	ProviderBrew: {
		name: ProviderBrew,
		install: func(pkgs []string, repository string) []string {
			argv := []string{"brew", "install"}
			for _, pkg := range pkgs {
				if repository != "" {
					pkg = repository + "/" + pkg
				}
				argv = append(argv, pkg)
			}
			return argv
		},
		query: func(pkg string) []string {
			return []string{"brew", "list", "--versions", pkg}
		},
		addRepository: func(name, slug string) [][]string {
			return [][]string{{"brew", "tap", name}}
		},
	},
}

func rpmProvider(name string) *packageProvider {
	return &packageProvider{
		name:       name,
		privileged: true,
		install: func(pkgs []string, repository string) []string {
			argv := []string{name, "install", "-y"}
			if repository != "" {
				argv = append(argv, "--enablerepo", repository)
			}
			return append(argv, pkgs...)
		},
		installFiles: func(paths []string) []string {
			return append([]string{name, "install", "-y"}, paths...)
		},
		query: func(pkg string) []string {
			return []string{"rpm", "-q", pkg}
		},
		addRepository: func(repo, slug string) [][]string {
			if name == ProviderYum {
				return [][]string{{"yum-config-manager", "--add-repo", repo}}
			}
			return [][]string{{"dnf", "config-manager", "--add-repo", repo}}
		},
		importKey: func(key RepositoryKey, slug string) [][]string {
			return [][]string{{"rpm", "--import", key.URL}}
		},
	}
}

func zypperProvider() *packageProvider {
	return &packageProvider{
		name:       ProviderZypper,
		privileged: true,
		install: func(pkgs []string, repository string) []string {
			argv := []string{"zypper", "--non-interactive", "install"}
			if repository != "" {
				argv = append(argv, "--from", repository)
			}
			return append(argv, pkgs...)
		},
		installFiles: func(paths []string) []string {
			return append([]string{"zypper", "--non-interactive", "install"}, paths...)
		},
		query: func(pkg string) []string {
			return []string{"rpm", "-q", pkg}
		},
		addRepository: func(name, slug string) [][]string {
			return [][]string{
				{"zypper", "--non-interactive", "addrepo", "--refresh", name, slug},
				{"zypper", "--non-interactive", "--gpg-auto-import-keys", "refresh"},
			}
		},
		importKey: func(key RepositoryKey, slug string) [][]string {
			return [][]string{{"rpm", "--import", key.URL}}
		},
	}
}

var distributionProviders = map[string]string{
	"debian":              ProviderAPT,
	"ubuntu":              ProviderAPT,
	"linuxmint":           ProviderAPT,
	"pop":                 ProviderAPT,
	"raspbian":            ProviderAPT,
	"elementary":          ProviderAPT,
	"fedora":              ProviderDNF,
	"rhel":                ProviderDNF,
	"centos":              ProviderDNF,
	"rocky":               ProviderDNF,
	"almalinux":           ProviderDNF,
	"amzn":                ProviderYum,
	"opensuse":            ProviderZypper,
	"opensuse-leap":       ProviderZypper,
	"opensuse-tumbleweed": ProviderZypper,
	"sles":                ProviderZypper,
	"arch":                ProviderPacman,
	"manjaro":             ProviderPacman,
	"endeavouros":         ProviderPacman,
}

// resolveProvider returns the explicit provider or the one matching the run
// context.
func resolveProvider(explicit string, scope contexts.Contexts) (*packageProvider, error) {
	name := explicit
	if name == "" {
		if osName(scope) == "darwin" {
			name = ProviderBrew
		} else {
			distribution := osDistribution(scope)
			name = distributionProviders[distribution]
			if name == "" {
				return nil, fmt.Errorf("no package provider for distribution %q", distribution)
			}
		}
	}

	provider, ok := packageProviders[name]
	if !ok {
		return nil, fmt.Errorf("unknown package provider %q", name)
	}
	return provider, nil
}

func (p *packageProvider) exec(argv []string, unless []string) *command.Exec {
	return &command.Exec{
		Command:    argv[0],
		Args:       argv[1:],
		Env:        p.env,
		Privileged: p.privileged,
		Unless:     unless,
	}
}

// PackageInstall installs packages with the system package manager.
type PackageInstall struct {
	Name       string   `yaml:"name,omitempty" validate:"required_without=List"`
	List       []string `yaml:"list,omitempty" validate:"required_without=Name,dive,required"`
	Provider   string   `yaml:"provider,omitempty" validate:"omitempty,oneof=apt dnf yum zypper pacman brew"`
	Repository string   `yaml:"repository,omitempty"`
	File       bool     `yaml:"file,omitempty"`
}

// Packages returns Name followed by List.
func (p PackageInstall) Packages() []string {
	var pkgs []string
	if p.Name != "" {
		pkgs = append(pkgs, p.Name)
	}
	return append(pkgs, p.List...)
}

// Summarize implements Summarizer.
func (p PackageInstall) Summarize() string {
	return fmt.Sprintf("Install packages %s", strings.Join(p.Packages(), ", "))
}

// Plan produces one command per package. Each command is skipped at execution
// time when the package is already installed.
func (p PackageInstall) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	provider, err := resolveProvider(p.Provider, scope)
	if err != nil {
		return nil, err
	}

	pkgs := p.Packages()

	if p.File {
		if provider.installFiles == nil {
			return nil, fmt.Errorf("provider %s cannot install package files", provider.name)
		}
		paths := make([]string, len(pkgs))
		for i, pkg := range pkgs {
			paths[i] = origin.FilePath(pkg)
		}
		return []steps.Step{steps.New(provider.exec(provider.installFiles(paths), nil))}, nil
	}

	list := make([]atoms.Atom, 0, len(pkgs))
	for _, pkg := range pkgs {
		list = append(list, provider.exec(provider.install([]string{pkg}, p.Repository), provider.query(pkg)))
	}
	return []steps.Step{steps.New(list...)}, nil
}

// RepositoryKey identifies the signing key of a package repository.
type RepositoryKey struct {
	URL         string `yaml:"url,omitempty" validate:"omitempty,url"`
	Fingerprint string `yaml:"fingerprint,omitempty" validate:"omitempty,hexadecimal"`
}

// PackageRepository registers an additional package repository.
type PackageRepository struct {
	Name     string        `yaml:"name" validate:"required"`
	Key      RepositoryKey `yaml:"key,omitempty"`
	Provider string        `yaml:"provider,omitempty" validate:"omitempty,oneof=apt dnf yum zypper pacman brew"`
}

// Summarize implements Summarizer.
func (p PackageRepository) Summarize() string {
	return fmt.Sprintf("Add package repository %s", p.Name)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Plan implements Payload.
func (p PackageRepository) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	provider, err := resolveProvider(p.Provider, scope)
	if err != nil {
		return nil, err
	}
	if provider.addRepository == nil {
		return nil, fmt.Errorf("provider %s does not support repositories", provider.name)
	}

	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(p.Name), "-"), "-")

	var list []atoms.Atom
	if p.Key.URL != "" || p.Key.Fingerprint != "" {
		if provider.importKey == nil {
			return nil, fmt.Errorf("provider %s does not support repository keys", provider.name)
		}
		if p.Key.URL == "" && provider.name != ProviderAPT {
			return nil, fmt.Errorf("provider %s requires a key url", provider.name)
		}
		for _, argv := range provider.importKey(p.Key, slug) {
			list = append(list, provider.exec(argv, nil))
		}
	}
	for _, argv := range provider.addRepository(p.Name, slug) {
		list = append(list, provider.exec(argv, nil))
	}

	return []steps.Step{steps.New(list...)}, nil
}
