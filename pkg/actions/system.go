package actions

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/manifold/pkg/atoms"
	"github.com/openfroyo/manifold/pkg/atoms/command"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

func privileged(argv []string, unless []string) *command.Exec {
	return &command.Exec{
		Command:    argv[0],
		Args:       argv[1:],
		Privileged: true,
		Unless:     unless,
	}
}

// GroupAdd creates a local group.
type GroupAdd struct {
	GroupName string `yaml:"group_name" validate:"required"`
}

// Summarize implements Summarizer.
func (g GroupAdd) Summarize() string {
	return fmt.Sprintf("Add group %s", g.GroupName)
}

// Plan implements Payload.
func (g GroupAdd) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	switch osName(scope) {
	case "darwin":
		record := "/Groups/" + g.GroupName
		return []steps.Step{steps.New(
			privileged([]string{"dscl", ".", "-create", record}, []string{"dscl", ".", "-read", record}),
		)}, nil
	case "linux":
		return []steps.Step{steps.New(
			privileged([]string{"groupadd", g.GroupName}, []string{"getent", "group", g.GroupName}),
		)}, nil
	default:
		return nil, fmt.Errorf("group.add is not supported on %s", osName(scope))
	}
}

// MacOSDefault writes a macOS user default.
type MacOSDefault struct {
	Domain string `yaml:"domain" validate:"required"`
	Key    string `yaml:"key" validate:"required"`
	Kind   string `yaml:"kind" validate:"required,oneof=string data int integer float bool boolean date array array-add dict dict-add"`
	Value  string `yaml:"value" validate:"required"`
}

// Summarize implements Summarizer.
func (m MacOSDefault) Summarize() string {
	return fmt.Sprintf("Set default %s %s to %s", m.Domain, m.Key, m.Value)
}

// Plan produces nothing outside macOS.
func (m MacOSDefault) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	if osName(scope) != "darwin" {
		log.Warn().Str("domain", m.Domain).Str("key", m.Key).Msg("macos.default skipped on non-macOS system")
		return []steps.Step{}, nil
	}

	return []steps.Step{steps.New(&command.Exec{
		Command: "defaults",
		Args:    []string{"write", m.Domain, m.Key, "-" + m.Kind, m.Value},
	})}, nil
}

// UserAdd creates a local user.
type UserAdd struct {
	Username string   `yaml:"username" validate:"required"`
	Fullname string   `yaml:"fullname,omitempty"`
	HomeDir  string   `yaml:"home_dir,omitempty"`
	Shell    string   `yaml:"shell,omitempty"`
	Group    []string `yaml:"group,omitempty" validate:"dive,required"`
}

// Summarize implements Summarizer.
func (u UserAdd) Summarize() string {
	return fmt.Sprintf("Add user %s", u.Username)
}

// Plan implements Payload.
func (u UserAdd) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	switch osName(scope) {
	case "darwin":
		argv := []string{"sysadminctl", "-addUser", u.Username}
		if u.Fullname != "" {
			argv = append(argv, "-fullName", u.Fullname)
		}
		if u.HomeDir != "" {
			argv = append(argv, "-home", u.HomeDir)
		}
		if u.Shell != "" {
			argv = append(argv, "-shell", u.Shell)
		}

		list := []atoms.Atom{privileged(argv, []string{"id", "-u", u.Username})}
		list = append(list, darwinGroupMembership(u.Username, u.Group)...)
		return []steps.Step{steps.New(list...)}, nil

	case "linux":
		argv := []string{"useradd"}
		if u.Fullname != "" {
			argv = append(argv, "-c", u.Fullname)
		}
		if u.HomeDir != "" {
			argv = append(argv, "-d", u.HomeDir, "-m")
		}
		if u.Shell != "" {
			argv = append(argv, "-s", u.Shell)
		}
		if len(u.Group) > 0 {
			argv = append(argv, "-G", strings.Join(u.Group, ","))
		}
		argv = append(argv, u.Username)

		return []steps.Step{steps.New(privileged(argv, []string{"id", "-u", u.Username}))}, nil

	default:
		return nil, fmt.Errorf("user.add is not supported on %s", osName(scope))
	}
}

// UserGroup adds an existing user to groups.
type UserGroup struct {
	Username string   `yaml:"username" validate:"required"`
	Group    []string `yaml:"group" validate:"required,min=1,dive,required"`
}

// Summarize implements Summarizer.
func (u UserGroup) Summarize() string {
	return fmt.Sprintf("Add user %s to groups %s", u.Username, strings.Join(u.Group, ", "))
}

// Plan implements Payload.
func (u UserGroup) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	switch osName(scope) {
	case "darwin":
		return []steps.Step{steps.New(darwinGroupMembership(u.Username, u.Group)...)}, nil
	case "linux":
		return []steps.Step{steps.New(
			privileged([]string{"usermod", "-aG", strings.Join(u.Group, ","), u.Username}, nil),
		)}, nil
	default:
		return nil, fmt.Errorf("user.group is not supported on %s", osName(scope))
	}
}

func darwinGroupMembership(username string, groups []string) []atoms.Atom {
	list := make([]atoms.Atom, 0, len(groups))
	for _, group := range groups {
		list = append(list, privileged(
			[]string{"dseditgroup", "-o", "edit", "-a", username, "-t", "user", group},
			[]string{"dseditgroup", "-o", "checkmember", "-m", username, group},
		))
	}
	return list
}
