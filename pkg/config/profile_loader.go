package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clearstone/dealkernel/pkg/contracts"
)

//go:embed authority_profile.yaml
var defaultProfileYAML []byte

// AuthorityProfile is the parsed default-rule set seeded into every new deal.
type AuthorityProfile struct {
	Actions []ProfileRule `yaml:"actions"`
}

// ProfileRule is one action's default rule in the profile file.
type ProfileRule struct {
	Action        string   `yaml:"action"`
	Threshold     int      `yaml:"threshold"`
	RolesAllowed  []string `yaml:"rolesAllowed"`
	RolesRequired []string `yaml:"rolesRequired"`
}

// DefaultAuthorityRules parses the embedded profile into rule templates
// (DealID left empty; the kernel stamps it at deal creation).
func DefaultAuthorityRules() ([]contracts.AuthorityRule, error) {
	return parseProfile(defaultProfileYAML)
}

// LoadAuthorityProfile reads a profile override from disk, for deployments
// that replace the embedded defaults.
func LoadAuthorityProfile(path string) ([]contracts.AuthorityRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load authority profile %q: %w", path, err)
	}
	return parseProfile(data)
}

func parseProfile(data []byte) ([]contracts.AuthorityRule, error) {
	var profile AuthorityProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse authority profile: %w", err)
	}
	if len(profile.Actions) == 0 {
		return nil, fmt.Errorf("authority profile defines no actions")
	}

	known := map[string]bool{}
	for _, name := range contracts.KnownRoles {
		known[name] = true
	}

	seen := map[string]bool{}
	rules := make([]contracts.AuthorityRule, 0, len(profile.Actions))
	for _, pr := range profile.Actions {
		if pr.Action == "" {
			return nil, fmt.Errorf("authority profile: rule with empty action")
		}
		if seen[pr.Action] {
			return nil, fmt.Errorf("authority profile: duplicate action %s", pr.Action)
		}
		seen[pr.Action] = true
		if pr.Threshold < 0 {
			return nil, fmt.Errorf("authority profile: %s has negative threshold", pr.Action)
		}
		if len(pr.RolesAllowed) == 0 {
			return nil, fmt.Errorf("authority profile: %s allows no roles", pr.Action)
		}
		for _, role := range append(append([]string{}, pr.RolesAllowed...), pr.RolesRequired...) {
			if !known[role] {
				return nil, fmt.Errorf("authority profile: %s references unknown role %s", pr.Action, role)
			}
		}
		required := pr.RolesRequired
		if required == nil {
			required = []string{}
		}
		rules = append(rules, contracts.AuthorityRule{
			Action:        contracts.Action(pr.Action),
			Threshold:     pr.Threshold,
			RolesAllowed:  pr.RolesAllowed,
			RolesRequired: required,
		})
	}
	return rules, nil
}
