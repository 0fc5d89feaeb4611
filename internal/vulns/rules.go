// Package vulns matches detected services against a rule set of known
// weaknesses.
package vulns

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/netsentry/internal/errors"
)

//go:embed rules.yaml
var defaultRules []byte

// Severity levels, most severe first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityInfo     = "info"
)

// Severities lists every severity from most to least severe.
var Severities = []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// SeverityRank orders severities; higher is more severe. Unknown values rank 0.
func SeverityRank(s string) int {
	for i, sev := range Severities {
		if sev == s {
			return len(Severities) - i
		}
	}
	return 0
}

// Rule is one entry of the rule file.
type Rule struct {
	ID          string   `yaml:"id" json:"id"`
	Title       string   `yaml:"title" json:"title"`
	Description string   `yaml:"description" json:"description"`
	Severity    string   `yaml:"severity" json:"severity"`
	Services    []string `yaml:"services" json:"services"`
	Product     string   `yaml:"product,omitempty" json:"product,omitempty"`
	Version     string   `yaml:"version,omitempty" json:"version,omitempty"`
	TLSVersion  string   `yaml:"tls_version,omitempty" json:"tls_version,omitempty"`
	Banner      string   `yaml:"banner,omitempty" json:"banner,omitempty"`
	Ports       []uint16 `yaml:"ports,omitempty" json:"ports,omitempty"`
	References  []string `yaml:"references,omitempty" json:"references,omitempty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// compiled is a Rule with its predicates parsed once.
type compiled struct {
	Rule
	services map[string]struct{}
	ports    map[uint16]struct{}
	product  *regexp.Regexp
	banner   *regexp.Regexp
	version  *semver.Constraints
	tls      *semver.Constraints
}

// ParseRules decodes a YAML rule file.
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to parse rule file", err)
	}
	return file.Rules, nil
}

// DefaultRules returns the built-in rule set.
func DefaultRules() ([]Rule, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads rules from path, or the built-in set when path is empty.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read rule file", err)
	}
	return ParseRules(data)
}

func compile(rules []Rule) ([]compiled, error) {
	out := make([]compiled, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))

	for _, r := range rules {
		if r.ID == "" {
			return nil, ruleError(r.ID, "missing id")
		}
		if _, dup := seen[r.ID]; dup {
			return nil, ruleError(r.ID, "duplicate id")
		}
		seen[r.ID] = struct{}{}

		if SeverityRank(r.Severity) == 0 {
			return nil, ruleError(r.ID, fmt.Sprintf("invalid severity %q", r.Severity))
		}
		if len(r.Services) == 0 {
			return nil, ruleError(r.ID, "at least one service is required")
		}

		c := compiled{
			Rule:     r,
			services: make(map[string]struct{}, len(r.Services)),
		}
		for _, s := range r.Services {
			c.services[strings.ToLower(s)] = struct{}{}
		}
		if len(r.Ports) > 0 {
			c.ports = make(map[uint16]struct{}, len(r.Ports))
			for _, p := range r.Ports {
				c.ports[p] = struct{}{}
			}
		}

		var err error
		if r.Product != "" {
			if c.product, err = regexp.Compile("(?i)" + r.Product); err != nil {
				return nil, ruleError(r.ID, "invalid product pattern: "+err.Error())
			}
		}
		if r.Banner != "" {
			if c.banner, err = regexp.Compile(r.Banner); err != nil {
				return nil, ruleError(r.ID, "invalid banner pattern: "+err.Error())
			}
		}
		if r.Version != "" {
			if c.version, err = semver.NewConstraint(r.Version); err != nil {
				return nil, ruleError(r.ID, "invalid version constraint: "+err.Error())
			}
		}
		if r.TLSVersion != "" {
			if c.tls, err = semver.NewConstraint(r.TLSVersion); err != nil {
				return nil, ruleError(r.ID, "invalid tls_version constraint: "+err.Error())
			}
		}

		out = append(out, c)
	}
	return out, nil
}

func ruleError(id, msg string) error {
	return errors.NewConfigFieldError(errors.CodeConfiguration, "invalid rule: "+msg, "rules", id)
}
