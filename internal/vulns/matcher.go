package vulns

import (
	"net/netip"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/anstrom/netsentry/internal/scanning"
	"github.com/anstrom/netsentry/internal/targets"
)

// versionToken pulls the leading dotted number out of free-form versions
// such as "8.2p1" or "10.3.29-MariaDB".
var versionToken = regexp.MustCompile(`\d+(?:\.\d+){0,2}`)

// tlsVersions maps negotiated protocol names onto comparable versions.
var tlsVersions = map[string]string{
	"SSLv3":   "0.3.0",
	"TLSv1.0": "1.0.0",
	"TLSv1.1": "1.1.0",
	"TLSv1.2": "1.2.0",
	"TLSv1.3": "1.3.0",
}

// Finding is one rule matched on one host port.
type Finding struct {
	Host        string            `json:"host"`
	Port        uint16            `json:"port"`
	Transport   targets.Transport `json:"transport"`
	RuleID      string            `json:"rule_id"`
	Severity    string            `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Service     string            `json:"service"`
	Version     string            `json:"version,omitempty"`
	References  []string          `json:"references,omitempty"`
}

// Matcher evaluates a fixed rule set. It is safe for concurrent use.
type Matcher struct {
	rules []compiled
}

// NewMatcher validates and compiles rules.
func NewMatcher(rules []Rule) (*Matcher, error) {
	c, err := compile(rules)
	if err != nil {
		return nil, err
	}
	return &Matcher{rules: c}, nil
}

// NewDefaultMatcher compiles the rules at path, or the built-in set.
func NewDefaultMatcher(path string) (*Matcher, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}
	return NewMatcher(rules)
}

// Rules returns the loaded rules in file order.
func (m *Matcher) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i := range m.rules {
		out[i] = m.rules[i].Rule
	}
	return out
}

// Match returns the findings for a host's ports. Only open ports with an
// identified service are considered. The result is sorted by port,
// transport and rule id, with no duplicates; it is never nil.
func (m *Matcher) Match(host netip.Addr, ports []scanning.PortResult) []Finding {
	type findingKey struct {
		port      uint16
		transport targets.Transport
		rule      string
	}
	findings := make([]Finding, 0)
	seen := make(map[findingKey]struct{})

	for _, p := range ports {
		if !p.Open() || p.Service == "" || p.Service == "unknown" {
			continue
		}
		for i := range m.rules {
			r := &m.rules[i]
			if !r.matches(p) {
				continue
			}
			key := findingKey{p.Port, p.Transport, r.ID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			findings = append(findings, Finding{
				Host:        host.String(),
				Port:        p.Port,
				Transport:   p.Transport,
				RuleID:      r.ID,
				Severity:    r.Severity,
				Title:       r.Title,
				Description: r.Description,
				Service:     p.Service,
				Version:     p.Version,
				References:  r.References,
			})
		}
	}

	SortFindings(findings)
	return findings
}

func (r *compiled) matches(p scanning.PortResult) bool {
	if _, ok := r.services[strings.ToLower(p.Service)]; !ok {
		return false
	}
	if r.ports != nil {
		if _, ok := r.ports[p.Port]; !ok {
			return false
		}
	}
	if r.product != nil && (p.Product == "" || !r.product.MatchString(p.Product)) {
		return false
	}
	if r.banner != nil && (p.Banner == "" || !r.banner.MatchString(p.Banner)) {
		return false
	}
	if r.version != nil {
		v, ok := ParseVersion(p.Version)
		if !ok || !r.version.Check(v) {
			return false
		}
	}
	if r.tls != nil {
		raw, known := tlsVersions[p.TLSVersion]
		if !known {
			return false
		}
		if !r.tls.Check(semver.MustParse(raw)) {
			return false
		}
	}
	return true
}

// ParseVersion extracts a comparable version from a detected version string.
func ParseVersion(raw string) (*semver.Version, bool) {
	token := versionToken.FindString(raw)
	if token == "" {
		return nil, false
	}
	v, err := semver.NewVersion(token)
	if err != nil {
		return nil, false
	}
	return v, true
}

// SortFindings orders findings by port, transport, then rule id.
func SortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		if a.Transport != b.Transport {
			return a.Transport < b.Transport
		}
		return a.RuleID < b.RuleID
	})
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[string]int {
	counts := make(map[string]int, len(Severities))
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}
