// Package router maps free-text queries to capability names with a fixed
// keyword table.
package router

import (
	"fmt"
	"strings"

	"github.com/osakka/agentorch/pkg/errors"
)

// Rule routes a query to Capability when any keyword is a substring of the
// lowercased query.
type Rule struct {
	Capability string   `yaml:"capability" json:"capability"`
	Keywords   []string `yaml:"keywords" json:"keywords"`
}

// Selector is immutable after construction and safe for concurrent use.
type Selector struct {
	rules    []Rule
	fallback []string
}

// NewSelector validates and copies the table. Keywords are lowercased.
func NewSelector(rules []Rule, fallback []string) (*Selector, error) {
	if len(fallback) == 0 {
		return nil, errors.Configuration("fallback", "selector fallback set must not be empty")
	}

	s := &Selector{
		rules:    make([]Rule, 0, len(rules)),
		fallback: dedupe(fallback),
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if r.Capability == "" {
			return nil, errors.Configuration("rules", "rule without capability name")
		}
		if seen[r.Capability] {
			return nil, errors.Configuration("rules", fmt.Sprintf("capability %s appears in more than one rule", r.Capability))
		}
		seen[r.Capability] = true

		keywords := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				keywords = append(keywords, k)
			}
		}
		if len(keywords) == 0 {
			return nil, errors.Configuration("rules", fmt.Sprintf("capability %s has no keywords", r.Capability))
		}
		s.rules = append(s.rules, Rule{Capability: r.Capability, Keywords: keywords})
	}
	return s, nil
}

// NewDefaultSelector uses DefaultRules and DefaultFallback.
func NewDefaultSelector() *Selector {
	s, err := NewSelector(DefaultRules, DefaultFallback)
	if err != nil {
		panic(err)
	}
	return s
}

// Select returns the capabilities whose keywords occur in query, in table
// order without duplicates, or the fallback set when none match. The result
// is never empty.
func (s *Selector) Select(query string) []string {
	q := strings.ToLower(query)

	selected := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		for _, k := range r.Keywords {
			if strings.Contains(q, k) {
				selected = append(selected, r.Capability)
				break
			}
		}
	}
	if len(selected) == 0 {
		return append([]string(nil), s.fallback...)
	}
	return selected
}

// Capabilities returns every name the selector can emit, rules first.
func (s *Selector) Capabilities() []string {
	names := make([]string, 0, len(s.rules)+len(s.fallback))
	for _, r := range s.rules {
		names = append(names, r.Capability)
	}
	return dedupe(append(names, s.fallback...))
}

// Rules returns a copy of the table.
func (s *Selector) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = Rule{Capability: r.Capability, Keywords: append([]string(nil), r.Keywords...)}
	}
	return out
}

// Fallback returns a copy of the fallback set.
func (s *Selector) Fallback() []string {
	return append([]string(nil), s.fallback...)
}

// CheckAgainst returns an unknown-capability error for the first name the
// selector can emit that is not registered.
func (s *Selector) CheckAgainst(has func(string) bool, available []string) error {
	for _, name := range s.Capabilities() {
		if !has(name) {
			return errors.UnknownCapability(name, available)
		}
	}
	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
