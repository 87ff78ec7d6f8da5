// Package policy provides site objects: the final authority consulted on
// every tree edit.
package policy

import (
	"errors"
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"bough/tree"
)

// ErrForbidden is matched by every policy denial.
var ErrForbidden = errors.New("forbidden by site policy")

// ForbiddenError is returned when a rule denies an otherwise valid edit.
type ForbiddenError struct {
	Parent string
	Child  string
	Reason string
}

func (e *ForbiddenError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s may not be placed in %s: %s", e.Child, e.Parent, e.Reason)
	}
	return fmt.Sprintf("%s may not be placed in %s", e.Child, e.Parent)
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// Structural is the site that only enforces the kinds' own compatibility
// predicates.
type Structural struct{}

// ValidateRelationship implements tree.Site.
func (Structural) ValidateRelationship(parent *tree.Node, child *tree.Kind, inst *tree.Node) error {
	return tree.ValidateRelationship(parent, child, inst)
}

// Rule matches (parent, child) kind-name pairs with doublestar patterns.
// Within, when set, additionally requires an ancestor of the parent (or the
// parent itself) whose kind matches it.
type Rule struct {
	Parent string `yaml:"parent"`
	Child  string `yaml:"child"`
	Within string `yaml:"within,omitempty"`
	Allow  bool   `yaml:"allow"`
	Reason string `yaml:"reason,omitempty"`
}

// RulesConfig is the on-disk shape of a rules file.
type RulesConfig struct {
	Rules []Rule `yaml:"rules"`
}

// Rules is a site that runs the structural check, then applies the first
// matching rule. Edits no rule matches are allowed.
type Rules struct {
	rules []Rule
}

// NewRules validates every pattern and returns a rule site.
func NewRules(rules []Rule) (*Rules, error) {
	for i, r := range rules {
		for _, p := range []string{r.Parent, r.Child, r.Within} {
			if p != "" && !doublestar.ValidatePattern(p) {
				return nil, fmt.Errorf("rule %d: invalid pattern %q", i, p)
			}
		}
	}
	return &Rules{rules: rules}, nil
}

// LoadRules reads a YAML rules file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses YAML rules.
func ParseRules(data []byte) (*Rules, error) {
	var cfg RulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing rules file: %w", err)
	}
	return NewRules(cfg.Rules)
}

// All returns the rules in evaluation order.
func (r *Rules) All() []Rule {
	return append([]Rule(nil), r.rules...)
}

// ValidateRelationship implements tree.Site.
func (r *Rules) ValidateRelationship(parent *tree.Node, child *tree.Kind, inst *tree.Node) error {
	if err := tree.ValidateRelationship(parent, child, inst); err != nil {
		return err
	}
	for _, rule := range r.rules {
		if !rule.matches(parent, child) {
			continue
		}
		if rule.Allow {
			return nil
		}
		return &ForbiddenError{Parent: parent.Kind().Name, Child: child.Name, Reason: rule.Reason}
	}
	return nil
}

func (rule Rule) matches(parent *tree.Node, child *tree.Kind) bool {
	if !match(rule.Parent, parent.Kind().Name) || !match(rule.Child, child.Name) {
		return false
	}
	if rule.Within == "" {
		return true
	}
	for n := parent; n != nil; n = n.Parent() {
		if match(rule.Within, n.Kind().Name) {
			return true
		}
	}
	return false
}

// match treats an empty pattern as "any".
func match(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := doublestar.Match(pattern, name)
	return err == nil && ok
}
