// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

package lib

import (
	"path"
	"strings"
)

// TargetSet is the filtered inventory, in inventory order and unique by name.
type TargetSet struct {
	Repos []RepositoryDescriptor
	// Duplicates holds later repositories whose name was already taken.
	Duplicates []RepositoryDescriptor
}

func (t TargetSet) Names() []string {
	names := make([]string, len(t.Repos))
	for i, r := range t.Repos {
		names[i] = r.Name
	}
	return names
}

// Filter applies the rules to an inventory. Exclude wins over Only.
// Patterns are case-sensitive globs matched against the whole name;
// malformed patterns match nothing.
func Filter(inventory []RepositoryDescriptor, rules FilterRules) TargetSet {
	var t TargetSet
	seen := make(map[string]bool)
	for _, r := range inventory {
		if len(nonEmpty(rules.Only)) > 0 && !matchAny(rules.Only, r.Name) {
			continue
		}
		if matchAny(rules.Exclude, r.Name) {
			continue
		}
		if r.IsArchived && !rules.IncludeArchived {
			continue
		}
		if seen[r.Name] {
			t.Duplicates = append(t.Duplicates, r)
			continue
		}
		seen[r.Name] = true
		t.Repos = append(t.Repos, r)
	}
	return t
}

func matchAny(patterns []string, name string) bool {
	for _, p := range nonEmpty(patterns) {
		if matched, err := path.Match(p, name); err == nil && matched {
			return true
		}
	}
	return false
}

func nonEmpty(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
