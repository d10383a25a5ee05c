// Package policy provides the category-specific matching policies.
// A policy sets the auto-accept threshold for a category, which domain
// anchors must agree, and which other categories an item may never match.
package policy

import (
	"regexp"
	"strings"
)

// DefaultName is the name of the fallback policy
const DefaultName = "default"

// CategoryPolicy is the matching policy of one category
type CategoryPolicy struct {
	// Name is the canonical policy name
	Name string `json:"name"`

	// AutoThreshold is the hybrid score at or above which a candidate is auto-accepted
	AutoThreshold float64 `json:"auto_threshold"`

	// RequireDosage rejects candidates whose dosage differs
	RequireDosage bool `json:"require_dosage"`

	// RequireForm rejects candidates whose administration route differs
	RequireForm bool `json:"require_form"`

	// RequireModality rejects candidates whose modality differs
	RequireModality bool `json:"require_modality"`

	// RequireBodyPart rejects candidates whose body part differs
	RequireBodyPart bool `json:"require_body_part"`

	// AllowPartial permits matches on a subset of tokens
	AllowPartial bool `json:"allow_partial"`

	// HardBoundaries are policy names this category may never match into
	HardBoundaries []string `json:"hard_boundaries,omitempty"`
}

// Forbids reports whether the policy forbids candidates from the named policy
func (p CategoryPolicy) Forbids(policyName string) bool {
	for _, b := range p.HardBoundaries {
		if b == policyName {
			return true
		}
	}
	return false
}

// Set is an ordered collection of policies with a default
type Set struct {
	policies []CategoryPolicy
	fallback CategoryPolicy
	skip     map[string]bool
}

// Defaults returns the built-in policies. itemAuto is the threshold of the
// default policy that applies to categories without a specific one.
func Defaults(itemAuto float64) *Set {
	clinical := []string{"medicines", "pharmacy"}
	return &Set{
		policies: []CategoryPolicy{
			{Name: "medicines", AutoThreshold: 0.75, RequireDosage: true, RequireForm: true,
				HardBoundaries: []string{"diagnostics", "procedures", "radiology", "laboratory"}},
			{Name: "pharmacy", AutoThreshold: 0.75, RequireDosage: true, RequireForm: true,
				HardBoundaries: []string{"diagnostics", "procedures"}},
			{Name: "diagnostics", AutoThreshold: 0.70, RequireModality: true, RequireBodyPart: true,
				HardBoundaries: clinical},
			{Name: "radiology", AutoThreshold: 0.70, RequireModality: true, RequireBodyPart: true,
				HardBoundaries: clinical},
			{Name: "laboratory", AutoThreshold: 0.70, HardBoundaries: clinical},
			{Name: "procedures", AutoThreshold: 0.65, AllowPartial: true, HardBoundaries: clinical},
			{Name: "consultation", AutoThreshold: 0.65, AllowPartial: true, HardBoundaries: clinical},
			{Name: "surgery", AutoThreshold: 0.70, HardBoundaries: []string{"medicines", "pharmacy", "diagnostics"}},
			{Name: "implants", AutoThreshold: 0.75, HardBoundaries: []string{"medicines", "pharmacy", "diagnostics"}},
			{Name: "consumables", AutoThreshold: 0.70},
		},
		fallback: CategoryPolicy{Name: DefaultName, AutoThreshold: itemAuto, AllowPartial: true},
		skip:     map[string]bool{"hospital": true},
	}
}

var separators = regexp.MustCompile(`[\s_\-/&]+`)

// canonical lowercases a category name and collapses separators to single spaces
func canonical(name string) string {
	return strings.TrimSpace(separators.ReplaceAllString(strings.ToLower(name), " "))
}

// Lookup resolves a category name to its policy: exact name first, then a
// containment match in either direction, then the default
func (s *Set) Lookup(category string) CategoryPolicy {
	name := canonical(category)
	if name == "" {
		return s.fallback
	}
	for _, p := range s.policies {
		if p.Name == name {
			return p
		}
	}
	for _, p := range s.policies {
		if strings.Contains(name, p.Name) || (len(name) >= 3 && strings.Contains(p.Name, name)) {
			return p
		}
	}
	return s.fallback
}

// Forbids reports whether an item declared in billCategory may never match a
// candidate from candidateCategory
func (s *Set) Forbids(billCategory, candidateCategory string) bool {
	target := s.Lookup(candidateCategory)
	if target.Name == DefaultName {
		return false
	}
	return s.Lookup(billCategory).Forbids(target.Name)
}

// ShouldSkip reports whether a catalog category is a pseudo-category that is
// never a matching target
func (s *Set) ShouldSkip(category string) bool {
	name := canonical(category)
	if len(name) < 2 {
		return true
	}
	if strings.Trim(name, " .,;:!?*#") == "" {
		return true
	}
	return s.skip[name]
}

// Default returns the fallback policy
func (s *Set) Default() CategoryPolicy {
	return s.fallback
}

// Policies returns the specific policies in lookup order
func (s *Set) Policies() []CategoryPolicy {
	return append([]CategoryPolicy(nil), s.policies...)
}

// Put adds or replaces a policy by name. A policy named "default" replaces the fallback.
func (s *Set) Put(p CategoryPolicy) {
	p.Name = canonical(p.Name)
	if p.Name == DefaultName {
		s.fallback = p
		return
	}
	for i := range s.policies {
		if s.policies[i].Name == p.Name {
			s.policies[i] = p
			return
		}
	}
	s.policies = append(s.policies, p)
}

// Skip marks additional catalog categories as pseudo-categories
func (s *Set) Skip(names ...string) {
	for _, n := range names {
		s.skip[canonical(n)] = true
	}
}
