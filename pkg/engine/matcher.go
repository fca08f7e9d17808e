package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RuleKind is the kind of an exclusion rule descriptor.
type RuleKind string

const (
	// KindPrefix excludes units whose name starts with the value.
	KindPrefix RuleKind = "prefix"

	// KindSubstring excludes units whose name contains the value.
	KindSubstring RuleKind = "substring"

	// KindPattern excludes units whose name matches the value as a
	// regular expression.
	KindPattern RuleKind = "pattern"

	// KindContextName excludes every unit loaded by a context with the
	// given name.
	KindContextName RuleKind = "context-name"
)

// RuleDescriptor is one exclusion rule in configuration form. The
// descriptor list is ordered, fixed at attach, and not mutable at runtime.
type RuleDescriptor struct {
	Kind  RuleKind `json:"kind" yaml:"kind" validate:"required,oneof=prefix substring pattern context-name"`
	Value string   `json:"value" yaml:"value" validate:"required"`
}

// ExclusionMatcher is a pure predicate over (unit name, loading context)
// deciding permanent exclusion from transformation. Rules are OR-combined:
// a single match excludes the unit. The matcher is immutable once
// constructed and safe for unsynchronized concurrent evaluation.
type ExclusionMatcher struct {
	prefixes      []string // sorted, prefix-free
	substrings    []string
	patterns      []*regexp.Regexp
	contextNames  map[string]struct{}
	excludedKinds map[ContextKind]struct{}
}

// NewExclusionMatcher compiles the descriptor list into a matcher. The
// bootstrap, reflection and call-site context kinds are always excluded;
// descriptors add name-based and context-name rules on top. An invalid
// pattern fails construction: the rule set is configuration and a broken
// rule must be visible, not silently skipped.
func NewExclusionMatcher(descriptors []RuleDescriptor) (*ExclusionMatcher, error) {
	m := &ExclusionMatcher{
		contextNames: make(map[string]struct{}),
		excludedKinds: map[ContextKind]struct{}{
			ContextKindBootstrap:  {},
			ContextKindReflection: {},
			ContextKindCallSite:   {},
		},
	}

	for i, d := range descriptors {
		switch d.Kind {
		case KindPrefix:
			m.prefixes = append(m.prefixes, d.Value)
		case KindSubstring:
			m.substrings = append(m.substrings, d.Value)
		case KindPattern:
			re, err := regexp.Compile(d.Value)
			if err != nil {
				return nil, fmt.Errorf("exclusion rule %d: invalid pattern %q: %w", i, d.Value, err)
			}
			m.patterns = append(m.patterns, re)
		case KindContextName:
			m.contextNames[d.Value] = struct{}{}
		default:
			return nil, fmt.Errorf("exclusion rule %d: unknown kind %q", i, d.Kind)
		}
	}

	m.prefixes = normalizePrefixes(m.prefixes)
	return m, nil
}

// Excluded reports whether the unit is permanently excluded from
// transformation. A nil context is treated as the bootstrap context and is
// always excluded.
func (m *ExclusionMatcher) Excluded(unitName string, lc *LoadingContext) bool {
	if lc == nil {
		return true
	}
	if _, ok := m.excludedKinds[lc.Kind()]; ok {
		return true
	}
	if _, ok := m.contextNames[lc.Name()]; ok {
		return true
	}
	if m.matchesPrefix(unitName) {
		return true
	}
	for _, s := range m.substrings {
		if strings.Contains(unitName, s) {
			return true
		}
	}
	for _, re := range m.patterns {
		if re.MatchString(unitName) {
			return true
		}
	}
	return false
}

// matchesPrefix does a binary search over the sorted, prefix-free prefix
// index. With a prefix-free set, the only candidate prefix of name is its
// immediate sorted predecessor.
func (m *ExclusionMatcher) matchesPrefix(name string) bool {
	if len(m.prefixes) == 0 {
		return false
	}
	i := sort.SearchStrings(m.prefixes, name)
	if i < len(m.prefixes) && m.prefixes[i] == name {
		return true
	}
	return i > 0 && strings.HasPrefix(name, m.prefixes[i-1])
}

// normalizePrefixes sorts the prefixes and drops any prefix already covered
// by a shorter one, yielding a prefix-free set.
func normalizePrefixes(prefixes []string) []string {
	if len(prefixes) == 0 {
		return nil
	}
	sort.Strings(prefixes)
	out := prefixes[:0]
	for _, p := range prefixes {
		if len(out) > 0 && strings.HasPrefix(p, out[len(out)-1]) {
			continue
		}
		out = append(out, p)
	}
	return out
}
