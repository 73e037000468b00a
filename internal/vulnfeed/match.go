package vulnfeed

import (
	"fmt"
	"strings"
)

// MatchMode selects how a software name is compared with an advisory field
type MatchMode string

const (
	// MatchSubstring matches when the lower-cased name is contained in the
	// lower-cased field. It is knowingly imprecise: "java" matches
	// "javascript".
	MatchSubstring MatchMode = "substring"
	// MatchExact requires case-insensitive equality
	MatchExact MatchMode = "exact"
)

// ParseMatchMode converts a configured mode, defaulting to substring
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(s)) {
	case "", MatchSubstring:
		return MatchSubstring, nil
	case MatchExact:
		return MatchExact, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", s)
	}
}

// matches compares already lower-cased values. Substring mode uses the
// name untouched, so an empty name is contained in every field. Exact mode
// ignores surrounding whitespace and never matches an empty name.
func (m MatchMode) matches(name, field string) bool {
	if m == MatchExact {
		name = strings.TrimSpace(name)
		return name != "" && name == strings.TrimSpace(field)
	}
	return strings.Contains(field, name)
}

// Match reports one software entry found in one advisory
type Match struct {
	Name          string `json:"name" yaml:"name"`
	Version       string `json:"version" yaml:"version"`
	Vulnerability string `json:"vulnerability" yaml:"vulnerability"`
	Source        string `json:"source" yaml:"source"`
}

// Failure records a feed that could not be used in this run
type Failure struct {
	Source string `json:"source" yaml:"source"`
	Error  string `json:"error" yaml:"error"`
}
