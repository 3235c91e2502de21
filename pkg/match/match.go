// Package match pairs process requirements with resource capabilities.
//
// Both sides are free-form token strings ("python linux", "dotnet,chrome").
// A resource is compatible when its capability set is a superset of the
// requirement set; among compatible resources the one advertising the fewest
// capabilities wins, keeping broadly capable machines free for demanding
// processes.
package match

import (
	"regexp"

	"github.com/droverd/drover/pkg/types"
)

var tokenSeparator = regexp.MustCompile(`[ ,]+`)

// ParseTokens splits a capability or requirement expression into its token
// set. Commas and whitespace both separate; tokens are case-sensitive and
// duplicates collapse.
func ParseTokens(expr string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range tokenSeparator.Split(expr, -1) {
		if tok != "" {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// Satisfies reports whether capabilities cover every required token.
func Satisfies(capabilities, required map[string]struct{}) bool {
	for tok := range required {
		if _, ok := capabilities[tok]; !ok {
			return false
		}
	}
	return true
}

// FindBestResource picks the compatible candidate advertising the fewest
// capabilities. Empty requirements never match, and an empty candidate list
// yields nil. Candidates are scanned in order, so with equal capability
// counts the earliest candidate wins; callers pass lists in creation order
// to keep the choice deterministic.
func FindBestResource(requirements string, candidates []*types.Resource) *types.Resource {
	required := ParseTokens(requirements)
	if len(required) == 0 {
		return nil
	}

	var best *types.Resource
	bestCount := 0
	for _, r := range candidates {
		caps := ParseTokens(r.Capabilities)
		if !Satisfies(caps, required) {
			continue
		}
		if best == nil || len(caps) < bestCount {
			best = r
			bestCount = len(caps)
		}
	}
	return best
}
