// Package classifier turns guest debug output into classified events and
// accumulates them into a per-run record.
package classifier

import (
	"fmt"
	"regexp"

	"github.com/ethpandaops/tortillas/internal/config"
)

// Rule is a compiled analyze rule.
type Rule struct {
	Name      string
	Scope     string
	Pattern   *regexp.Regexp
	Mode      config.Mode
	SetStatus config.StatusOverride
}

// Compile validates and compiles analyze rules, keeping declaration order.
func Compile(entries []config.AnalyzeRule) ([]Rule, error) {
	rules := make([]Rule, 0, len(entries))

	for i := range entries {
		entry := entries[i]

		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("compiling rule %d: %w", i, err)
		}

		pattern, err := config.CompilePattern(entry.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling rule %s: %w", entry.Name, err)
		}

		rules = append(rules, Rule{
			Name:      entry.Name,
			Scope:     entry.Scope,
			Pattern:   pattern,
			Mode:      entry.Mode,
			SetStatus: entry.SetStatus,
		})
	}

	return rules, nil
}

// appliesTo reports whether the rule inspects messages of the given scope.
func (r *Rule) appliesTo(scope string) bool {
	return r.Scope == config.ScopeAll || r.Scope == scope
}
