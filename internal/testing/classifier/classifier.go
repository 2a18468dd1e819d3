package classifier

import (
	"github.com/ethpandaops/tortillas/internal/config"
)

// Event is one rule match on one debug-log message.
type Event struct {
	Rule      string
	Mode      config.Mode
	Capture   string
	SetStatus config.StatusOverride
}

// Classifier matches debug-log messages against analyze rules. It holds no
// per-run state and is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// New creates a classifier over compiled rules.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns one event per rule whose scope applies and whose pattern
// matches, in rule declaration order. Only capture group 1 is extracted.
func (c *Classifier) Classify(line, scope string) []Event {
	var events []Event

	for i := range c.rules {
		rule := &c.rules[i]

		if !rule.appliesTo(scope) {
			continue
		}

		match := rule.Pattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		events = append(events, Event{
			Rule:      rule.Name,
			Mode:      rule.Mode,
			Capture:   match[1],
			SetStatus: rule.SetStatus,
		})
	}

	return events
}

// HasMode reports whether any rule uses mode.
func (c *Classifier) HasMode(mode config.Mode) bool {
	for i := range c.rules {
		if c.rules[i].Mode == mode {
			return true
		}
	}

	return false
}

// Rules returns the compiled rules in declaration order.
func (c *Classifier) Rules() []Rule {
	rules := make([]Rule, len(c.rules))
	copy(rules, c.rules)

	return rules
}
