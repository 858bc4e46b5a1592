package differ

import (
	"github.com/blockcaptain/jackwatch/internal/models"
)

// Sign buckets a value relative to the category epsilon. Zero absorbs
// floating noise: |v| <= epsilon classifies as zero, never exact equality.
type Sign int

const (
	Any Sign = iota
	Zero
	Positive
	Negative
)

// Direction buckets the signed change of the diffed field.
type Direction int

const (
	AnyDirection Direction = iota
	Up
	Down
)

// Rule maps (sign-of-previous, sign-of-current, direction-of-change) to a
// classification label. Rules are evaluated in order, first match wins, so
// new categories are added by data rather than by new branching.
type Rule struct {
	Prev  Sign
	Curr  Sign
	Dir   Direction
	Label models.Label
}

// PositionRules classifies net-position deltas four ways. Zero-crossing rules
// come first; build/reduce rules catch movement that stays on one side.
func PositionRules() []Rule {
	return []Rule{
		{Prev: Zero, Curr: Positive, Label: models.LabelLongOpen},
		{Prev: Positive, Curr: Zero, Label: models.LabelLongClose},
		{Prev: Zero, Curr: Negative, Label: models.LabelShortOpen},
		{Prev: Negative, Curr: Zero, Label: models.LabelShortClose},
		{Prev: Negative, Curr: Positive, Dir: Up, Label: models.LabelLongOpen},
		{Prev: Positive, Curr: Negative, Dir: Down, Label: models.LabelShortOpen},
		{Prev: Positive, Curr: Positive, Dir: Up, Label: models.LabelLongOpen},
		{Prev: Positive, Curr: Positive, Dir: Down, Label: models.LabelLongClose},
		{Prev: Negative, Curr: Negative, Dir: Down, Label: models.LabelShortOpen},
		{Prev: Negative, Curr: Negative, Dir: Up, Label: models.LabelShortClose},
	}
}

// ThresholdRules classifies any above-threshold move by direction only.
func ThresholdRules() []Rule {
	return []Rule{
		{Dir: Up, Label: models.LabelAboveThreshold},
		{Dir: Down, Label: models.LabelBelowThreshold},
	}
}

// RuleSet returns the named built-in rule table, or nil if unknown.
func RuleSet(name string) []Rule {
	switch name {
	case "position":
		return PositionRules()
	case "threshold":
		return ThresholdRules()
	default:
		return nil
	}
}

func classifySign(v, epsilon float64) Sign {
	switch {
	case v > epsilon:
		return Positive
	case v < -epsilon:
		return Negative
	default:
		return Zero
	}
}

func classifyDirection(change float64) Direction {
	if change > 0 {
		return Up
	}
	return Down
}

func (r Rule) matches(prev, curr Sign, dir Direction) bool {
	if r.Prev != Any && r.Prev != prev {
		return false
	}
	if r.Curr != Any && r.Curr != curr {
		return false
	}
	if r.Dir != AnyDirection && r.Dir != dir {
		return false
	}
	return true
}

// classify returns the first matching rule's label, or false when no rule in
// the table covers the transition.
func classify(rules []Rule, prev, curr Sign, dir Direction) (models.Label, bool) {
	for _, r := range rules {
		if r.matches(prev, curr, dir) {
			return r.Label, true
		}
	}
	return "", false
}
