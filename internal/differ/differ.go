// Package differ compares two observation snapshots of the same task and
// classifies the per-symbol changes. It is pure: no I/O, no external state.
package differ

import (
	"sort"

	"github.com/blockcaptain/jackwatch/internal/models"
)

// Config carries the per-category diffing parameters. It is passed in
// explicitly by the orchestrator, never read from ambient state.
type Config struct {
	// Field is the observation field whose signed change is classified.
	Field string
	// Epsilon absorbs floating noise when bucketing values as "zero".
	Epsilon float64
	// Threshold is the minimum |change| for a delta to exist at all.
	// Exactly-at-threshold is included.
	Threshold float64
	// Rules is the ordered first-match classification table.
	Rules []Rule
}

// Stats counts what happened to every matched symbol pair. Nothing is
// silently swallowed: discarded pairs are accounted for here.
type Stats struct {
	Matched      int
	SubThreshold int
	Malformed    int
	Unclassified int
}

// Diff produces the ordered delta sequence for a snapshot pair. Matching is
// by symbol; symbols present on only one side produce no delta. The output is
// grouped by classification label (in rule-table order) with each group
// sorted by descending magnitude — the formatter's top-K truncation relies on
// this ordering. Single pass per symbol plus an O(n log n) per-group sort.
func Diff(prev, curr map[string]models.Observation, cfg Config) ([]models.Delta, Stats) {
	var stats Stats
	byLabel := make(map[models.Label][]models.Delta)

	for symbol, currObs := range curr {
		prevObs, ok := prev[symbol]
		if !ok {
			continue
		}
		stats.Matched++

		prevVal, okPrev := prevObs.Fields[cfg.Field]
		currVal, okCurr := currObs.Fields[cfg.Field]
		if !okPrev || !okCurr {
			stats.Malformed++
			continue
		}

		change := currVal - prevVal
		mag := change
		if mag < 0 {
			mag = -mag
		}
		if mag < cfg.Threshold {
			stats.SubThreshold++
			continue
		}

		label, ok := classify(cfg.Rules,
			classifySign(prevVal, cfg.Epsilon),
			classifySign(currVal, cfg.Epsilon),
			classifyDirection(change))
		if !ok {
			stats.Unclassified++
			continue
		}

		byLabel[label] = append(byLabel[label], models.Delta{
			Symbol:   symbol,
			Previous: prevVal,
			Current:  currVal,
			Change:   change,
			Label:    label,
			Aux:      currObs.Fields,
		})
	}

	return orderDeltas(byLabel, cfg.Rules), stats
}

// orderDeltas flattens the label groups in rule-table order, each group
// magnitude-descending with symbol as a deterministic tie-break.
func orderDeltas(byLabel map[models.Label][]models.Delta, rules []Rule) []models.Delta {
	var out []models.Delta
	for _, label := range labelOrder(rules) {
		group := byLabel[label]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			mi, mj := group[i].Magnitude(), group[j].Magnitude()
			if mi != mj {
				return mi > mj
			}
			return group[i].Symbol < group[j].Symbol
		})
		out = append(out, group...)
	}
	return out
}

func labelOrder(rules []Rule) []models.Label {
	var order []models.Label
	seen := make(map[models.Label]bool)
	for _, r := range rules {
		if !seen[r.Label] {
			seen[r.Label] = true
			order = append(order, r.Label)
		}
	}
	return order
}
