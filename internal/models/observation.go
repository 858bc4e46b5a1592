// Package models defines the core domain entities: observations, deltas,
// candidate events, and the per-task durable state.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Observation is one fetched fact for a symbol/category at a point in time.
// Immutable once fetched. For raw provider items (news, economic releases)
// ID carries the provider's own item identifier; for numeric snapshots it is
// empty and the dedup identifier is derived later from the classified delta.
type Observation struct {
	Symbol    string             `json:"symbol"`
	ID        string             `json:"id,omitempty"`
	Fields    map[string]float64 `json:"fields,omitempty"`
	Text      map[string]string  `json:"text,omitempty"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// Validate checks observation field constraints.
func (o *Observation) Validate() error {
	if o.Symbol == "" && o.ID == "" {
		return errors.New("observation must carry a symbol or a provider id")
	}
	if o.FetchedAt.IsZero() {
		return errors.New("observation fetch time must be set")
	}
	return nil
}

// Label is a classification label drawn from a fixed finite set per category.
type Label string

const (
	LabelLongOpen   Label = "long-open"
	LabelLongClose  Label = "long-close"
	LabelShortOpen  Label = "short-open"
	LabelShortClose Label = "short-close"

	LabelAboveThreshold Label = "above-threshold"
	LabelBelowThreshold Label = "below-threshold"
)

// Delta is a classified, above-threshold change between two observations of
// the same symbol. Aux carries extra numeric fields from the current
// observation for formatting (e.g. the 15m price change next to an OI move).
type Delta struct {
	Symbol   string
	Previous float64
	Current  float64
	Change   float64
	Label    Label
	Aux      map[string]float64
}

// Magnitude returns the absolute size of the change.
func (d Delta) Magnitude() float64 {
	if d.Change < 0 {
		return -d.Change
	}
	return d.Change
}

// CandidateEvent is a classified delta or a raw provider item paired with the
// stable identifier used for deduplication. Exactly one of Delta/Item is set.
type CandidateEvent struct {
	ID       string
	Category string
	Label    Label
	Symbol   string
	Delta    *Delta
	Item     *Observation
}

// DeltaEventID derives the dedup identifier for a classified delta: a
// composite of symbol, label, and the time bucket of the observation, so
// repeated classification of the same underlying movement inside one bucket
// collapses to a single identifier. The trailing bucket is a unix timestamp;
// age-based retention parses it back out.
func DeltaEventID(symbol string, label Label, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Minute
	}
	return fmt.Sprintf("%s|%s|%d", symbol, label, at.Truncate(bucket).Unix())
}

// DeliveryStatus is the per-event outcome of a dispatch attempt.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped-duplicate"
	DeliveryTruncated DeliveryStatus = "skipped-truncated"
)

// DeliveryResult records the outcome for one candidate event. Transient, not
// persisted beyond the run's report.
type DeliveryResult struct {
	EventID string
	Status  DeliveryStatus
	Reason  string
}
