package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord marks a raw record that failed validation during event
// construction. Counted per-record by the ingestion use case; never aborts
// a batch.
var ErrInvalidRecord = errors.New("invalid raw record")

// ErrDuplicateEvent marks a persistence attempt for an external id that is
// already stored. Repositories map their uniqueness-violation errors onto
// this sentinel so a lost check-then-insert race counts as a duplicate, not
// an error.
var ErrDuplicateEvent = errors.New("duplicate hazard event")

// Location is a WGS-84 coordinate with depth in kilometers.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Depth     float64 `json:"depth"`
}

// RawRecord is the fixed boundary shape a feed adapter produces from one
// provider feature. No validation has happened yet; Magnitude is a pointer
// because providers omit it for unreviewed events.
type RawRecord struct {
	ExternalID string
	Magnitude  *float64
	Scale      string
	Latitude   float64
	Longitude  float64
	Depth      float64
	OccurredAt time.Time
	Source     string
	Title      string
}

// HazardEvent is one persisted natural-hazard occurrence. The external id is
// the dedup key; Reviewed is mutated later by administrative flows.
type HazardEvent struct {
	ExternalID string    `json:"external_id"`
	Location   Location  `json:"location"`
	Severity   Severity  `json:"severity"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     string    `json:"source"`
	Title      string    `json:"title,omitempty"`
	Reviewed   bool      `json:"reviewed"`
}

// AffectedRadiusKM estimates the radius of potentially affected area.
// Shallower events affect larger areas, so depth discounts the base radius
// down to a floor of 10%.
func (e HazardEvent) AffectedRadiusKM() float64 {
	base := e.Severity.Value * 20
	depthFactor := 1 - e.Location.Depth/100
	if depthFactor < 0.1 {
		depthFactor = 0.1
	}
	return base * depthFactor
}

// BuildEvent validates a raw record and constructs the candidate entity.
// Negative depths are clamped to the ≥0 convention instead of rejected.
func BuildEvent(r RawRecord) (HazardEvent, error) {
	if r.ExternalID == "" {
		return HazardEvent{}, fmt.Errorf("%w: missing external id", ErrInvalidRecord)
	}
	if r.Magnitude == nil {
		return HazardEvent{}, fmt.Errorf("%w: record %s has no magnitude", ErrInvalidRecord, r.ExternalID)
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return HazardEvent{}, fmt.Errorf("%w: record %s latitude %v out of range", ErrInvalidRecord, r.ExternalID, r.Latitude)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return HazardEvent{}, fmt.Errorf("%w: record %s longitude %v out of range", ErrInvalidRecord, r.ExternalID, r.Longitude)
	}
	if r.OccurredAt.IsZero() {
		return HazardEvent{}, fmt.Errorf("%w: record %s has no occurrence time", ErrInvalidRecord, r.ExternalID)
	}

	depth := r.Depth
	if depth < 0 {
		depth = 0
	}

	return HazardEvent{
		ExternalID: r.ExternalID,
		Location:   Location{Latitude: r.Latitude, Longitude: r.Longitude, Depth: depth},
		Severity:   Severity{Value: *r.Magnitude, Scale: r.Scale},
		OccurredAt: r.OccurredAt.UTC(),
		Source:     r.Source,
		Title:      r.Title,
	}, nil
}

// IngestionResult reports the outcome of one ingestion run. Not persisted;
// returned to the caller and logged.
type IngestionResult struct {
	RecordsFetched   int `json:"records_fetched"`
	RecordsNew       int `json:"records_new"`
	RecordsDuplicate int `json:"records_duplicate"`
	Errors           int `json:"errors"`
}
