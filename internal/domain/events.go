package domain

import "time"

// Wire discriminants for the two event variants. Part of the subscriber
// wire contract; do not rename.
const (
	KindEventDetected    = "event_detected"
	KindSignificantAlert = "high_magnitude_alert"
)

// DomainEvent is the tagged union published on the in-process bus. Events
// are immutable, timestamped at creation, and carry no back-reference to
// the entity.
type DomainEvent interface {
	Kind() string
}

// EventDetected is emitted for every newly persisted hazard event.
type EventDetected struct {
	ExternalID string    `json:"external_id"`
	Magnitude  float64   `json:"magnitude"`
	Tier       AlertTier `json:"alert_tier"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Depth      float64   `json:"depth"`
	OccurredAt time.Time `json:"occurred_at"`
	Source     string    `json:"source"`
	Title      string    `json:"title,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (EventDetected) Kind() string { return KindEventDetected }

// SignificantAlert is emitted in addition to EventDetected when the
// severity is significant.
type SignificantAlert struct {
	ExternalID       string    `json:"external_id"`
	Magnitude        float64   `json:"magnitude"`
	Tier             AlertTier `json:"alert_tier"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	AffectedRadiusKM float64   `json:"affected_radius_km"`
	Timestamp        time.Time `json:"timestamp"`
}

func (SignificantAlert) Kind() string { return KindSignificantAlert }

// NewEventDetected builds the detection event for a freshly persisted entity.
func NewEventDetected(e HazardEvent) EventDetected {
	return EventDetected{
		ExternalID: e.ExternalID,
		Magnitude:  e.Severity.Value,
		Tier:       e.Severity.Tier(),
		Latitude:   e.Location.Latitude,
		Longitude:  e.Location.Longitude,
		Depth:      e.Location.Depth,
		OccurredAt: e.OccurredAt,
		Source:     e.Source,
		Title:      e.Title,
		Timestamp:  clock.Now().UTC(),
	}
}

// NewSignificantAlert builds the alert event for a significant entity.
func NewSignificantAlert(e HazardEvent) SignificantAlert {
	return SignificantAlert{
		ExternalID:       e.ExternalID,
		Magnitude:        e.Severity.Value,
		Tier:             e.Severity.Tier(),
		Latitude:         e.Location.Latitude,
		Longitude:        e.Location.Longitude,
		AffectedRadiusKM: e.AffectedRadiusKM(),
		Timestamp:        clock.Now().UTC(),
	}
}
