package domain

// AlertTier is the four-level severity classification derived from magnitude.
type AlertTier string

const (
	TierLow      AlertTier = "LOW"
	TierMedium   AlertTier = "MEDIUM"
	TierHigh     AlertTier = "HIGH"
	TierCritical AlertTier = "CRITICAL"
)

// significantThreshold is the magnitude at and above which an event raises a
// high-magnitude alert in addition to the detection event.
const significantThreshold = 5.0

// ClassifyMagnitude maps a magnitude value to its alert tier. Ties at a
// boundary go to the higher tier.
func ClassifyMagnitude(value float64) AlertTier {
	switch {
	case value >= 7.0:
		return TierCritical
	case value >= 5.5:
		return TierHigh
	case value >= 4.0:
		return TierMedium
	default:
		return TierLow
	}
}

// IsSignificant reports whether a magnitude value warrants an alert event.
func IsSignificant(value float64) bool {
	return value >= significantThreshold
}

// Severity is a magnitude value plus the provider's scale identifier
// (e.g. "ml", "mb", "mww"). Immutable value object.
type Severity struct {
	Value float64 `json:"value"`
	Scale string  `json:"scale,omitempty"`
}

func (s Severity) IsSignificant() bool {
	return IsSignificant(s.Value)
}

func (s Severity) Tier() AlertTier {
	return ClassifyMagnitude(s.Value)
}
