package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMagnitude(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  AlertTier
	}{
		{"negative value", -1.0, TierLow},
		{"zero", 0, TierLow},
		{"just below medium", 3.999, TierLow},
		{"medium lower bound", 4.0, TierMedium},
		{"mid medium", 5.0, TierMedium},
		{"just below high", 5.499, TierMedium},
		{"high lower bound", 5.5, TierHigh},
		{"just below critical", 6.999, TierHigh},
		{"critical lower bound", 7.0, TierCritical},
		{"implausibly large", 42.0, TierCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMagnitude(tt.value))
		})
	}
}

func TestIsSignificant(t *testing.T) {
	assert.False(t, IsSignificant(4.999))
	assert.True(t, IsSignificant(5.0))
	assert.True(t, IsSignificant(9.5))

	assert.False(t, Severity{Value: 3.0}.IsSignificant())
	assert.True(t, Severity{Value: 6.0, Scale: "mww"}.IsSignificant())
}

func TestSeverityTier(t *testing.T) {
	assert.Equal(t, TierMedium, Severity{Value: 4.5}.Tier())
	assert.Equal(t, TierCritical, Severity{Value: 7.8}.Tier())
}
