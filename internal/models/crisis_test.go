package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskLevel_Ordering(t *testing.T) {
	assert.True(t, RiskCritical.AtLeast(RiskHigh))
	assert.True(t, RiskMedium.AtLeast(RiskMedium))
	assert.False(t, RiskLow.AtLeast(RiskMedium))
	assert.Equal(t, RiskHigh, MaxRisk(RiskMedium, RiskHigh))
	assert.Equal(t, RiskHigh, MaxRisk(RiskHigh, RiskLow))
}

func TestRiskLevel_Elevate(t *testing.T) {
	assert.Equal(t, RiskMedium, RiskLow.Elevate(1))
	assert.Equal(t, RiskHigh, RiskMedium.Elevate(1))
	assert.Equal(t, RiskCritical, RiskCritical.Elevate(1))
	assert.Equal(t, RiskCritical, RiskLow.Elevate(10))
}

func TestParseRiskLevel(t *testing.T) {
	l, err := ParseRiskLevel(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, RiskHigh, l)

	_, err = ParseRiskLevel("severe")
	assert.Error(t, err)
}

func TestLoadLocation(t *testing.T) {
	assert.Equal(t, "UTC", LoadLocation("").String())
	assert.Equal(t, "UTC", LoadLocation("Not/AZone").String())
}
