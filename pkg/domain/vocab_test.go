package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

func TestParseConsentStatus(t *testing.T) {
	status, err := ParseConsentStatus("GRANTED")
	require.NoError(t, err)
	assert.Equal(t, ConsentGranted, status)

	_, err = ParseConsentStatus("granted")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestConsentStatus_IsTerminal(t *testing.T) {
	assert.False(t, ConsentRequested.IsTerminal())
	assert.False(t, ConsentGranted.IsTerminal())
	assert.True(t, ConsentDenied.IsTerminal())
	assert.True(t, ConsentExpired.IsTerminal())
	assert.True(t, ConsentRevoked.IsTerminal())
	assert.True(t, ConsentErrored.IsTerminal())
}

func TestParsePurpose(t *testing.T) {
	purpose, err := ParsePurpose("CAREMGT")
	require.NoError(t, err)
	assert.Equal(t, PurposeCareManagement, purpose)

	_, err = ParsePurpose("SHOPPING")
	require.Error(t, err)
}

func TestParseHIType(t *testing.T) {
	hiType, err := ParseHIType("Prescription")
	require.NoError(t, err)
	assert.Equal(t, HITypePrescription, hiType)

	_, err = ParseHIType("prescription")
	require.Error(t, err)
}
