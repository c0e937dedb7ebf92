package domain

import dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"

// ConsentStatus is the lifecycle state of a consent request or artefact.
// Invariant: transitions only move along
// REQUESTED -> {GRANTED, DENIED, EXPIRED, ERRORED} and
// GRANTED -> {REVOKED, EXPIRED}; the state machines enforce this, the type
// only carries the vocabulary.
type ConsentStatus string

const (
	ConsentRequested ConsentStatus = "REQUESTED"
	ConsentGranted   ConsentStatus = "GRANTED"
	ConsentDenied    ConsentStatus = "DENIED"
	ConsentExpired   ConsentStatus = "EXPIRED"
	ConsentRevoked   ConsentStatus = "REVOKED"
	ConsentErrored   ConsentStatus = "ERRORED"
)

var validConsentStatuses = map[ConsentStatus]bool{
	ConsentRequested: true,
	ConsentGranted:   true,
	ConsentDenied:    true,
	ConsentExpired:   true,
	ConsentRevoked:   true,
	ConsentErrored:   true,
}

// ParseConsentStatus constructs a ConsentStatus from external input.
func ParseConsentStatus(s string) (ConsentStatus, error) {
	st := ConsentStatus(s)
	if !validConsentStatuses[st] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid consent status %q", s)
	}
	return st, nil
}

// IsTerminal reports whether no further transition is possible from s.
func (s ConsentStatus) IsTerminal() bool {
	switch s {
	case ConsentDenied, ConsentExpired, ConsentRevoked, ConsentErrored:
		return true
	}
	return false
}

func (s ConsentStatus) String() string { return string(s) }

// Purpose is the declared reason for requesting health information.
type Purpose string

const (
	PurposeCareManagement Purpose = "CAREMGT"
	PurposeBreakTheGlass  Purpose = "BTG"
	PurposePublicHealth   Purpose = "PUBHLTH"
	PurposePayment        Purpose = "HPAYMT"
	PurposeResearch       Purpose = "DSRCH"
	PurposePatientRequest Purpose = "PATRQT"
)

var validPurposes = map[Purpose]bool{
	PurposeCareManagement: true,
	PurposeBreakTheGlass:  true,
	PurposePublicHealth:   true,
	PurposePayment:        true,
	PurposeResearch:       true,
	PurposePatientRequest: true,
}

// ParsePurpose constructs a Purpose from external input.
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(s)
	if !validPurposes[p] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid purpose %q", s)
	}
	return p, nil
}

func (p Purpose) String() string { return string(p) }

// AccessMode is how the requester is permitted to use granted data.
type AccessMode string

const (
	AccessView   AccessMode = "VIEW"
	AccessStore  AccessMode = "STORE"
	AccessQuery  AccessMode = "QUERY"
	AccessStream AccessMode = "STREAM"
)

var validAccessModes = map[AccessMode]bool{
	AccessView:   true,
	AccessStore:  true,
	AccessQuery:  true,
	AccessStream: true,
}

// ParseAccessMode constructs an AccessMode from external input.
func ParseAccessMode(s string) (AccessMode, error) {
	m := AccessMode(s)
	if !validAccessModes[m] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid access mode %q", s)
	}
	return m, nil
}

func (m AccessMode) String() string { return string(m) }

// HIType names a category of health information that can be requested.
type HIType string

const (
	HITypePrescription         HIType = "Prescription"
	HITypeDiagnosticReport     HIType = "DiagnosticReport"
	HITypeOPConsultation       HIType = "OPConsultation"
	HITypeDischargeSummary     HIType = "DischargeSummary"
	HITypeImmunizationRecord   HIType = "ImmunizationRecord"
	HITypeHealthDocumentRecord HIType = "HealthDocumentRecord"
	HITypeWellnessRecord       HIType = "WellnessRecord"
)

var validHITypes = map[HIType]bool{
	HITypePrescription:         true,
	HITypeDiagnosticReport:     true,
	HITypeOPConsultation:       true,
	HITypeDischargeSummary:     true,
	HITypeImmunizationRecord:   true,
	HITypeHealthDocumentRecord: true,
	HITypeWellnessRecord:       true,
}

// ParseHIType constructs an HIType from external input.
func ParseHIType(s string) (HIType, error) {
	t := HIType(s)
	if !validHITypes[t] {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "invalid health information type %q", s)
	}
	return t, nil
}

func (t HIType) String() string { return string(t) }
