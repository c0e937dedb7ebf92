// Package consent drives a consent request through its lifecycle in response
// to local actions and gateway callbacks.
package consent

import (
	"encoding/json"
	"time"

	"github.com/coronasafe/care-abdm/pkg/domain"
)

// DateRange is the access window a consent permits.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Covers reports whether now falls inside the window.
func (d DateRange) Covers(now time.Time) bool {
	return !now.Before(d.From) && !now.After(d.To)
}

// Frequency limits how often granted data may be fetched.
type Frequency struct {
	Unit    string
	Value   int
	Repeats int
}

// CareContext points at one patient/record pair covered by an artefact.
type CareContext struct {
	PatientReference     string
	CareContextReference string
}

// ConsentRequest is the HIU-side record of one consent request. It is created
// locally with status REQUESTED and mutated only by the state machine upon
// acknowledgment or callback; terminal states are never left.
type ConsentRequest struct {
	// ID is the locally generated identifier, which doubles as the
	// correlation id the gateway echoes back in response.requestId.
	ID domain.RequestID

	// RemoteID is assigned by the consent manager after acknowledgment.
	RemoteID domain.ConsentRequestID

	// Exactly one of AbhaNumber and Patient identifies the subject.
	AbhaNumber string
	Patient    string

	Requester   string
	Purpose     domain.Purpose
	HiTypes     []domain.HIType
	AccessMode  domain.AccessMode
	DateRange   DateRange
	DataEraseAt time.Time
	Frequency   Frequency

	Status       domain.ConsentStatus
	StatusReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// consentTransitions is the full transition relation. Anything absent here is
// unreachable.
var consentTransitions = map[domain.ConsentStatus][]domain.ConsentStatus{
	domain.ConsentRequested: {
		domain.ConsentGranted,
		domain.ConsentDenied,
		domain.ConsentExpired,
		domain.ConsentErrored,
	},
	domain.ConsentGranted: {
		domain.ConsentRevoked,
		domain.ConsentExpired,
	},
}

// CanTransition reports whether moving from the current status to target is a
// legal edge.
func (r *ConsentRequest) CanTransition(target domain.ConsentStatus) bool {
	for _, next := range consentTransitions[r.Status] {
		if next == target {
			return true
		}
	}
	return false
}

// ConsentArtefact is one granted consent. Created only on a GRANTED callback,
// immutable once created except for status; the signed detail arrives through
// a follow-up fetch.
type ConsentArtefact struct {
	ID               domain.ArtefactID
	ConsentRequestID domain.RequestID

	Status    domain.ConsentStatus
	Signature string

	// Detail is the signed detail blob exactly as received; the engine
	// stores it for the collaborator that verifies signatures.
	Detail json.RawMessage

	Purpose      domain.Purpose
	HiTypes      []domain.HIType
	AccessMode   domain.AccessMode
	DateRange    DateRange
	DataEraseAt  time.Time
	Frequency    Frequency
	CareContexts []CareContext

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanTransition for artefacts follows the granted-side edges only: an
// artefact exists only once granted.
func (a *ConsentArtefact) CanTransition(target domain.ConsentStatus) bool {
	if a.Status != domain.ConsentGranted {
		return false
	}
	return target == domain.ConsentRevoked || target == domain.ConsentExpired
}

// AccessWindowCovers reports whether the artefact permits access at now.
func (a *ConsentArtefact) AccessWindowCovers(now time.Time) bool {
	return a.DateRange.Covers(now)
}
