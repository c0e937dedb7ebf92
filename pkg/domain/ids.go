package domain

import (
	"github.com/google/uuid"

	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

// Protocol identifiers are version-4-style opaque tokens. The engine never
// interprets their contents; parsing only checks the shape at trust
// boundaries so malformed input is rejected before it reaches a state
// machine. The original casing of the token is preserved.
//
// Distinct types prevent a transaction id from being passed where a consent
// request id is expected; the compiler enforces the distinction.
type (
	// RequestID correlates an outbound protocol request with its callback.
	RequestID string

	// ConsentRequestID is the remote identifier the consent manager assigns
	// to a consent request after acknowledgment.
	ConsentRequestID string

	// ArtefactID identifies a granted consent artefact.
	ArtefactID string

	// TransactionID identifies one data-flow transfer, potentially spanning
	// multiple pages.
	TransactionID string
)

// NewRequestID generates a fresh correlation identifier.
func NewRequestID() RequestID { return RequestID(uuid.NewString()) }

// NewTransactionID generates a fresh transfer identifier.
func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }

func parseToken(s, what string) (string, error) {
	if s == "" {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be empty", what)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "%s is not a valid token", what)
	}
	if id == uuid.Nil {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "%s cannot be the nil token", what)
	}
	return s, nil
}

// ParseRequestID validates an opaque request identifier from external input.
func ParseRequestID(s string) (RequestID, error) {
	v, err := parseToken(s, "request id")
	return RequestID(v), err
}

// ParseConsentRequestID validates a remote consent request identifier.
func ParseConsentRequestID(s string) (ConsentRequestID, error) {
	v, err := parseToken(s, "consent request id")
	return ConsentRequestID(v), err
}

// ParseArtefactID validates a consent artefact identifier.
func ParseArtefactID(s string) (ArtefactID, error) {
	v, err := parseToken(s, "consent artefact id")
	return ArtefactID(v), err
}

// ParseTransactionID validates a transfer transaction identifier.
func ParseTransactionID(s string) (TransactionID, error) {
	v, err := parseToken(s, "transaction id")
	return TransactionID(v), err
}

func (id RequestID) String() string        { return string(id) }
func (id ConsentRequestID) String() string { return string(id) }
func (id ArtefactID) String() string       { return string(id) }
func (id TransactionID) String() string    { return string(id) }
