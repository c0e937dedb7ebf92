// Package audit records protocol-significant events for the surrounding
// hospital application. Events are emitted from domain logic and persisted
// asynchronously so emission never blocks a callback path.
package audit

import "time"

// Action names the protocol event being recorded.
type Action string

const (
	ActionConsentRequested   Action = "consent_requested"
	ActionConsentGranted     Action = "consent_granted"
	ActionConsentDenied      Action = "consent_denied"
	ActionConsentRevoked     Action = "consent_revoked"
	ActionConsentExpired     Action = "consent_expired"
	ActionConsentErrored     Action = "consent_errored"
	ActionTransferRequested  Action = "transfer_requested"
	ActionTransferCompleted  Action = "transfer_completed"
	ActionTransferFailed     Action = "transfer_failed"
	ActionCorrelationExpired Action = "correlation_expired"
)

// Event is one recorded protocol action. Subject is the identifier of the
// entity the action applies to (request id, artefact id, or transaction id).
type Event struct {
	Timestamp time.Time
	Action    Action
	Subject   string
	Reason    string
}
