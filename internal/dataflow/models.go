// Package dataflow requests health information for granted consent artefacts
// and reassembles the paginated encrypted transfer that follows.
package dataflow

import (
	"time"

	"github.com/coronasafe/care-abdm/pkg/domain"
)

// SessionStatus is the lifecycle of one data-flow request.
type SessionStatus string

const (
	SessionRequested    SessionStatus = "REQUESTED"
	SessionAcknowledged SessionStatus = "ACKNOWLEDGED"
	SessionTransferred  SessionStatus = "TRANSFERRED"
	SessionFailed       SessionStatus = "FAILED"
)

// IsTerminal reports whether the session can no longer change.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionTransferred || s == SessionFailed
}

// DataFlowRequest tracks one transfer session. The transaction id doubles as
// the correlation id for its callbacks.
type DataFlowRequest struct {
	TransactionID domain.TransactionID
	ArtefactID    domain.ArtefactID

	Status       SessionStatus
	StatusReason string

	CreatedAt time.Time
	UpdatedAt time.Time
	Deadline  time.Time
}

// Entry is one opaque item of a transfer page: inline content, a link, or a
// media reference. The engine never decrypts content; it only carries it.
type Entry struct {
	Content              string
	Link                 string
	Media                string
	Checksum             string
	CareContextReference string
}

// TransferPage is one page of a paginated transfer. Pages arrive out of
// order; each declares its own index and the total count.
type TransferPage struct {
	TransactionID domain.TransactionID
	PageNumber    int
	PageCount     int
	Entries       []Entry
}

// KeyMaterial is the Diffie-Hellman material one side advertises for a
// transaction. The engine stores the parameters; deriving keys is the
// decryption collaborator's job.
type KeyMaterial struct {
	CryptoAlg  string
	Curve      string
	PublicKey  string
	Parameters string
	Expiry     time.Time
	Nonce      string
}

// Equal reports whether two advertisements are the same material. Redelivery
// of identical material is tolerated; a differing nonce is a protocol error.
func (k KeyMaterial) Equal(other KeyMaterial) bool {
	return k.CryptoAlg == other.CryptoAlg &&
		k.Curve == other.Curve &&
		k.PublicKey == other.PublicKey &&
		k.Nonce == other.Nonce
}

// HealthRecord is the complete, ordered record emitted once every page of a
// transaction has arrived.
type HealthRecord struct {
	TransactionID domain.TransactionID
	ArtefactID    domain.ArtefactID
	Entries       []Entry
	KeyMaterial   KeyMaterial
	PageCount     int
	CompletedAt   time.Time
}
