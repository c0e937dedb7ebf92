// Package correlation maps protocol identifiers to the in-flight operation
// they belong to. Every asynchronous exchange allocates an entry before the
// outbound call and resolves it when the callback arrives, possibly much
// later and out of order.
package correlation

import (
	"context"
	"time"

	"github.com/coronasafe/care-abdm/pkg/domain"
)

// Kind identifies which state machine owns an entry.
type Kind string

const (
	KindConsentRequest  Kind = "consent-request"
	KindConsentFetch    Kind = "consent-fetch"
	KindDataFlowRequest Kind = "data-flow-request"
)

// Entry is one live correlation between a protocol identifier and its owning
// operation. Owner is the owning record's identifier in that state machine's
// store.
type Entry struct {
	ProtocolID domain.RequestID
	Kind       Kind
	Owner      string
	CreatedAt  time.Time
	Deadline   time.Time
}

// Store tracks live entries. ProtocolID is unique across all live entries; an
// entry is released once its owner reaches a terminal state or its deadline
// elapses.
type Store interface {
	// Allocate generates a process-wide-unique protocol identifier and
	// stores a pending entry for it. An empty owner means the record is
	// keyed by the protocol id itself; the entry's Owner is then set to the
	// generated id.
	Allocate(ctx context.Context, kind Kind, owner string, deadline time.Time) (domain.RequestID, error)

	// Resolve returns the live entry for id, or sentinel.ErrNotFound.
	Resolve(ctx context.Context, id domain.RequestID) (Entry, error)

	// Release removes the entry for id. Releasing an unknown id is a no-op.
	Release(ctx context.Context, id domain.RequestID) error

	// SweepExpired removes and returns every entry whose deadline is at or
	// before now. Each expired entry is returned exactly once.
	SweepExpired(ctx context.Context, now time.Time) ([]Entry, error)
}
