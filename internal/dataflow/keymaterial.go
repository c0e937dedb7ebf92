package dataflow

import (
	"sync"
	"time"

	"github.com/coronasafe/care-abdm/pkg/domain"
	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

// KeyTracker records the key-exchange material the counterpart advertises per
// transaction, so decryption material can be derived after the transfer.
// Invariant: at most one material per transaction; redelivery of identical
// material is tolerated, a differing nonce is a protocol error.
type KeyTracker struct {
	mu       sync.Mutex
	material map[domain.TransactionID]KeyMaterial
	active   map[domain.TransactionID]bool
}

func NewKeyTracker() *KeyTracker {
	return &KeyTracker{
		material: make(map[domain.TransactionID]KeyMaterial),
		active:   make(map[domain.TransactionID]bool),
	}
}

// Record stores material idempotently.
func (t *KeyTracker) Record(id domain.TransactionID, material KeyMaterial) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	existing, ok := t.material[id]
	if ok {
		if existing.Equal(material) {
			return nil
		}
		return dErrors.Newf(dErrors.CodeProtocol,
			"transaction %s: conflicting key material advertised", id)
	}
	t.material[id] = material
	return nil
}

// Get returns the recorded material for a transaction.
func (t *KeyTracker) Get(id domain.TransactionID) (KeyMaterial, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	material, ok := t.material[id]
	return material, ok
}

// MarkActive flags a transaction as awaiting pages. Material for an active
// transaction survives Expire even past its declared expiry, since the
// transferred pages must still be decryptable.
func (t *KeyTracker) MarkActive(id domain.TransactionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[id] = true
}

// MarkTerminal clears the active flag once the transfer reaches a terminal
// state; the next Expire may then purge the material.
func (t *KeyTracker) MarkTerminal(id domain.TransactionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, id)
}

// Expire purges material past its declared expiry, skipping active
// transactions. It returns the purged transaction ids.
func (t *KeyTracker) Expire(now time.Time) []domain.TransactionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	var purged []domain.TransactionID
	for id, material := range t.material {
		if t.active[id] {
			continue
		}
		if !material.Expiry.IsZero() && material.Expiry.Before(now) {
			delete(t.material, id)
			purged = append(purged, id)
		}
	}
	return purged
}
