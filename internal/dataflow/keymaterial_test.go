package dataflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coronasafe/care-abdm/pkg/domain"
	dErrors "github.com/coronasafe/care-abdm/pkg/domain-errors"
)

func material(nonce string) KeyMaterial {
	return KeyMaterial{
		CryptoAlg: "ECDH",
		Curve:     "Curve25519",
		PublicKey: "pub-key-bytes",
		Expiry:    time.Now().Add(time.Hour),
		Nonce:     nonce,
	}
}

func TestKeyTracker_RecordIsIdempotent(t *testing.T) {
	tracker := NewKeyTracker()
	id := domain.NewTransactionID()

	require.NoError(t, tracker.Record(id, material("n1")))
	require.NoError(t, tracker.Record(id, material("n1")))

	got, ok := tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, "n1", got.Nonce)
}

func TestKeyTracker_DifferingNonceIsProtocolError(t *testing.T) {
	tracker := NewKeyTracker()
	id := domain.NewTransactionID()

	require.NoError(t, tracker.Record(id, material("n1")))
	err := tracker.Record(id, material("n2"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeProtocol))

	got, _ := tracker.Get(id)
	assert.Equal(t, "n1", got.Nonce, "first advertisement wins")
}

func TestKeyTracker_ExpireSkipsActive(t *testing.T) {
	tracker := NewKeyTracker()
	id := domain.NewTransactionID()

	expired := material("n1")
	expired.Expiry = time.Now().Add(-time.Hour)
	require.NoError(t, tracker.Record(id, expired))
	tracker.MarkActive(id)

	assert.Empty(t, tracker.Expire(time.Now()))
	_, ok := tracker.Get(id)
	assert.True(t, ok, "active transaction material survives expiry")

	tracker.MarkTerminal(id)
	purged := tracker.Expire(time.Now())
	require.Len(t, purged, 1)
	assert.Equal(t, id, purged[0])
	_, ok = tracker.Get(id)
	assert.False(t, ok)
}

func TestKeyTracker_ExpireKeepsUnexpired(t *testing.T) {
	tracker := NewKeyTracker()
	id := domain.NewTransactionID()

	require.NoError(t, tracker.Record(id, material("n1")))
	assert.Empty(t, tracker.Expire(time.Now()))
	_, ok := tracker.Get(id)
	assert.True(t, ok)
}
