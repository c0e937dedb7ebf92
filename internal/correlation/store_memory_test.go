package correlation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coronasafe/care-abdm/pkg/domain"
	"github.com/coronasafe/care-abdm/pkg/sentinel"
)

func TestInMemoryStore_AllocateResolve(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	deadline := time.Now().Add(time.Minute)

	id, err := store.Allocate(ctx, KindConsentRequest, "owner-1", deadline)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	entry, err := store.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, entry.ProtocolID)
	assert.Equal(t, KindConsentRequest, entry.Kind)
	assert.Equal(t, "owner-1", entry.Owner)
	assert.True(t, entry.Deadline.Equal(deadline))
}

func TestInMemoryStore_EmptyOwnerDefaultsToProtocolID(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	id, err := store.Allocate(ctx, KindDataFlowRequest, "", time.Now().Add(time.Minute))
	require.NoError(t, err)

	entry, err := store.Resolve(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id.String(), entry.Owner)
}

func TestInMemoryStore_AllocateIsUnique(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	deadline := time.Now().Add(time.Minute)

	seen := make(map[domain.RequestID]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Allocate(ctx, KindConsentRequest, "", deadline)
			assert.NoError(t, err)
			mu.Lock()
			assert.False(t, seen[id])
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestInMemoryStore_ResolveUnknown(t *testing.T) {
	store := NewInMemoryStore()
	_, err := store.Resolve(context.Background(), domain.NewRequestID())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_ReleaseUnknownIsNoOp(t *testing.T) {
	store := NewInMemoryStore()
	assert.NoError(t, store.Release(context.Background(), domain.NewRequestID()))
}

func TestInMemoryStore_ReleasedEntryIsGone(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	id, err := store.Allocate(ctx, KindConsentRequest, "", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, id))

	_, err = store.Resolve(ctx, id)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_SweepExpired(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	expired1, err := store.Allocate(ctx, KindConsentRequest, "a", now.Add(-2*time.Minute))
	require.NoError(t, err)
	expired2, err := store.Allocate(ctx, KindDataFlowRequest, "b", now.Add(-time.Minute))
	require.NoError(t, err)
	live, err := store.Allocate(ctx, KindConsentRequest, "c", now.Add(time.Hour))
	require.NoError(t, err)

	swept, err := store.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, swept, 2)
	// Ordered by deadline, oldest first.
	assert.Equal(t, expired1, swept[0].ProtocolID)
	assert.Equal(t, expired2, swept[1].ProtocolID)

	// Exactly once: a second sweep finds nothing.
	swept, err = store.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, swept)

	_, err = store.Resolve(ctx, live)
	assert.NoError(t, err)
	_, err = store.Resolve(ctx, expired1)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStore_SweepAtExactDeadline(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	now := time.Now()

	id, err := store.Allocate(ctx, KindConsentRequest, "", now)
	require.NoError(t, err)

	swept, err := store.SweepExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, id, swept[0].ProtocolID)
}
