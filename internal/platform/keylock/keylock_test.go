package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	kl := New()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("txn-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestKeyLock_DifferentKeysDoNotBlock(t *testing.T) {
	kl := New()

	unlockA := kl.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := kl.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
	unlockA()
}

func TestKeyLock_MapShrinks(t *testing.T) {
	kl := New()
	for i := 0; i < 10; i++ {
		unlock := kl.Lock("key")
		unlock()
	}
	kl.mu.Lock()
	defer kl.mu.Unlock()
	assert.Empty(t, kl.locks)
}
