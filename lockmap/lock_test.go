package lockmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExclusion(t *testing.T) {
	lm := MkLockMap()
	var counters [5]int
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				addr := uint64(n % len(counters))
				lm.Acquire(addr)
				counters[addr]++
				lm.Release(addr)
			}
		}()
	}
	wg.Wait()
	total := 0
	for _, c := range counters {
		total += c
	}
	assert.Equal(t, 800, total, "every increment ran under the address lock")
}

func TestIndependentAddresses(t *testing.T) {
	lm := MkLockMap()
	lm.Acquire(1)
	// A different address (same shard or not) must not block.
	done := make(chan struct{})
	go func() {
		lm.Acquire(1 + NSHARD)
		lm.Release(1 + NSHARD)
		close(done)
	}()
	<-done
	lm.Release(1)
}
