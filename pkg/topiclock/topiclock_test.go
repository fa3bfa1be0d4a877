package topiclock_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stratamem/stratamem-go/pkg/topiclock"
)

func TestKeyed_MutualExclusion(t *testing.T) {
	locks := topiclock.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock("deployment")
			counter++
			locks.Unlock("deployment")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyed_DifferentKeysDoNotBlock(t *testing.T) {
	locks := topiclock.New()

	locks.Lock("deployment")
	defer locks.Unlock("deployment")

	done := make(chan struct{})
	go func() {
		locks.Lock("billing")
		locks.Unlock("billing")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}
