// Package topiclock provides keyed per-topic mutual exclusion.
//
// The transition engine and the query router serialize work on the same
// topic through a shared Keyed set, so a query observes a record either
// fully pre-transition or fully post-transition while unrelated topics
// proceed independently.
package topiclock

import "sync"

// Keyed is a set of named mutexes. The zero value is not usable; create
// one with New.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty keyed lock set.
func New() *Keyed {
	return &Keyed{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it on first use.
func (k *Keyed) Lock(key string) {
	k.get(key).Lock()
}

// Unlock releases the mutex for key.
func (k *Keyed) Unlock(key string) {
	k.get(key).Unlock()
}

func (k *Keyed) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}
