package store

import (
	"sync"

	"github.com/google/uuid"
)

// lockTable partitions write serialization per notebook, per SPEC_FULL.md's
// decision: a single library-wide lock would serialize unrelated notebooks'
// writers against each other for no correctness reason, since a page is
// exclusively owned by one notebook (spec.md §3 "Ownership & lifecycle").
type lockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (t *lockTable) forNotebook(id uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}
