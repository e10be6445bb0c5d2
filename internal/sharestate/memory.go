package sharestate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/reviv/pkg/ledger"
)

type memoryEntry struct {
	state     ledger.ShareState
	expiresAt time.Time
}

// MemoryStore is a single-process ledger.ShareStateStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore builds a MemoryStore; a nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: map[string]memoryEntry{}, now: now}
}

func (store *MemoryStore) Put(_ context.Context, key ledger.ShareKey, state ledger.ShareState, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("share state ttl must be positive, got %s", ttl)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.entries[key.String()] = memoryEntry{state: state, expiresAt: store.now().Add(ttl)}
	return nil
}

func (store *MemoryStore) Get(_ context.Context, key ledger.ShareKey) (ledger.ShareState, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	entry, ok := store.entries[key.String()]
	if !ok {
		return ledger.ShareState{}, false, nil
	}
	if !store.now().Before(entry.expiresAt) {
		delete(store.entries, key.String())
		return ledger.ShareState{}, false, nil
	}
	return entry.state, true, nil
}

func (store *MemoryStore) Delete(_ context.Context, key ledger.ShareKey) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.entries, key.String())
	return nil
}
