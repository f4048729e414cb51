package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fjod/furnistore/internal/domain"
)

const (
	// DefaultMemoryTTL matches the lifetime of a Redis cart slot.
	DefaultMemoryTTL = defaultRedisTTL

	// CleanupInterval is how often Run drops expired slots.
	CleanupInterval = time.Minute
)

type memorySlot struct {
	data    []byte
	savedAt time.Time
}

// MemoryStore keeps serialized carts in process memory. Carts go through the same JSON
// encoding as the durable stores, so corruption handling behaves identically. Slots not
// saved within the TTL expire, as Redis keys do.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]memorySlot
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithTTL(DefaultMemoryTTL)
}

// NewMemoryStoreWithTTL expires slots ttl after their last save. A non-positive ttl keeps them forever.
func NewMemoryStoreWithTTL(ttl time.Duration) *MemoryStore {
	return &MemoryStore{slots: make(map[string]memorySlot), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*domain.Cart, error) {
	s.mu.RLock()
	slot, ok := s.slots[cartKey(sessionID)]
	s.mu.RUnlock()
	if !ok || s.expired(slot) {
		return nil, ErrNotFound
	}

	var cart domain.Cart
	if err := json.Unmarshal(slot.data, &cart); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return &cart, nil
}

func (s *MemoryStore) Save(_ context.Context, sessionID string, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	s.Put(sessionID, data)
	return nil
}

// Put writes raw bytes into a slot, bypassing serialization.
func (s *MemoryStore) Put(sessionID string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[cartKey(sessionID)] = memorySlot{data: raw, savedAt: s.now()}
}

// Raw returns the stored bytes of a slot.
func (s *MemoryStore) Raw(sessionID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[cartKey(sessionID)]
	return slot.data, ok
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.slots)
}

// ExpireStale drops every expired slot and returns how many went.
func (s *MemoryStore) ExpireStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for key, slot := range s.slots {
		if s.expired(slot) {
			delete(s.slots, key)
			expired++
		}
	}
	return expired
}

// Run drops expired slots every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExpireStale()
		}
	}
}

func (s *MemoryStore) expired(slot memorySlot) bool {
	return s.ttl > 0 && s.now().Sub(slot.savedAt) >= s.ttl
}
