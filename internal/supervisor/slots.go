package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SlotManager bounds how many scans execute at once in this process.
type SlotManager interface {
	// Acquire blocks until a slot is free for scanID or ctx ends.
	Acquire(ctx context.Context, scanID string) error

	// Release frees the slot held by scanID. Unknown ids are ignored.
	Release(scanID string)

	// Active returns the number of held slots.
	Active() int

	// Stats returns slot usage for status output.
	Stats() map[string]interface{}

	// Close refuses further acquisitions.
	Close() error
}

// FixedSlots is a SlotManager with a fixed capacity.
type FixedSlots struct {
	capacity  int
	semaphore chan struct{}
	holders   map[string]time.Time
	mutex     sync.RWMutex
	closed    bool
}

// NewFixedSlots creates a slot manager with the given capacity.
func NewFixedSlots(capacity int) *FixedSlots {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedSlots{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		holders:   make(map[string]time.Time),
	}
}

// Acquire takes a slot for scanID. A scan id holds at most one slot.
func (s *FixedSlots) Acquire(ctx context.Context, scanID string) error {
	s.mutex.RLock()
	closed := s.closed
	_, held := s.holders[scanID]
	s.mutex.RUnlock()

	if closed {
		return fmt.Errorf("slot manager is closed")
	}
	if held {
		return fmt.Errorf("scan %s already holds a slot", scanID)
	}

	select {
	case s.semaphore <- struct{}{}:
		s.mutex.Lock()
		s.holders[scanID] = time.Now()
		s.mutex.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot held by scanID.
func (s *FixedSlots) Release(scanID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.holders[scanID]; !exists {
		return
	}
	delete(s.holders, scanID)

	select {
	case <-s.semaphore:
	default:
	}
}

// Active returns the number of held slots.
func (s *FixedSlots) Active() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.holders)
}

// Close refuses further acquisitions. Held slots stay valid until released.
func (s *FixedSlots) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

// Stats returns slot usage for status output.
func (s *FixedSlots) Stats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var oldest time.Duration
	now := time.Now()
	for _, since := range s.holders {
		if d := now.Sub(since); d > oldest {
			oldest = d
		}
	}

	return map[string]interface{}{
		"slot_capacity":       s.capacity,
		"held_slots":          len(s.holders),
		"available_slots":     s.capacity - len(s.holders),
		"oldest_slot_seconds": int(oldest.Seconds()),
		"slots_closed":        s.closed,
	}
}
