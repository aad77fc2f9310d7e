package domain

import (
	"sync"

	"github.com/google/uuid"
)

// SwapRegistry owns the live swaps of a commitment service, keyed by offer
// id. At most one live swap exists per offer id: registering a second one
// while the first hasn't been processed fails. Once a swap is removed the id
// may be reused.
type SwapRegistry struct {
	lock  *sync.RWMutex
	swaps map[uuid.UUID]*SwapCommitment
}

// NewSwapRegistry returns an empty registry.
func NewSwapRegistry() *SwapRegistry {
	return &SwapRegistry{
		lock:  &sync.RWMutex{},
		swaps: make(map[uuid.UUID]*SwapCommitment),
	}
}

// Create registers a new swap for the offer id.
func (r *SwapRegistry) Create(offerID uuid.UUID) (*SwapCommitment, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.swaps[offerID]; ok {
		return nil, ErrSwapIDCollision
	}
	swap := NewSwapCommitment(offerID)
	r.swaps[offerID] = swap
	return swap, nil
}

// Get returns the live swap for the offer id, nil if none.
func (r *SwapRegistry) Get(offerID uuid.UUID) *SwapCommitment {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.swaps[offerID]
}

// Remove drops the swap for the offer id. Removing an unknown id is a no-op.
func (r *SwapRegistry) Remove(offerID uuid.UUID) {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.swaps, offerID)
}

// Len returns the number of live swaps.
func (r *SwapRegistry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.swaps)
}
