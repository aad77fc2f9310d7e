package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryAllowsOneLiveSwapPerOffer(t *testing.T) {
	registry := NewSwapRegistry()
	offerID := uuid.New()

	swap, err := registry.Create(offerID)
	require.NoError(t, err)
	require.NotNil(t, swap)
	assert.Equal(t, 1, registry.Len())
	assert.Same(t, swap, registry.Get(offerID))

	// a second registration for the same offer id collides
	dup, err := registry.Create(offerID)
	assert.ErrorIs(t, err, ErrSwapIDCollision)
	assert.Nil(t, dup)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistryOfferIDReusableAfterRemoval(t *testing.T) {
	registry := NewSwapRegistry()
	offerID := uuid.New()

	swap, err := registry.Create(offerID)
	require.NoError(t, err)

	registry.Remove(offerID)
	assert.Nil(t, registry.Get(offerID))
	assert.Equal(t, 0, registry.Len())
	// removing again is a no-op
	registry.Remove(offerID)

	fresh, err := registry.Create(offerID)
	require.NoError(t, err)
	assert.NotSame(t, swap, fresh)
	assert.Equal(t, StateInitializing, fresh.State)
}

func TestRegistryGetUnknownOfferReturnsNil(t *testing.T) {
	registry := NewSwapRegistry()
	assert.Nil(t, registry.Get(uuid.New()))
}
