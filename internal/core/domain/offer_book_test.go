package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustOffer(t *testing.T, side OfferSide, base, quote uint64) *Offer {
	t.Helper()
	offer, err := NewOffer(side, base, quote, NowMilli()+60_000)
	require.NoError(t, err)
	return offer
}

func TestInsertRejectsInvalidOffers(t *testing.T) {
	book := NewOfferBook()

	tests := []struct {
		name  string
		offer *Offer
		want  error
	}{
		{
			"zero base amount",
			&Offer{ID: uuid.New(), Side: SideSell, QuoteAmount: 10, Timeout: NowMilli() + 1000},
			ErrInvalidBaseAmount,
		},
		{
			"zero quote amount",
			&Offer{ID: uuid.New(), Side: SideSell, BaseAmount: 10, Timeout: NowMilli() + 1000},
			ErrInvalidQuoteAmount,
		},
		{
			"expired",
			&Offer{ID: uuid.New(), Side: SideBuy, BaseAmount: 10, QuoteAmount: 10, Timeout: NowMilli() - 1},
			ErrInvalidTimeout,
		},
		{
			"unknown side",
			&Offer{ID: uuid.New(), Side: OfferSide(7), BaseAmount: 10, QuoteAmount: 10, Timeout: NowMilli() + 1000},
			ErrInvalidOfferSide,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, book.Insert(tt.offer), tt.want)
		})
	}
	assert.Equal(t, 0, book.Len())
}

func TestOffersOrderedByPriceThenTimeout(t *testing.T) {
	book := NewOfferBook()

	cheap := mustOffer(t, SideSell, 100, 200)     // price 2
	expensive := mustOffer(t, SideSell, 100, 400) // price 4
	mid := mustOffer(t, SideSell, 100, 300)       // price 3
	midLater := mustOffer(t, SideSell, 100, 300)
	midLater.Timeout = mid.Timeout + 1000

	for _, offer := range []*Offer{expensive, midLater, cheap, mid} {
		require.NoError(t, book.Insert(offer))
	}

	offers := book.Offers(SideSell)
	require.Len(t, offers, 4)
	assert.Equal(t, cheap.ID, offers[0].ID)
	assert.Equal(t, mid.ID, offers[1].ID)
	assert.Equal(t, midLater.ID, offers[2].ID)
	assert.Equal(t, expensive.ID, offers[3].ID)
}

func TestOffersEligible(t *testing.T) {
	book := NewOfferBook()

	sellAt2 := mustOffer(t, SideSell, 100, 200)
	sellAt4 := mustOffer(t, SideSell, 100, 400)
	buyAt3 := mustOffer(t, SideBuy, 100, 300)
	buyAt5 := mustOffer(t, SideBuy, 100, 500)

	for _, offer := range []*Offer{sellAt2, sellAt4, buyAt3, buyAt5} {
		require.NoError(t, book.Insert(offer))
	}

	// a buyer willing to pay 3 only reaches the sell at 2
	sells := book.OffersEligible(SideSell, decimal.NewFromInt(3))
	require.Len(t, sells, 1)
	assert.Equal(t, sellAt2.ID, sells[0].ID)

	// a seller asking 4 only reaches the buy at 5
	buys := book.OffersEligible(SideBuy, decimal.NewFromInt(4))
	require.Len(t, buys, 1)
	assert.Equal(t, buyAt5.ID, buys[0].ID)

	// exact price limits are eligible on both sides
	assert.Len(t, book.OffersEligible(SideSell, decimal.NewFromInt(2)), 1)
	assert.Len(t, book.OffersEligible(SideBuy, decimal.NewFromInt(5)), 1)
}

func TestReinsertReplacesRestingOffer(t *testing.T) {
	book := NewOfferBook()

	offer := mustOffer(t, SideSell, 100, 400)
	require.NoError(t, book.Insert(offer))
	// the broker delivers at least once, the same broadcast may come again
	require.NoError(t, book.Insert(offer))
	assert.Equal(t, 1, book.Len())
	assert.Len(t, book.Offers(SideSell), 1)

	assert.True(t, book.Remove(offer.ID))
	assert.Equal(t, 0, book.Len())
	assert.False(t, book.Contains(offer.ID))
	assert.Empty(t, book.Offers(SideSell))
	assert.Empty(t, book.OffersEligible(SideSell, decimal.NewFromInt(10)))

	// a redelivery with a refreshed timeout replaces rather than duplicates
	require.NoError(t, book.Insert(offer))
	refreshed := *offer
	refreshed.Timeout += 1000
	require.NoError(t, book.Insert(&refreshed))
	assert.Equal(t, 1, book.Len())
	assert.Equal(t, refreshed.Timeout, book.Get(offer.ID).Timeout)
}

func TestRemoveIsIdempotent(t *testing.T) {
	book := NewOfferBook()
	offer := mustOffer(t, SideBuy, 10, 40)
	require.NoError(t, book.Insert(offer))

	assert.True(t, book.Contains(offer.ID))
	assert.True(t, book.Remove(offer.ID))
	assert.False(t, book.Remove(offer.ID))
	assert.False(t, book.Contains(offer.ID))
	assert.False(t, book.Remove(uuid.New()))
	assert.Equal(t, 0, book.Len())
}

func TestGetReturnsNilForUnknownID(t *testing.T) {
	book := NewOfferBook()
	assert.Nil(t, book.Get(uuid.New()))

	offer := mustOffer(t, SideSell, 10, 40)
	require.NoError(t, book.Insert(offer))
	got := book.Get(offer.ID)
	require.NotNil(t, got)
	assert.Equal(t, offer.ID, got.ID)
}
