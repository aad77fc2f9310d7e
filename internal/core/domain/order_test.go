package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLimitOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		side   OfferSide
		amount uint64
		price  decimal.Decimal
		want   error
	}{
		{"unknown side", OfferSide(9), 100, decimal.NewFromInt(4), ErrInvalidOfferSide},
		{"zero amount", SideBuy, 0, decimal.NewFromInt(4), ErrInvalidOrderAmount},
		{"zero price", SideBuy, 100, decimal.Zero, ErrInvalidOrderPrice},
		{"negative price", SideSell, 100, decimal.NewFromInt(-1), ErrInvalidOrderPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLimitOrder(tt.side, tt.amount, tt.price, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewLimitOrderDefaultsLifetime(t *testing.T) {
	order, err := NewLimitOrder(SideBuy, 100, decimal.NewFromInt(4), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultOrderLifetime, order.Lifetime)

	order, err = NewLimitOrder(SideBuy, 100, decimal.NewFromInt(4), 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, order.Lifetime)
}

func TestOrderToOfferDerivesQuoteFromPrice(t *testing.T) {
	order, err := NewLimitOrder(
		SideSell, 600, decimal.NewFromInt(4), 30*time.Second,
	)
	require.NoError(t, err)

	offer, err := order.ToOffer(100)
	require.NoError(t, err)
	assert.Equal(t, SideSell, offer.Side)
	assert.Equal(t, uint64(100), offer.BaseAmount)
	assert.Equal(t, uint64(400), offer.QuoteAmount)
	assert.True(t, offer.Price().Equal(order.Price))

	wantTimeout := time.Now().Add(order.Lifetime).UnixMilli()
	assert.InDelta(t, wantTimeout, offer.Timeout, 1000)
}

func TestOrderToOfferRoundsFractionalQuote(t *testing.T) {
	price, err := decimal.NewFromString("4.95")
	require.NoError(t, err)
	order, err := NewLimitOrder(SideBuy, 100, price, time.Minute)
	require.NoError(t, err)

	offer, err := order.ToOffer(3)
	require.NoError(t, err)
	// 3 * 4.95 = 14.85, rounded to the nearest minor unit
	assert.Equal(t, uint64(15), offer.QuoteAmount)
}
