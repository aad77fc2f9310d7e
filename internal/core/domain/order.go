package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultOrderLifetime is the lifetime assigned to offers spawned by a limit
// order that doesn't specify one.
const DefaultOrderLifetime = 60 * time.Second

// LimitOrder is a user-submitted intention to trade a given amount of base
// asset at the given price or better. The unmatched remainder of a limit
// order becomes a resting offer.
type LimitOrder struct {
	ID       uuid.UUID
	Side     OfferSide
	Amount   uint64
	Price    decimal.Decimal
	Lifetime time.Duration
}

// NewLimitOrder returns a validated limit order with a new random id.
func NewLimitOrder(
	side OfferSide, amount uint64, price decimal.Decimal, lifetime time.Duration,
) (*LimitOrder, error) {
	if side != SideBuy && side != SideSell {
		return nil, ErrInvalidOfferSide
	}
	if amount == 0 {
		return nil, ErrInvalidOrderAmount
	}
	if !price.IsPositive() {
		return nil, ErrInvalidOrderPrice
	}
	if lifetime <= 0 {
		lifetime = DefaultOrderLifetime
	}
	return &LimitOrder{
		ID:       uuid.New(),
		Side:     side,
		Amount:   amount,
		Price:    price,
		Lifetime: lifetime,
	}, nil
}

// ToOffer derives the resting offer for the unmatched remainder of the order.
func (o *LimitOrder) ToOffer(remainder uint64) (*Offer, error) {
	quoteAmount := o.Price.Mul(decimal.NewFromInt(int64(remainder))).
		Round(0).BigInt().Uint64()
	timeout := time.Now().Add(o.Lifetime).UnixMilli()
	return NewOffer(o.Side, remainder, quoteAmount, timeout)
}
