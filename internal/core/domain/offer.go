package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferSide tells whether an offer buys or sells the base asset of its market.
type OfferSide int

const (
	// SideBuy marks an offer buying the base asset.
	SideBuy OfferSide = iota
	// SideSell marks an offer selling the base asset.
	SideSell
)

// Opposite returns the matching side, ie. the side an order must rest on to
// trade against this one.
func (s OfferSide) Opposite() OfferSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s OfferSide) String() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Market identifies the asset pair all offers of a book refer to.
type Market struct {
	BaseAsset  string
	QuoteAsset string
}

// Offer is a standing order resting in the book, awaiting a taker.
// Amounts are absolute asset quantities, the price is derived from their
// ratio. Timeout is an absolute wall-clock deadline in milliseconds since
// epoch.
type Offer struct {
	ID           uuid.UUID
	Side         OfferSide
	BaseAmount   uint64
	QuoteAmount  uint64
	Timeout      int64
	MakerAddress string

	// OfferHash and CommitmentAmount are only known for offers observed
	// through a ProvenOffer broadcast, never for own offers before signing.
	OfferHash        []byte
	CommitmentAmount uint64
}

// NewOffer returns a validated offer with a new random id.
func NewOffer(
	side OfferSide, baseAmount, quoteAmount uint64, timeout int64,
) (*Offer, error) {
	offer := &Offer{
		ID:          uuid.New(),
		Side:        side,
		BaseAmount:  baseAmount,
		QuoteAmount: quoteAmount,
		Timeout:     timeout,
	}
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	return offer, nil
}

// Validate checks the offer invariants: positive amounts, a known side and a
// timeout strictly in the future.
func (o *Offer) Validate() error {
	if o.Side != SideBuy && o.Side != SideSell {
		return ErrInvalidOfferSide
	}
	if o.BaseAmount == 0 {
		return ErrInvalidBaseAmount
	}
	if o.QuoteAmount == 0 {
		return ErrInvalidQuoteAmount
	}
	if o.TimedOut(NowMilli()) {
		return ErrInvalidTimeout
	}
	return nil
}

// Price returns the offer price as quote amount over base amount.
func (o *Offer) Price() decimal.Decimal {
	return decimal.NewFromInt(int64(o.QuoteAmount)).
		Div(decimal.NewFromInt(int64(o.BaseAmount)))
}

// TimedOut returns whether the offer deadline has passed at the given
// timestamp in milliseconds.
func (o *Offer) TimedOut(at int64) bool {
	return o.Timeout <= at
}

// TimeoutTime returns the offer deadline as a time.Time.
func (o *Offer) TimeoutTime() time.Time {
	return time.UnixMilli(o.Timeout)
}

// NowMilli returns the current wall-clock time in milliseconds since epoch.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}
