package domain

import (
	"context"

	"github.com/google/uuid"
)

// Trade is the immutable record of a completed swap, indexed by completion
// time.
type Trade struct {
	Offer     *Offer
	Timestamp int64
}

// TradeRepository is the time-ordered index of completed trades.
type TradeRepository interface {
	// AddTrade records a completed trade. Trades are immutable once recorded.
	AddTrade(ctx context.Context, trade *Trade) error
	// GetTradeByOfferID returns the trade for an offer id, nil if unknown.
	GetTradeByOfferID(ctx context.Context, offerID uuid.UUID) (*Trade, error)
	// GetTradesInRange returns trades with from <= timestamp < to, oldest
	// first.
	GetTradesInRange(ctx context.Context, from, to int64) ([]*Trade, error)
	// GetLatestTrades returns up to count trades, newest first.
	GetLatestTrades(ctx context.Context, count int) ([]*Trade, error)
	// GetAllTrades returns all trades, oldest first.
	GetAllTrades(ctx context.Context) ([]*Trade, error)
}
