package inmemory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
)

// tradeRepositoryImpl keeps completed trades in a timestamp-sorted slice plus
// an index by offer id.
type tradeRepositoryImpl struct {
	lock    *sync.RWMutex
	trades  []*domain.Trade
	byOffer map[uuid.UUID]*domain.Trade
}

// NewTradeRepositoryImpl returns an empty in-memory trade repository.
func NewTradeRepositoryImpl() domain.TradeRepository {
	return &tradeRepositoryImpl{
		lock:    &sync.RWMutex{},
		trades:  make([]*domain.Trade, 0),
		byOffer: make(map[uuid.UUID]*domain.Trade),
	}
}

func (r *tradeRepositoryImpl) AddTrade(
	_ context.Context, trade *domain.Trade,
) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.byOffer[trade.Offer.ID]; ok {
		return nil
	}

	i := sort.Search(len(r.trades), func(i int) bool {
		return r.trades[i].Timestamp > trade.Timestamp
	})
	r.trades = append(r.trades, nil)
	copy(r.trades[i+1:], r.trades[i:])
	r.trades[i] = trade
	r.byOffer[trade.Offer.ID] = trade
	return nil
}

func (r *tradeRepositoryImpl) GetTradeByOfferID(
	_ context.Context, offerID uuid.UUID,
) (*domain.Trade, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.byOffer[offerID], nil
}

func (r *tradeRepositoryImpl) GetTradesInRange(
	_ context.Context, from, to int64,
) ([]*domain.Trade, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	lo := sort.Search(len(r.trades), func(i int) bool {
		return r.trades[i].Timestamp >= from
	})
	hi := sort.Search(len(r.trades), func(i int) bool {
		return r.trades[i].Timestamp >= to
	})

	trades := make([]*domain.Trade, hi-lo)
	copy(trades, r.trades[lo:hi])
	return trades, nil
}

func (r *tradeRepositoryImpl) GetLatestTrades(
	_ context.Context, count int,
) ([]*domain.Trade, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if count > len(r.trades) {
		count = len(r.trades)
	}
	trades := make([]*domain.Trade, 0, count)
	for i := len(r.trades) - 1; i >= len(r.trades)-count; i-- {
		trades = append(trades, r.trades[i])
	}
	return trades, nil
}

func (r *tradeRepositoryImpl) GetAllTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	trades := make([]*domain.Trade, len(r.trades))
	copy(trades, r.trades)
	return trades, nil
}
