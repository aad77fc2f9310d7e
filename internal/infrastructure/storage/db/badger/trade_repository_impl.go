package dbbadger

import (
	"context"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
)

// tradeRecord is the stored shape of a completed trade. The timestamp is
// duplicated out of the trade so it can carry a badgerhold index for the
// range and latest queries.
type tradeRecord struct {
	OfferID   uuid.UUID `badgerhold:"key"`
	Timestamp int64     `badgerholdIndex:"Timestamp"`
	Trade     *domain.Trade
}

type tradeRepositoryImpl struct {
	db *DbManager
}

// NewTradeRepositoryImpl returns a badger-backed trade repository.
func NewTradeRepositoryImpl(db *DbManager) domain.TradeRepository {
	return tradeRepositoryImpl{db: db}
}

func (t tradeRepositoryImpl) AddTrade(
	_ context.Context, trade *domain.Trade,
) error {
	record := &tradeRecord{
		OfferID:   trade.Offer.ID,
		Timestamp: trade.Timestamp,
		Trade:     trade,
	}
	err := t.db.TradeStore.Insert(trade.Offer.ID, record)
	if err == badgerhold.ErrKeyExists {
		// trades are immutable, a duplicate report is a no-op
		return nil
	}
	return err
}

func (t tradeRepositoryImpl) GetTradeByOfferID(
	_ context.Context, offerID uuid.UUID,
) (*domain.Trade, error) {
	var record tradeRecord
	err := t.db.TradeStore.Get(offerID, &record)
	if err == badgerhold.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record.Trade, nil
}

func (t tradeRepositoryImpl) GetTradesInRange(
	_ context.Context, from, to int64,
) ([]*domain.Trade, error) {
	query := badgerhold.
		Where("Timestamp").Ge(from).And("Timestamp").Lt(to).
		SortBy("Timestamp")
	return t.findTrades(query)
}

func (t tradeRepositoryImpl) GetLatestTrades(
	_ context.Context, count int,
) ([]*domain.Trade, error) {
	query := badgerhold.
		Where("Timestamp").Ge(int64(0)).
		SortBy("Timestamp").Reverse().Limit(count)
	return t.findTrades(query)
}

func (t tradeRepositoryImpl) GetAllTrades(
	_ context.Context,
) ([]*domain.Trade, error) {
	query := badgerhold.Where("Timestamp").Ge(int64(0)).SortBy("Timestamp")
	return t.findTrades(query)
}

func (t tradeRepositoryImpl) findTrades(
	query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var records []tradeRecord
	if err := t.db.TradeStore.Find(&records, query); err != nil {
		return nil, err
	}

	trades := make([]*domain.Trade, 0, len(records))
	for _, record := range records {
		trades = append(trades, record.Trade)
	}
	return trades, nil
}
