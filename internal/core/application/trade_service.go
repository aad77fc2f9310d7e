package application

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/pkg/timekeeper"
)

// TradeService tracks swaps from the moment their offer is taken until their
// completion is broadcast, and serves the resulting trade history.
type TradeService interface {
	// AddPending registers a taken offer awaiting its completion broadcast.
	AddPending(offer *domain.Offer)
	// ReportCompleted moves a pending swap into the trade history with the
	// given completion timestamp. It returns false if the offer id is not
	// pending, which makes duplicate completion broadcasts harmless.
	ReportCompleted(ctx context.Context, offerID uuid.UUID, timestamp int64) bool
	// PendingCount returns the number of taken offers awaiting completion.
	PendingCount() int
	// Query returns trades completed with from <= timestamp < to, oldest
	// first.
	Query(ctx context.Context, from, to int64) ([]*domain.Trade, error)
	// LatestTrades returns up to count trades, newest first.
	LatestTrades(ctx context.Context, count int) ([]*domain.Trade, error)
	// MarketPrice returns the volume-weighted average price of the latest
	// count trades, nil if no trade completed yet.
	MarketPrice(ctx context.Context, count int) (*decimal.Decimal, error)
}

type tradeService struct {
	repo   domain.TradeRepository
	timers *timekeeper.Timekeeper

	lock    sync.Mutex
	pending map[uuid.UUID]*domain.Offer
}

// NewTradeService returns a TradeService backed by the given repository.
func NewTradeService(repo domain.TradeRepository) TradeService {
	return &tradeService{
		repo:    repo,
		timers:  timekeeper.New(),
		pending: make(map[uuid.UUID]*domain.Offer),
	}
}

func (s *tradeService) AddPending(offer *domain.Offer) {
	s.lock.Lock()
	s.pending[offer.ID] = offer
	s.lock.Unlock()

	// a swap that fails or expires broadcasts no completion, so the entry
	// is dropped once its offer times out
	offerID := offer.ID
	s.timers.Schedule(offerID.String(), offer.TimeoutTime(), func() {
		s.lock.Lock()
		defer s.lock.Unlock()

		if _, ok := s.pending[offerID]; ok {
			delete(s.pending, offerID)
			log.Debugf("dropping pending swap %s, offer timed out", offerID)
		}
	})
}

func (s *tradeService) ReportCompleted(
	ctx context.Context, offerID uuid.UUID, timestamp int64,
) bool {
	s.lock.Lock()
	offer, ok := s.pending[offerID]
	if ok {
		delete(s.pending, offerID)
	}
	s.lock.Unlock()
	if !ok {
		return false
	}
	s.timers.Cancel(offerID.String())

	trade := &domain.Trade{Offer: offer, Timestamp: timestamp}
	if err := s.repo.AddTrade(ctx, trade); err != nil {
		log.WithError(err).Warnf("failed to record trade for offer %s", offerID)
		return false
	}
	return true
}

func (s *tradeService) PendingCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.pending)
}

func (s *tradeService) Query(
	ctx context.Context, from, to int64,
) ([]*domain.Trade, error) {
	return s.repo.GetTradesInRange(ctx, from, to)
}

func (s *tradeService) LatestTrades(
	ctx context.Context, count int,
) ([]*domain.Trade, error) {
	return s.repo.GetLatestTrades(ctx, count)
}

func (s *tradeService) MarketPrice(
	ctx context.Context, count int,
) (*decimal.Decimal, error) {
	trades, err := s.repo.GetLatestTrades(ctx, count)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, nil
	}

	baseVolume := decimal.Zero
	quoteVolume := decimal.Zero
	for _, trade := range trades {
		baseVolume = baseVolume.Add(
			decimal.NewFromInt(int64(trade.Offer.BaseAmount)),
		)
		quoteVolume = quoteVolume.Add(
			decimal.NewFromInt(int64(trade.Offer.QuoteAmount)),
		)
	}
	price := quoteVolume.Div(baseVolume)
	return &price, nil
}
