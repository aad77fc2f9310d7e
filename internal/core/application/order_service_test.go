package application

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	dbinmemory "github.com/swapmesh-network/swapmesh-daemon/internal/infrastructure/storage/db/inmemory"
)

// tradingNode is a full client stack on the rig: commit orchestration, order
// service and trade history.
type tradingNode struct {
	*testNode
	orders OrderService
	trades TradeService
}

func (r *csRig) newTradingNode(t *testing.T) *tradingNode {
	t.Helper()
	node := r.newNode(t)

	commits := NewCommitService(CommitServiceOpts{
		Signer:           node.signer,
		Verifier:         newTestVerifier(),
		Broker:           r.broker,
		Payments:         node.payments,
		CSAddress:        r.csAddr,
		Market:           testMarket,
		CommitmentAmount: testCommitmentAmount,
	})
	trades := NewTradeService(dbinmemory.NewTradeRepositoryImpl())
	orders := NewOrderService(OrderServiceOpts{
		Signer:    node.signer,
		Verifier:  newTestVerifier(),
		Broker:    r.broker,
		Payments:  node.payments,
		Commits:   commits,
		Trades:    trades,
		CSAddress: r.csAddr,
		Market:    testMarket,
	})
	orders.Start(r.ctx)

	return &tradingNode{testNode: node, orders: orders, trades: trades}
}

func placeOrder(
	t *testing.T, node *tradingNode, side domain.OfferSide, amount uint64, price int64,
) []*domain.Offer {
	t.Helper()
	order, err := domain.NewLimitOrder(
		side, amount, decimal.NewFromInt(price), time.Minute,
	)
	require.NoError(t, err)
	matched, err := node.orders.PlaceOrder(context.Background(), order)
	require.NoError(t, err)
	return matched
}

func TestOrderFlowEndToEnd(t *testing.T) {
	rig := newCSRig(t)
	maker := rig.newTradingNode(t)
	taker := rig.newTradingNode(t)

	// the maker's sell rests as a proven offer and reaches the taker's book
	matched := placeOrder(t, maker, domain.SideSell, 100, 4)
	assert.Empty(t, matched)
	require.Eventually(t, func() bool {
		return taker.orders.Book().Len() == 1
	}, waitFor, tick)

	booked := taker.orders.Book().Offers(domain.SideSell)[0]
	assert.Equal(t, maker.address, booked.MakerAddress)
	assert.Equal(t, testCommitmentAmount, booked.CommitmentAmount)
	assert.NotEmpty(t, booked.OfferHash)

	// the taker's buy matches it and drives the swap to completion
	matched = placeOrder(t, taker, domain.SideBuy, 100, 4)
	require.Len(t, matched, 1)
	assert.Equal(t, booked.ID, matched[0].ID)

	ctx := context.Background()
	require.Eventually(t, func() bool {
		makerTrades, _ := maker.trades.LatestTrades(ctx, 1)
		takerTrades, _ := taker.trades.LatestTrades(ctx, 1)
		return len(makerTrades) == 1 && len(takerTrades) == 1
	}, waitFor, tick)

	// deposits return minus the service fee and the trade legs settle:
	// maker gives 100 base, receives 400 quote; both pay the 5 unit fee
	fee := FeeAmount(testCommitmentAmount, testFeeRateBps)
	require.Eventually(t, func() bool {
		return rig.ledger.Balance(maker.address) == testNodeFunds+400-100-fee &&
			rig.ledger.Balance(taker.address) == testNodeFunds+100-400-fee
	}, waitFor, tick)
	assert.Equal(t, 2*fee, rig.ledger.Balance(rig.csAddr))

	// both books are clean again
	assert.Equal(t, 0, maker.orders.Book().Len())
	assert.Equal(t, 0, taker.orders.Book().Len())
}

func TestUnmatchedRemainderBecomesRestingOffer(t *testing.T) {
	rig := newCSRig(t)
	maker := rig.newTradingNode(t)
	observer := rig.newTradingNode(t)

	matched := placeOrder(t, maker, domain.SideSell, 500, 4)
	assert.Empty(t, matched)

	require.Eventually(t, func() bool {
		return observer.orders.Book().Len() == 1
	}, waitFor, tick)

	offers := observer.orders.Book().Offers(domain.SideSell)
	require.Len(t, offers, 1)
	assert.Equal(t, uint64(500), offers[0].BaseAmount)
	assert.Equal(t, uint64(2000), offers[0].QuoteAmount)
}

func TestTakerRaceOnlyOneWins(t *testing.T) {
	rig := newCSRig(t)
	maker := rig.newTradingNode(t)
	first := rig.newTradingNode(t)
	second := rig.newTradingNode(t)

	placeOrder(t, maker, domain.SideSell, 100, 4)
	require.Eventually(t, func() bool {
		return first.orders.Book().Len() == 1 && second.orders.Book().Len() == 1
	}, waitFor, tick)

	// both takers go for the same offer at once
	placeOrder(t, first, domain.SideBuy, 100, 4)
	placeOrder(t, second, domain.SideBuy, 100, 4)

	// exactly one trade settles on the maker side
	ctx := context.Background()
	require.Eventually(t, func() bool {
		trades, _ := maker.trades.LatestTrades(ctx, 10)
		return len(trades) == 1
	}, waitFor, tick)

	// the loser's deposit comes back in full once the dust settles
	fee := FeeAmount(testCommitmentAmount, testFeeRateBps)
	require.Eventually(t, func() bool {
		firstBalance := rig.ledger.Balance(first.address)
		secondBalance := rig.ledger.Balance(second.address)
		winnerBalance := testNodeFunds + 100 - 400 - fee
		return (firstBalance == winnerBalance && secondBalance == testNodeFunds) ||
			(secondBalance == winnerBalance && firstBalance == testNodeFunds)
	}, waitFor, tick)
}

func TestCancelOrderRemovesRestingOffer(t *testing.T) {
	rig := newCSRig(t)
	maker := rig.newTradingNode(t)

	order, err := domain.NewLimitOrder(
		domain.SideSell, 100, decimal.NewFromInt(4), time.Minute,
	)
	require.NoError(t, err)
	_, err = maker.orders.PlaceOrder(context.Background(), order)
	require.NoError(t, err)

	assert.True(t, maker.orders.CancelOrder(order.ID))
	assert.False(t, maker.orders.CancelOrder(order.ID))
	assert.False(t, maker.orders.CancelOrder(uuid.New()))
}

func TestPlaceOrderFailsWithoutCommitmentService(t *testing.T) {
	rig := newCSRig(t)
	node := rig.newNode(t)

	// a commit service pointed at a dead address gets no proof and the
	// order placement surfaces that
	commits := NewCommitService(CommitServiceOpts{
		Signer:           node.signer,
		Verifier:         newTestVerifier(),
		Broker:           rig.broker,
		Payments:         node.payments,
		CSAddress:        "nobody-home",
		Market:           testMarket,
		CommitmentAmount: testCommitmentAmount,
	})
	commits.Start(rig.ctx)

	offer, err := domain.NewOffer(
		domain.SideSell, 100, 400, domain.NowMilli()+60_000,
	)
	require.NoError(t, err)

	_, err = commits.MakerCommit(rig.ctx, offer)
	assert.ErrorIs(t, err, ErrSendFailed)
}
