package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	makerAddr  = "maker"
	takerAddr  = "taker"
	taker2Addr = "taker2"

	depositAmount uint64 = 1000
)

func newTestSwap(t *testing.T) (*SwapCommitment, int64) {
	t.Helper()
	return NewSwapCommitment(uuid.New()), NowMilli() + 60_000
}

func makerCommitmentEvent(offerID uuid.UUID, timeout int64) MakerCommitmentEvent {
	msg := NewMakerCommitment(offerID, []byte("offer-hash"), timeout, depositAmount)
	msg.SetSignature([]byte("maker-sig"))
	return MakerCommitmentEvent{Sender: makerAddr, Msg: msg}
}

func takerCommitmentEvent(
	offerID uuid.UUID, timeout int64, sender string,
) TakerCommitmentEvent {
	msg := NewTakerCommitment(offerID, []byte("offer-hash"), timeout, depositAmount)
	msg.SetSignature([]byte(sender + "-sig"))
	return TakerCommitmentEvent{Sender: sender, Msg: msg}
}

func receiptEvent(
	offerID uuid.UUID, sender string, amount uint64, at int64,
) TransferReceiptEvent {
	return TransferReceiptEvent{Receipt: TransferReceipt{
		Sender:     sender,
		Amount:     amount,
		Identifier: offerID,
		Timestamp:  at,
	}}
}

func executionEvent(offerID uuid.UUID, sender string) SwapExecutionEvent {
	return SwapExecutionEvent{
		Sender: sender,
		Msg:    &SwapExecution{OfferID: offerID, Timestamp: NowMilli()},
	}
}

func refundsOf(effects []SideEffect) []QueueRefund {
	refunds := make([]QueueRefund, 0)
	for _, e := range effects {
		if r, ok := e.(QueueRefund); ok {
			refunds = append(refunds, r)
		}
	}
	return refunds
}

func messagesOf(effects []SideEffect) []SendMessage {
	msgs := make([]SendMessage, 0)
	for _, e := range effects {
		if m, ok := e.(SendMessage); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// commitMaker drives a fresh swap to wait_for_taker.
func commitMaker(t *testing.T, swap *SwapCommitment, timeout int64) {
	t.Helper()

	effects := swap.Dispatch(makerCommitmentEvent(swap.OfferID, timeout))
	require.Len(t, effects, 1)
	schedule, ok := effects[0].(ScheduleTimeout)
	require.True(t, ok)
	assert.Equal(t, swap.OfferID, schedule.OfferID)
	assert.Equal(t, timeout, schedule.At)
	assert.Equal(t, StateWaitForMaker, swap.State)

	effects = swap.Dispatch(
		receiptEvent(swap.OfferID, makerAddr, depositAmount, NowMilli()),
	)
	require.Len(t, effects, 1)
	proof, ok := effects[0].(SendMessage)
	require.True(t, ok)
	assert.Equal(t, makerAddr, proof.Recipient)
	assert.IsType(t, &CommitmentProof{}, proof.Msg)
	assert.Equal(t, StateWaitForTaker, swap.State)
}

// fundTaker drives a wait_for_taker swap to wait_for_execution with the given
// taker.
func fundTaker(t *testing.T, swap *SwapCommitment, timeout int64, taker string) {
	t.Helper()

	swap.Dispatch(takerCommitmentEvent(swap.OfferID, timeout, taker))
	effects := swap.Dispatch(
		receiptEvent(swap.OfferID, taker, depositAmount, NowMilli()),
	)

	msgs := messagesOf(effects)
	require.Len(t, msgs, 2)
	// the winner must see its proof before anyone sees the taken broadcast
	assert.IsType(t, &CommitmentProof{}, msgs[0].Msg)
	assert.Equal(t, taker, msgs[0].Recipient)
	assert.IsType(t, &OfferTaken{}, msgs[1].Msg)
	assert.Empty(t, msgs[1].Recipient)
	assert.Equal(t, StateWaitForExecution, swap.State)
	assert.Equal(t, taker, swap.TakerAddress)
}

func TestSwapHappyPath(t *testing.T) {
	swap, timeout := newTestSwap(t)

	commitMaker(t, swap, timeout)
	fundTaker(t, swap, timeout, takerAddr)

	effects := swap.Dispatch(executionEvent(swap.OfferID, makerAddr))
	assert.Empty(t, effects)
	assert.Equal(t, StateWaitForTakerExecution, swap.State)

	effects = swap.Dispatch(executionEvent(swap.OfferID, takerAddr))

	msgs := messagesOf(effects)
	require.Len(t, msgs, 1)
	assert.IsType(t, &SwapCompleted{}, msgs[0].Msg)
	assert.Empty(t, msgs[0].Recipient)

	refunds := refundsOf(effects)
	require.Len(t, refunds, 2)
	refunded := uint64(0)
	for _, refund := range refunds {
		assert.Equal(t, RefundPriorityCompletion, refund.Priority)
		assert.True(t, refund.ClaimFee)
		refunded += refund.Receipt.Amount
	}
	// both deposits come back in full, the fee is deducted at payout time
	assert.Equal(t, 2*depositAmount, refunded)

	assert.Equal(t, StateProcessed, swap.State)
	assert.Equal(t, StateTraded, swap.TerminatedState)
	assert.True(t, swap.IsProcessed())
}

func TestSwapTakerFirstThenMakerCompletes(t *testing.T) {
	swap, timeout := newTestSwap(t)
	commitMaker(t, swap, timeout)
	fundTaker(t, swap, timeout, takerAddr)

	swap.Dispatch(executionEvent(swap.OfferID, takerAddr))
	assert.Equal(t, StateWaitForMakerExecution, swap.State)

	effects := swap.Dispatch(executionEvent(swap.OfferID, makerAddr))
	assert.Len(t, refundsOf(effects), 2)
	assert.Equal(t, StateTraded, swap.TerminatedState)
}

func TestFirstFundedTakerWins(t *testing.T) {
	swap, timeout := newTestSwap(t)
	commitMaker(t, swap, timeout)

	swap.Dispatch(takerCommitmentEvent(swap.OfferID, timeout, takerAddr))
	swap.Dispatch(takerCommitmentEvent(swap.OfferID, timeout, taker2Addr))

	fundTaker(t, swap, timeout, taker2Addr)

	// the slower taker's transfer arrives after the race is decided and is
	// promptly refunded without a fee
	effects := swap.Dispatch(
		receiptEvent(swap.OfferID, takerAddr, depositAmount, NowMilli()),
	)
	refunds := refundsOf(effects)
	require.Len(t, refunds, 1)
	assert.Equal(t, takerAddr, refunds[0].Receipt.Sender)
	assert.Equal(t, RefundPriorityErroneous, refunds[0].Priority)
	assert.False(t, refunds[0].ClaimFee)
	assert.Equal(t, taker2Addr, swap.TakerAddress)
}

func TestResentTakerCommitmentKeepsFirst(t *testing.T) {
	swap, timeout := newTestSwap(t)
	commitMaker(t, swap, timeout)

	first := takerCommitmentEvent(swap.OfferID, timeout, takerAddr)
	swap.Dispatch(first)

	resent := takerCommitmentEvent(swap.OfferID, timeout, takerAddr)
	resent.Msg.SetSignature([]byte("other-sig"))
	swap.Dispatch(resent)

	assert.Equal(t, first.Msg, swap.TakerCommitmentPool[takerAddr])
}

func TestUnexpectedTransfersRefundedWithoutFee(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		amount uint64
	}{
		{"wrong amount from maker", makerAddr, depositAmount + 1},
		{"unknown sender", "stranger", depositAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			swap, timeout := newTestSwap(t)
			swap.Dispatch(makerCommitmentEvent(swap.OfferID, timeout))

			effects := swap.Dispatch(
				receiptEvent(swap.OfferID, tt.sender, tt.amount, NowMilli()),
			)
			refunds := refundsOf(effects)
			require.Len(t, refunds, 1)
			assert.Equal(t, tt.sender, refunds[0].Receipt.Sender)
			assert.Equal(t, tt.amount, refunds[0].Receipt.Amount)
			assert.Equal(t, RefundPriorityErroneous, refunds[0].Priority)
			assert.False(t, refunds[0].ClaimFee)
			assert.Equal(t, StateWaitForMaker, swap.State)
		})
	}
}

func TestLateMakerTransferRefunded(t *testing.T) {
	swap, timeout := newTestSwap(t)
	swap.Dispatch(makerCommitmentEvent(swap.OfferID, timeout))

	// right sender and amount, but after the offer deadline
	effects := swap.Dispatch(
		receiptEvent(swap.OfferID, makerAddr, depositAmount, timeout+1),
	)
	refunds := refundsOf(effects)
	require.Len(t, refunds, 1)
	assert.False(t, refunds[0].ClaimFee)
	assert.Equal(t, StateWaitForMaker, swap.State)
}

func TestTimeoutBeforeMakerFundsTerminatesUncommitted(t *testing.T) {
	swap, timeout := newTestSwap(t)
	swap.Dispatch(makerCommitmentEvent(swap.OfferID, timeout))

	effects := swap.Dispatch(TimeoutEvent{})
	assert.Empty(t, refundsOf(effects))
	require.Len(t, effects, 1)
	assert.IsType(t, Deregister{}, effects[0])
	assert.Equal(t, StateProcessed, swap.State)
	assert.Equal(t, StateUncommitted, swap.TerminatedState)
}

func TestTimeoutWithoutTakerRefundsMaker(t *testing.T) {
	swap, timeout := newTestSwap(t)
	commitMaker(t, swap, timeout)

	effects := swap.Dispatch(TimeoutEvent{})
	refunds := refundsOf(effects)
	require.Len(t, refunds, 1)
	assert.Equal(t, makerAddr, refunds[0].Receipt.Sender)
	assert.Equal(t, depositAmount, refunds[0].Receipt.Amount)
	assert.Equal(t, RefundPriorityTimeout, refunds[0].Priority)
	assert.False(t, refunds[0].ClaimFee)
	assert.Equal(t, StateUntraded, swap.TerminatedState)
}

func TestTimeoutDuringExecutionForfeitsBothDeposits(t *testing.T) {
	swap, timeout := newTestSwap(t)
	commitMaker(t, swap, timeout)
	fundTaker(t, swap, timeout, takerAddr)
	swap.Dispatch(executionEvent(swap.OfferID, makerAddr))

	effects := swap.Dispatch(TimeoutEvent{})
	assert.Empty(t, refundsOf(effects))
	assert.Equal(t, StateFailed, swap.TerminatedState)
	assert.Equal(t, StateProcessed, swap.State)
}

func TestExecutionFromStrangerIgnored(t *testing.T) {
	swap, timeout := newTestSwap(t)
	commitMaker(t, swap, timeout)
	fundTaker(t, swap, timeout, takerAddr)
	swap.Dispatch(executionEvent(swap.OfferID, makerAddr))

	effects := swap.Dispatch(executionEvent(swap.OfferID, "stranger"))
	assert.Empty(t, effects)
	assert.Equal(t, StateWaitForTakerExecution, swap.State)

	// so does a duplicate from the maker
	effects = swap.Dispatch(executionEvent(swap.OfferID, makerAddr))
	assert.Empty(t, effects)
	assert.Equal(t, StateWaitForTakerExecution, swap.State)
}

func TestEventsOutOfTurnAreDropped(t *testing.T) {
	swap, timeout := newTestSwap(t)

	// taker commitment, receipt excluded, and execution do nothing before
	// the maker committed
	assert.Empty(t, swap.Dispatch(takerCommitmentEvent(swap.OfferID, timeout, takerAddr)))
	assert.Empty(t, swap.Dispatch(executionEvent(swap.OfferID, makerAddr)))
	assert.Equal(t, StateInitializing, swap.State)

	commitMaker(t, swap, timeout)

	// a second maker commitment does not reset a live swap
	assert.Empty(t, swap.Dispatch(makerCommitmentEvent(swap.OfferID, timeout)))
	assert.Equal(t, StateWaitForTaker, swap.State)

	// nothing moves a processed swap
	swap.Dispatch(TimeoutEvent{})
	require.Equal(t, StateProcessed, swap.State)
	assert.Empty(t, swap.Dispatch(makerCommitmentEvent(swap.OfferID, timeout)))
	assert.Empty(t, swap.Dispatch(TimeoutEvent{}))
	assert.Equal(t, StateProcessed, swap.State)
}

// Every deposit the machine accepts is eventually either refunded or
// explicitly forfeited, never silently lost.
func TestFundConservationAcrossLifecycles(t *testing.T) {
	tests := []struct {
		name string
		// drive takes a swap from wait_for_taker to processed and returns
		// the deposits paid in beyond the maker's.
		drive func(t *testing.T, swap *SwapCommitment, timeout int64, collect func([]SideEffect)) uint64
		// forfeited is the amount the terminal branch keeps.
		forfeited uint64
	}{
		{
			name: "traded",
			drive: func(t *testing.T, swap *SwapCommitment, timeout int64, collect func([]SideEffect)) uint64 {
				swap.Dispatch(takerCommitmentEvent(swap.OfferID, timeout, takerAddr))
				collect(swap.Dispatch(
					receiptEvent(swap.OfferID, takerAddr, depositAmount, NowMilli()),
				))
				collect(swap.Dispatch(executionEvent(swap.OfferID, makerAddr)))
				collect(swap.Dispatch(executionEvent(swap.OfferID, takerAddr)))
				return depositAmount
			},
		},
		{
			name: "untraded",
			drive: func(t *testing.T, swap *SwapCommitment, timeout int64, collect func([]SideEffect)) uint64 {
				collect(swap.Dispatch(TimeoutEvent{}))
				return 0
			},
		},
		{
			name: "failed",
			drive: func(t *testing.T, swap *SwapCommitment, timeout int64, collect func([]SideEffect)) uint64 {
				swap.Dispatch(takerCommitmentEvent(swap.OfferID, timeout, takerAddr))
				collect(swap.Dispatch(
					receiptEvent(swap.OfferID, takerAddr, depositAmount, NowMilli()),
				))
				collect(swap.Dispatch(TimeoutEvent{}))
				return depositAmount
			},
			forfeited: 2 * depositAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			swap, timeout := newTestSwap(t)

			refunded := uint64(0)
			collect := func(effects []SideEffect) {
				for _, refund := range refundsOf(effects) {
					refunded += refund.Receipt.Amount
				}
			}

			collect(swap.Dispatch(makerCommitmentEvent(swap.OfferID, timeout)))
			collect(swap.Dispatch(
				receiptEvent(swap.OfferID, makerAddr, depositAmount, NowMilli()),
			))
			paidIn := depositAmount + tt.drive(t, swap, timeout, collect)

			require.Equal(t, StateProcessed, swap.State)
			assert.Equal(t, paidIn, refunded+tt.forfeited)
		})
	}
}
