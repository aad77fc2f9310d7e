package domain

import (
	"sync"

	"github.com/google/uuid"
)

// SwapCommitment tracks one offer's escrow lifecycle at the commitment
// service: the maker commitment, the pool of racing taker commitments, both
// parties' transfer receipts and execution confirmations. It is exclusively
// owned by the service and never shared with clients.
//
// All state lives behind Apply, which implements the transition table and
// returns the side effects to perform, leaving IO to the caller. Dispatch
// wraps Apply with the per-swap lock so two events for the same offer id are
// never evaluated against the same state snapshot.
type SwapCommitment struct {
	lock sync.Mutex

	OfferID uuid.UUID
	State   SwapState
	// TerminatedState records which terminal branch the swap went through
	// before reaching processed. Set exactly once.
	TerminatedState SwapState

	MakerAddress string
	TakerAddress string
	Timeout      int64

	MakerCommitmentMsg  *MakerCommitment
	TakerCommitmentMsg  *TakerCommitment
	TakerCommitmentPool map[string]*TakerCommitment
	MakerReceipt        *TransferReceipt
	TakerReceipt        *TransferReceipt
	MakerExecutionMsg   *SwapExecution
	TakerExecutionMsg   *SwapExecution
}

// NewSwapCommitment returns a swap in the initializing state.
func NewSwapCommitment(offerID uuid.UUID) *SwapCommitment {
	return &SwapCommitment{
		OfferID:             offerID,
		State:               StateInitializing,
		TakerCommitmentPool: make(map[string]*TakerCommitment),
	}
}

// Dispatch serializes event application for this swap.
func (s *SwapCommitment) Dispatch(ev SwapEvent) []SideEffect {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.Apply(ev)
}

// Apply advances the swap with the given event and returns the effects to
// perform. Events that don't match any enabled transition are dropped, except
// transfer receipts, which always fall back to a feeless refund so unmatched
// funds are never silently kept.
func (s *SwapCommitment) Apply(ev SwapEvent) []SideEffect {
	switch e := ev.(type) {
	case MakerCommitmentEvent:
		return s.applyMakerCommitment(e)
	case TakerCommitmentEvent:
		return s.applyTakerCommitment(e)
	case TransferReceiptEvent:
		return s.applyTransferReceipt(e)
	case SwapExecutionEvent:
		return s.applySwapExecution(e)
	case TimeoutEvent:
		return s.applyTimeout()
	default:
		return nil
	}
}

func (s *SwapCommitment) applyMakerCommitment(e MakerCommitmentEvent) []SideEffect {
	if s.State != StateInitializing {
		return nil
	}
	s.MakerCommitmentMsg = e.Msg
	s.MakerAddress = e.Sender
	s.Timeout = e.Msg.Timeout
	s.State = StateWaitForMaker
	return []SideEffect{ScheduleTimeout{OfferID: s.OfferID, At: e.Msg.Timeout}}
}

func (s *SwapCommitment) applyTakerCommitment(e TakerCommitmentEvent) []SideEffect {
	if s.State != StateWaitForTaker {
		return nil
	}
	// first commitment per sender wins, a resent one is ignored
	if _, ok := s.TakerCommitmentPool[e.Sender]; !ok {
		s.TakerCommitmentPool[e.Sender] = e.Msg
	}
	return nil
}

func (s *SwapCommitment) applyTransferReceipt(e TransferReceiptEvent) []SideEffect {
	receipt := e.Receipt

	switch s.State {
	case StateWaitForMaker:
		if receipt.Sender == s.MakerAddress && s.fundsCommitment(receipt, s.MakerCommitmentMsg.Amount) {
			r := receipt
			s.MakerReceipt = &r
			s.State = StateWaitForTaker
			return []SideEffect{
				SendMessage{
					Msg:       &CommitmentProof{CommitmentSig: s.MakerCommitmentMsg.Signature()},
					Recipient: s.MakerAddress,
				},
			}
		}

	case StateWaitForTaker:
		commitment, ok := s.TakerCommitmentPool[receipt.Sender]
		if ok && s.fundsCommitment(receipt, commitment.Amount) {
			// first funded taker wins, the rest of the pool is discarded
			r := receipt
			s.TakerReceipt = &r
			s.TakerCommitmentMsg = commitment
			s.TakerAddress = receipt.Sender
			s.State = StateWaitForExecution
			return []SideEffect{
				SendMessage{
					Msg:       &CommitmentProof{CommitmentSig: commitment.Signature()},
					Recipient: s.TakerAddress,
				},
				SendMessage{Msg: &OfferTaken{OfferID: s.OfferID}},
			}
		}
	}

	// blanket rule: any receipt that didn't trigger a transition is refunded
	// promptly without claiming a fee
	return []SideEffect{QueueRefund{
		Receipt:  receipt,
		Priority: RefundPriorityErroneous,
		ClaimFee: false,
	}}
}

// fundsCommitment tells whether a receipt is good to fund the given committed
// amount: the amount must match exactly and the transfer must have happened
// within the offer lifetime.
func (s *SwapCommitment) fundsCommitment(receipt TransferReceipt, amount uint64) bool {
	return receipt.Amount == amount && receipt.Timestamp <= s.Timeout
}

func (s *SwapCommitment) applySwapExecution(e SwapExecutionEvent) []SideEffect {
	switch s.State {
	case StateWaitForExecution:
		switch e.Sender {
		case s.MakerAddress:
			s.MakerExecutionMsg = e.Msg
			s.State = StateWaitForTakerExecution
		case s.TakerAddress:
			s.TakerExecutionMsg = e.Msg
			s.State = StateWaitForMakerExecution
		}
		return nil

	case StateWaitForTakerExecution:
		if e.Sender != s.TakerAddress {
			return nil
		}
		s.TakerExecutionMsg = e.Msg
		return s.completeTrade()

	case StateWaitForMakerExecution:
		if e.Sender != s.MakerAddress {
			return nil
		}
		s.MakerExecutionMsg = e.Msg
		return s.completeTrade()

	default:
		return nil
	}
}

// completeTrade fires once both execution confirmations arrived: broadcast
// completion, refund both deposits minus the service fee, finalize.
func (s *SwapCommitment) completeTrade() []SideEffect {
	s.State = StateTraded
	effects := []SideEffect{
		SendMessage{Msg: &SwapCompleted{OfferID: s.OfferID, Timestamp: NowMilli()}},
		QueueRefund{Receipt: *s.MakerReceipt, Priority: RefundPriorityCompletion, ClaimFee: true},
		QueueRefund{Receipt: *s.TakerReceipt, Priority: RefundPriorityCompletion, ClaimFee: true},
	}
	return append(effects, s.finalize()...)
}

func (s *SwapCommitment) applyTimeout() []SideEffect {
	switch {
	case s.State == StateInitializing || s.State == StateWaitForMaker:
		// no funds were ever held, nothing to refund
		s.State = StateUncommitted
		return s.finalize()

	case s.State == StateWaitForTaker:
		// the maker paid but nobody took the offer: full feeless refund
		s.State = StateUntraded
		effects := []SideEffect{QueueRefund{
			Receipt:  *s.MakerReceipt,
			Priority: RefundPriorityTimeout,
			ClaimFee: false,
		}}
		return append(effects, s.finalize()...)

	case s.State.isExecutionWait():
		// both deposits are forfeited: it cannot be determined which party
		// reneged, so neither is refunded
		s.State = StateFailed
		return s.finalize()

	default:
		return nil
	}
}

// finalize records the terminal branch and moves the swap to processed,
// asking the owner to deregister it.
func (s *SwapCommitment) finalize() []SideEffect {
	s.TerminatedState = s.State
	s.State = StateProcessed
	return []SideEffect{Deregister{OfferID: s.OfferID}}
}

// IsProcessed returns whether the swap reached its final state.
func (s *SwapCommitment) IsProcessed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.State == StateProcessed
}
