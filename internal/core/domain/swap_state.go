package domain

import "github.com/google/uuid"

// SwapState is the state of a swap commitment lifecycle.
type SwapState int

const (
	// StateInitializing is the state of a freshly registered swap, before the
	// maker commitment is recorded.
	StateInitializing SwapState = iota
	// StateWaitForMaker waits for the maker's escrow transfer.
	StateWaitForMaker
	// StateWaitForTaker waits for a taker's escrow transfer.
	StateWaitForTaker
	// StateWaitForExecution waits for the first execution confirmation.
	StateWaitForExecution
	// StateWaitForMakerExecution waits for the maker's confirmation, the
	// taker's already arrived.
	StateWaitForMakerExecution
	// StateWaitForTakerExecution waits for the taker's confirmation, the
	// maker's already arrived.
	StateWaitForTakerExecution
	// StateTraded is the terminal branch of a fully executed swap.
	StateTraded
	// StateUncommitted is the terminal branch of a swap whose maker never paid.
	StateUncommitted
	// StateUntraded is the terminal branch of a swap no taker ever funded.
	StateUntraded
	// StateFailed is the terminal branch of a committed swap whose execution
	// was never confirmed by both sides in time.
	StateFailed
	// StateProcessed is the final state: the swap is cleaned up and its
	// registry slot may be reused.
	StateProcessed
)

func (s SwapState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateWaitForMaker:
		return "wait_for_maker"
	case StateWaitForTaker:
		return "wait_for_taker"
	case StateWaitForExecution:
		return "wait_for_execution"
	case StateWaitForMakerExecution:
		return "wait_for_maker_execution"
	case StateWaitForTakerExecution:
		return "wait_for_taker_execution"
	case StateTraded:
		return "traded"
	case StateUncommitted:
		return "uncommitted"
	case StateUntraded:
		return "untraded"
	case StateFailed:
		return "failed"
	case StateProcessed:
		return "processed"
	default:
		return "unknown"
	}
}

// isExecutionWait reports whether the state waits on execution confirmations.
func (s SwapState) isExecutionWait() bool {
	return s == StateWaitForExecution ||
		s == StateWaitForMakerExecution ||
		s == StateWaitForTakerExecution
}

// TransferReceipt is the payment-rail notification that committed funds were
// actually moved. Its identifier carries the offer id the transfer pays for.
type TransferReceipt struct {
	Sender     string
	Amount     uint64
	Identifier uuid.UUID
	Timestamp  int64
}

// SwapEvent is the tagged union of everything that can advance a swap.
type SwapEvent interface{ swapEvent() }

// MakerCommitmentEvent carries the maker's commitment message and its
// recovered sender address.
type MakerCommitmentEvent struct {
	Sender string
	Msg    *MakerCommitment
}

// TakerCommitmentEvent carries a taker's commitment message and its recovered
// sender address.
type TakerCommitmentEvent struct {
	Sender string
	Msg    *TakerCommitment
}

// TransferReceiptEvent carries a payment-rail receipt for the swap's offer id.
type TransferReceiptEvent struct {
	Receipt TransferReceipt
}

// SwapExecutionEvent carries an execution confirmation and its recovered
// sender address.
type SwapExecutionEvent struct {
	Sender string
	Msg    *SwapExecution
}

// TimeoutEvent fires when the offer's wall-clock deadline passes.
type TimeoutEvent struct{}

func (MakerCommitmentEvent) swapEvent() {}
func (TakerCommitmentEvent) swapEvent() {}
func (TransferReceiptEvent) swapEvent() {}
func (SwapExecutionEvent) swapEvent()   {}
func (TimeoutEvent) swapEvent()         {}

// SideEffect is an action the swap asks its owner to perform. Effects are
// returned as data so event application stays deterministic and directly
// testable.
type SideEffect interface{ sideEffect() }

// SendMessage asks to sign and deliver a message. An empty recipient means
// broadcast.
type SendMessage struct {
	Msg       SignedMessage
	Recipient string
}

// QueueRefund asks to return the funds of a transfer receipt. Lower priority
// values are served first. ClaimFee tells whether the service keeps its fee
// out of the refunded amount.
type QueueRefund struct {
	Receipt  TransferReceipt
	Priority int
	ClaimFee bool
}

// ScheduleTimeout asks to deliver a TimeoutEvent for the swap at the given
// wall-clock millisecond timestamp, exactly once per swap.
type ScheduleTimeout struct {
	OfferID uuid.UUID
	At      int64
}

// Deregister asks to drop the swap from the registry and cancel any pending
// timeout timer.
type Deregister struct {
	OfferID uuid.UUID
}

func (SendMessage) sideEffect()     {}
func (QueueRefund) sideEffect()     {}
func (ScheduleTimeout) sideEffect() {}
func (Deregister) sideEffect()      {}

// Refund priorities. Lower values are served first: clearly erroneous or
// unexpected transfers are returned promptly, while timeout-driven and
// completion refunds can wait behind them.
const (
	RefundPriorityErroneous  = 1
	RefundPriorityTimeout    = 3
	RefundPriorityCompletion = 5
)
