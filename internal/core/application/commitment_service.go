package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/ports"
	"github.com/swapmesh-network/swapmesh-daemon/pkg/circuitbreaker"
	"github.com/swapmesh-network/swapmesh-daemon/pkg/timekeeper"
)

const (
	outboundQueueSize    = 128
	outboundRatePerSec   = 200
	refundRetryDelay     = 500 * time.Millisecond
	defaultRefundRetries = 5
)

var (
	errTransferRejected = errors.New("payment rail rejected transfer")

	swapsCreatedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swapmesh",
		Name:      "swaps_created_total",
		Help:      "Number of swaps registered by the commitment service.",
	})
	swapsTerminatedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swapmesh",
		Name:      "swaps_terminated_total",
		Help:      "Number of swaps that reached a terminal state, by outcome.",
	}, []string{"outcome"})
	refundsIssuedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "swapmesh",
		Name:      "refunds_issued_total",
		Help:      "Number of refund transfers successfully issued.",
	})
)

type outboundMessage struct {
	msg       domain.SignedMessage
	recipient string
}

// CommitmentServiceOpts groups the collaborators and parameters needed to run
// a commitment service.
type CommitmentServiceOpts struct {
	Signer   ports.Signer
	Verifier ports.Verifier
	Broker   ports.MessageBroker
	Payments ports.PaymentService

	// CommitmentAsset is the asset deposits are escrowed in, advertised to
	// the network.
	CommitmentAsset string
	// CommitmentAmount is the deposit every party must escrow per swap.
	CommitmentAmount uint64
	// FeeRateBps is the fee fraction in basis points, claimed only on
	// successfully completed swaps.
	FeeRateBps uint32
	// MaxRefundAttempts bounds how often a failing refund transfer is
	// retried before requiring operator attention.
	MaxRefundAttempts int
	// AdvertiseInterval is how often the service broadcasts its
	// advertisement. Zero disables advertising.
	AdvertiseInterval time.Duration
}

// CommitmentService is the escrow arbiter: it owns the swap registry, routes
// incoming commitments, transfer receipts and execution confirmations to the
// per-offer swap state machines, drains the refund queue against the payment
// rail and signs every outbound message.
type CommitmentService struct {
	signer   ports.Signer
	verifier ports.Verifier
	broker   ports.MessageBroker
	payments ports.PaymentService

	registry *domain.SwapRegistry
	refunds  *domain.RefundQueue
	outbound chan outboundMessage
	timers   *timekeeper.Timekeeper
	breaker  *gobreaker.CircuitBreaker
	rate     ratelimit.Limiter

	commitmentAsset   string
	commitmentAmount  uint64
	feeRateBps        uint32
	maxRefundAttempts int
	advertiseInterval time.Duration

	done <-chan struct{}
	wg   sync.WaitGroup
}

// NewCommitmentService returns a stopped service, ready to Start.
func NewCommitmentService(opts CommitmentServiceOpts) *CommitmentService {
	maxAttempts := opts.MaxRefundAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultRefundRetries
	}
	return &CommitmentService{
		signer:            opts.Signer,
		verifier:          opts.Verifier,
		broker:            opts.Broker,
		payments:          opts.Payments,
		registry:          domain.NewSwapRegistry(),
		refunds:           domain.NewRefundQueue(),
		outbound:          make(chan outboundMessage, outboundQueueSize),
		timers:            timekeeper.New(),
		breaker:           circuitbreaker.NewRefundBreaker(),
		rate:              ratelimit.New(outboundRatePerSec),
		commitmentAsset:   opts.CommitmentAsset,
		commitmentAmount:  opts.CommitmentAmount,
		feeRateBps:        opts.FeeRateBps,
		maxRefundAttempts: maxAttempts,
		advertiseInterval: opts.AdvertiseInterval,
	}
}

// Address returns the service's canonical address, which is also the topic it
// listens on.
func (s *CommitmentService) Address() string {
	return s.signer.Address()
}

// SwapCount returns the number of live swaps.
func (s *CommitmentService) SwapCount() int {
	return s.registry.Len()
}

// Start spawns the listener loops and the queue drainers. It returns
// immediately; the service runs until the context is canceled. The broker
// subscription is taken before returning so no message sent right after
// Start is missed.
func (s *CommitmentService) Start(ctx context.Context) {
	s.done = ctx.Done()
	sub := s.broker.Subscribe(s.Address())

	s.wg.Add(4)
	go s.listenMessages(ctx, sub)
	go s.listenTransfers(ctx)
	go s.drainRefunds(ctx)
	go s.drainOutbound(ctx)

	if s.advertiseInterval > 0 {
		s.wg.Add(1)
		go s.advertise(ctx)
	}

	log.Infof("commitment service listening on %s", s.Address())
}

// Wait blocks until all service loops returned after context cancellation.
func (s *CommitmentService) Wait() {
	s.wg.Wait()
	s.timers.Stop()
}

func (s *CommitmentService) listenMessages(ctx context.Context, sub ports.Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			switch m := msg.(type) {
			case *domain.MakerCommitment:
				s.handleMakerCommitment(m)
			case *domain.TakerCommitment:
				s.handleTakerCommitment(m)
			case *domain.SwapExecution:
				s.handleSwapExecution(m)
			default:
				log.Debugf("ignoring message of type %s", msg.Type())
			}
		}
	}
}

func (s *CommitmentService) listenTransfers(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case receipt, ok := <-s.payments.Notifications():
			if !ok {
				return
			}
			s.handleTransferReceipt(receipt)
		}
	}
}

func (s *CommitmentService) handleMakerCommitment(msg *domain.MakerCommitment) {
	sender, err := s.verifier.Sender(msg)
	if err != nil {
		log.WithError(err).Warn("dropping maker commitment with invalid signature")
		return
	}
	if !s.validateCommitment(msg.Amount, msg.Timeout, sender) {
		return
	}

	swap, err := s.registry.Create(msg.OfferID)
	if err != nil {
		// a live swap exists, a resent maker commitment is a normal duplicate
		log.Debugf("ignoring maker commitment for live swap %s", msg.OfferID)
		return
	}
	swapsCreatedCounter.Inc()
	log.Infof("registered swap %s for maker %s", msg.OfferID, sender)

	s.dispatch(swap, domain.MakerCommitmentEvent{Sender: sender, Msg: msg})
}

func (s *CommitmentService) handleTakerCommitment(msg *domain.TakerCommitment) {
	sender, err := s.verifier.Sender(msg)
	if err != nil {
		log.WithError(err).Warn("dropping taker commitment with invalid signature")
		return
	}
	if !s.validateCommitment(msg.Amount, msg.Timeout, sender) {
		return
	}

	swap := s.registry.Get(msg.OfferID)
	if swap == nil {
		// late taker, the swap is gone already
		log.Debugf("ignoring taker commitment for unknown swap %s", msg.OfferID)
		return
	}
	s.dispatch(swap, domain.TakerCommitmentEvent{Sender: sender, Msg: msg})
}

func (s *CommitmentService) handleSwapExecution(msg *domain.SwapExecution) {
	sender, err := s.verifier.Sender(msg)
	if err != nil {
		log.WithError(err).Warn("dropping swap execution with invalid signature")
		return
	}

	swap := s.registry.Get(msg.OfferID)
	if swap == nil {
		log.Debugf("ignoring swap execution for unknown swap %s", msg.OfferID)
		return
	}
	log.Debugf("received swap execution for %s from %s", msg.OfferID, sender)
	s.dispatch(swap, domain.SwapExecutionEvent{Sender: sender, Msg: msg})
}

func (s *CommitmentService) handleTransferReceipt(receipt domain.TransferReceipt) {
	swap := s.registry.Get(receipt.Identifier)
	if swap == nil {
		// spam protection: unsolicited transfers for unknown swaps are kept
		log.Warnf(
			"keeping funds of transfer for unknown swap %s from %s (amount %d)",
			receipt.Identifier, receipt.Sender, receipt.Amount,
		)
		return
	}
	if receipt.Amount != s.commitmentAmount {
		log.Warnf(
			"suspicious transfer for swap %s: got amount %d, want %d",
			receipt.Identifier, receipt.Amount, s.commitmentAmount,
		)
	}
	s.dispatch(swap, domain.TransferReceiptEvent{Receipt: receipt})
}

func (s *CommitmentService) validateCommitment(
	amount uint64, timeout int64, sender string,
) bool {
	if amount != s.commitmentAmount {
		log.Warnf(
			"dropping commitment from %s: amount %d does not match required deposit %d",
			sender, amount, s.commitmentAmount,
		)
		return false
	}
	if timeout <= domain.NowMilli() {
		log.Debugf("dropping commitment from %s: offer already timed out", sender)
		return false
	}
	return true
}

// dispatch serializes the event against the swap and performs the returned
// side effects.
func (s *CommitmentService) dispatch(swap *domain.SwapCommitment, ev domain.SwapEvent) {
	for _, effect := range swap.Dispatch(ev) {
		switch e := effect.(type) {
		case domain.SendMessage:
			s.enqueueOutbound(outboundMessage{msg: e.Msg, recipient: e.Recipient})

		case domain.QueueRefund:
			log.Debugf(
				"queueing refund of %d to %s for swap %s (priority %d, claim fee %t)",
				e.Receipt.Amount, e.Receipt.Sender, e.Receipt.Identifier,
				e.Priority, e.ClaimFee,
			)
			s.refunds.Push(domain.Refund{
				Receipt:  e.Receipt,
				Priority: e.Priority,
				ClaimFee: e.ClaimFee,
			})

		case domain.ScheduleTimeout:
			swap := swap
			s.timers.Schedule(e.OfferID.String(), time.UnixMilli(e.At), func() {
				s.dispatch(swap, domain.TimeoutEvent{})
			})

		case domain.Deregister:
			s.registry.Remove(e.OfferID)
			s.timers.Cancel(e.OfferID.String())
			outcome := swap.TerminatedState.String()
			swapsTerminatedCounter.WithLabelValues(outcome).Inc()
			log.Infof("swap %s terminated as %s", e.OfferID, outcome)
		}
	}
}

func (s *CommitmentService) drainRefunds(ctx context.Context) {
	defer s.wg.Done()

	for {
		refund, ok := s.refunds.Pop(ctx)
		if !ok {
			return
		}

		amount := refund.Receipt.Amount
		if refund.ClaimFee {
			amount -= FeeAmount(amount, s.feeRateBps)
		}

		_, err := s.breaker.Execute(func() (interface{}, error) {
			if !s.payments.Transfer(
				ctx, refund.Receipt.Sender, amount, refund.Receipt.Identifier,
			) {
				return nil, errTransferRejected
			}
			return nil, nil
		})
		if err == nil {
			refundsIssuedCounter.Inc()
			log.Debugf(
				"refunded %d to %s for swap %s",
				amount, refund.Receipt.Sender, refund.Receipt.Identifier,
			)
			continue
		}

		refund.Attempts++
		if refund.Attempts >= s.maxRefundAttempts {
			log.Errorf(
				"giving up refunding %d to %s for swap %s after %d attempts, "+
					"operator attention required: %s",
				refund.Receipt.Amount, refund.Receipt.Sender,
				refund.Receipt.Identifier, refund.Attempts, err,
			)
			continue
		}

		log.WithError(err).Debugf(
			"refund to %s failed, retrying (%d/%d)",
			refund.Receipt.Sender, refund.Attempts, s.maxRefundAttempts,
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(refundRetryDelay):
		}
		s.refunds.Push(refund)
	}
}

// enqueueOutbound hands a message to the outbound drainer. Once the service
// is stopping nobody drains the queue anymore, so the message is dropped
// instead of blocking the dispatching listener forever.
func (s *CommitmentService) enqueueOutbound(om outboundMessage) {
	select {
	case s.outbound <- om:
	case <-s.done:
		log.Debugf("dropping outbound %s, service is stopping", om.msg.Type())
	}
}

func (s *CommitmentService) drainOutbound(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case om := <-s.outbound:
			s.rate.Take()
			if err := s.signer.Sign(om.msg); err != nil {
				log.WithError(err).Error("cannot sign outbound message")
				continue
			}
			if om.recipient == "" {
				if !s.broker.Broadcast(om.msg) {
					log.Warnf("broadcast of %s not accepted by broker", om.msg.Type())
				}
				continue
			}
			if !s.broker.SendTo(om.recipient, om.msg) {
				log.Warnf(
					"send of %s to %s not accepted by broker",
					om.msg.Type(), om.recipient,
				)
			}
		}
	}
}

func (s *CommitmentService) advertise(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.advertiseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueueOutbound(outboundMessage{msg: &domain.CSAdvertisement{
				Address:         s.Address(),
				CommitmentAsset: s.commitmentAsset,
				FeeRateBps:      s.feeRateBps,
			}})
		}
	}
}

// FeeAmount returns the fee retained out of the given amount at the given
// rate in basis points, rounded down.
func FeeAmount(amount uint64, feeRateBps uint32) uint64 {
	return uint64(decimal.NewFromInt(int64(amount)).
		Mul(decimal.New(int64(feeRateBps), -4)).
		IntPart())
}
