package application

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/ports"
	"github.com/swapmesh-network/swapmesh-daemon/pkg/timekeeper"
)

// OrderService is the trading node facade: it accepts limit orders, matches
// them against the local book, runs the taker and maker legs of the resulting
// swaps and keeps the book in sync with the market broadcasts.
type OrderService interface {
	// PlaceOrder matches the order against the book, takes the matched
	// offers and, if a remainder is left, commits and broadcasts it as an
	// own resting offer. It returns the matched offers.
	PlaceOrder(ctx context.Context, order *domain.LimitOrder) ([]*domain.Offer, error)
	// CancelOrder removes the resting offer spawned by the order from the
	// local book. Swaps already in flight are not affected.
	CancelOrder(orderID uuid.UUID) bool
	// Book returns the live offer book.
	Book() *domain.OfferBook
	// Start spawns the market and maker listeners.
	Start(ctx context.Context)
}

// OrderServiceOpts groups the collaborators of an order service.
type OrderServiceOpts struct {
	Signer   ports.Signer
	Verifier ports.Verifier
	Broker   ports.MessageBroker
	Payments ports.PaymentService
	Commits  CommitService
	Trades   TradeService

	// CSAddress is the commitment service vouching for offers on this market.
	CSAddress string
	// Market is the asset pair this node trades.
	Market domain.Market
}

type orderService struct {
	signer   ports.Signer
	verifier ports.Verifier
	broker   ports.MessageBroker
	payments ports.PaymentService
	commits  CommitService
	trades   TradeService

	csAddress string
	market    domain.Market

	book   *domain.OfferBook
	timers *timekeeper.Timekeeper

	lock sync.Mutex
	// ownOffers indexes own resting offers by offer id, offersByOrder maps
	// the spawning order id to them for cancellation.
	ownOffers     map[uuid.UUID]*domain.Offer
	offersByOrder map[uuid.UUID]uuid.UUID
}

// NewOrderService returns an OrderService for one trading node.
func NewOrderService(opts OrderServiceOpts) OrderService {
	return &orderService{
		signer:        opts.Signer,
		verifier:      opts.Verifier,
		broker:        opts.Broker,
		payments:      opts.Payments,
		commits:       opts.Commits,
		trades:        opts.Trades,
		csAddress:     opts.CSAddress,
		market:        opts.Market,
		book:          domain.NewOfferBook(),
		timers:        timekeeper.New(),
		ownOffers:     make(map[uuid.UUID]*domain.Offer),
		offersByOrder: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *orderService) Book() *domain.OfferBook { return s.book }

func (s *orderService) Start(ctx context.Context) {
	s.commits.Start(ctx)
	marketSub := s.broker.Subscribe(ports.BroadcastTopic)
	makerSub := s.broker.Subscribe(s.signer.Address())
	go s.listenMarket(ctx, marketSub)
	go s.listenMaker(ctx, makerSub)
}

func (s *orderService) PlaceOrder(
	ctx context.Context, order *domain.LimitOrder,
) ([]*domain.Offer, error) {
	matched, remainder := domain.MatchLimit(s.book, order)

	// claim the matched offers locally up front so a second order placed
	// before the OfferTaken broadcasts arrive cannot select them again
	for _, offer := range matched {
		s.book.Remove(offer.ID)
		s.timers.Cancel(offer.ID.String())
		s.trades.AddPending(offer)
	}

	log.Debugf(
		"order %s matched %d offers, remainder %d",
		order.ID, len(matched), remainder,
	)

	for _, offer := range matched {
		go s.takeOffer(ctx, offer)
	}

	if remainder > 0 {
		if err := s.makeOffer(ctx, order, remainder); err != nil {
			return matched, err
		}
	}
	return matched, nil
}

func (s *orderService) CancelOrder(orderID uuid.UUID) bool {
	s.lock.Lock()
	offerID, ok := s.offersByOrder[orderID]
	if ok {
		delete(s.offersByOrder, orderID)
		delete(s.ownOffers, offerID)
	}
	s.lock.Unlock()
	if !ok {
		return false
	}
	// own offers never rest in the local book, but other nodes' copies die
	// at the offer timeout anyway
	s.timers.Cancel(offerID.String())
	return true
}

// takeOffer runs the taker leg of one matched offer: escrow the taker
// commitment, and once proven pay the maker, hand over the proof and confirm
// execution to the commitment service. Losing the taker race is not an error.
func (s *orderService) takeOffer(ctx context.Context, offer *domain.Offer) {
	proven, err := s.commits.TakerCommit(ctx, offer)
	if err != nil {
		log.Debugf("not taking offer %s: %s", offer.ID, err)
		return
	}

	if !s.payments.Transfer(
		ctx, offer.MakerAddress, s.takerOwes(offer), offer.ID,
	) {
		log.Warnf("trade transfer for offer %s failed", offer.ID)
		return
	}
	if !s.broker.SendTo(offer.MakerAddress, proven) {
		log.Warnf("failed to hand commitment proof to maker of offer %s", offer.ID)
	}

	s.reportExecution(offer.ID)
}

// makeOffer turns the unmatched remainder of an order into an own resting
// offer: escrow the maker commitment, broadcast the proven offer and index it
// for the maker leg and cancellation.
func (s *orderService) makeOffer(
	ctx context.Context, order *domain.LimitOrder, remainder uint64,
) error {
	offer, err := order.ToOffer(remainder)
	if err != nil {
		return err
	}

	proven, err := s.commits.MakerCommit(ctx, offer)
	if err != nil {
		return err
	}

	s.lock.Lock()
	s.ownOffers[offer.ID] = offer
	s.offersByOrder[order.ID] = offer.ID
	s.lock.Unlock()

	if !s.broker.Broadcast(proven) {
		return ErrSendFailed
	}

	s.timers.Schedule(offer.ID.String(), offer.TimeoutTime(), func() {
		s.lock.Lock()
		delete(s.ownOffers, offer.ID)
		delete(s.offersByOrder, order.ID)
		s.lock.Unlock()
	})
	return nil
}

// takerOwes returns the trade amount the taker transfers to the maker: the
// asset the maker asked for.
func (s *orderService) takerOwes(offer *domain.Offer) uint64 {
	if offer.Side == domain.SideSell {
		return offer.QuoteAmount
	}
	return offer.BaseAmount
}

// makerOwes returns the trade amount the maker transfers to the taker: the
// asset the maker bid.
func (s *orderService) makerOwes(offer *domain.Offer) uint64 {
	if offer.Side == domain.SideSell {
		return offer.BaseAmount
	}
	return offer.QuoteAmount
}

func (s *orderService) reportExecution(offerID uuid.UUID) {
	execution := &domain.SwapExecution{
		OfferID:   offerID,
		Timestamp: domain.NowMilli(),
	}
	if err := s.signer.Sign(execution); err != nil {
		log.WithError(err).Errorf("failed to sign execution for offer %s", offerID)
		return
	}
	if !s.broker.SendTo(s.csAddress, execution) {
		log.Warnf("failed to report execution for offer %s", offerID)
	}
}

// listenMarket keeps the book in sync with the broadcast topic.
func (s *orderService) listenMarket(ctx context.Context, sub ports.Subscription) {
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
			case *domain.ProvenOffer:
				s.handleProvenOffer(m)
			case *domain.OfferTaken:
				s.handleOfferTaken(m)
			case *domain.SwapCompleted:
				s.trades.ReportCompleted(ctx, m.OfferID, m.Timestamp)
			}
		}
	}
}

// listenMaker serves the maker leg: a ProvenCommitment on the own topic means
// a taker won the race for one of our offers, so we pay our side and confirm
// execution.
func (s *orderService) listenMaker(ctx context.Context, sub ports.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			proven, ok := msg.(*domain.ProvenCommitment)
			if !ok {
				continue
			}
			s.handleProvenCommitment(ctx, proven)
		}
	}
}

func (s *orderService) handleProvenOffer(msg *domain.ProvenOffer) {
	offer, err := s.validateProvenOffer(msg)
	if err != nil {
		log.WithError(err).Debug("dropping invalid proven offer")
		return
	}
	if offer.MakerAddress == s.signer.Address() {
		return
	}

	if err := s.book.Insert(offer); err != nil {
		log.WithError(err).Debugf("not booking offer %s", offer.ID)
		return
	}
	s.timers.Schedule(offer.ID.String(), offer.TimeoutTime(), func() {
		if s.book.Remove(offer.ID) {
			log.Debugf("offer %s timed out, evicted from book", offer.ID)
		}
	})
}

func (s *orderService) handleOfferTaken(msg *domain.OfferTaken) {
	offer := s.book.Get(msg.OfferID)
	if offer == nil || !s.book.Remove(msg.OfferID) {
		return
	}
	s.timers.Cancel(msg.OfferID.String())
	s.trades.AddPending(offer)
}

func (s *orderService) handleProvenCommitment(
	ctx context.Context, msg *domain.ProvenCommitment,
) {
	s.lock.Lock()
	offer := s.ownOffers[msg.Commitment.OfferID]
	if offer != nil {
		delete(s.ownOffers, msg.Commitment.OfferID)
	}
	s.lock.Unlock()
	if offer == nil {
		log.Debugf(
			"dropping commitment proof for unknown own offer %s",
			msg.Commitment.OfferID,
		)
		return
	}

	taker, err := s.validateProvenCommitment(msg, offer)
	if err != nil {
		log.WithError(err).Debugf(
			"dropping invalid proven commitment for offer %s", offer.ID,
		)
		return
	}

	if !s.payments.Transfer(ctx, taker, s.makerOwes(offer), offer.ID) {
		log.Warnf("trade transfer for own offer %s failed", offer.ID)
		return
	}
	s.trades.AddPending(offer)
	s.reportExecution(offer.ID)
}

// validateProvenOffer checks a broadcast bundle end to end: offer, commitment
// and bundle must carry the same maker signature chain, the proof must come
// from the commitment service and reference the maker commitment, and the
// commitment must bind the offer digest. The returned offer carries the
// recovered maker address and the commitment terms takers need.
func (s *orderService) validateProvenOffer(
	msg *domain.ProvenOffer,
) (*domain.Offer, error) {
	if msg.Offer == nil || msg.Commitment == nil || msg.Proof == nil {
		return nil, fmt.Errorf("incomplete proven offer bundle")
	}

	maker, err := s.verifier.Sender(msg)
	if err != nil {
		return nil, err
	}
	offerSigner, err := s.verifier.Sender(msg.Offer)
	if err != nil {
		return nil, err
	}
	commitmentSigner, err := s.verifier.Sender(msg.Commitment)
	if err != nil {
		return nil, err
	}
	if offerSigner != maker || commitmentSigner != maker {
		return nil, fmt.Errorf("proven offer parts signed by different makers")
	}

	proofSigner, err := s.verifier.Sender(msg.Proof)
	if err != nil {
		return nil, err
	}
	if proofSigner != s.csAddress {
		return nil, fmt.Errorf("proof not signed by the commitment service")
	}
	if !bytes.Equal(msg.Proof.CommitmentSig, msg.Commitment.Signature()) {
		return nil, fmt.Errorf("proof does not reference the maker commitment")
	}
	if !bytes.Equal(msg.Commitment.OfferHash, msg.Offer.Digest()) {
		return nil, fmt.Errorf("commitment does not bind the offer")
	}
	if msg.Commitment.OfferID != msg.Offer.OfferID {
		return nil, fmt.Errorf("commitment and offer ids differ")
	}

	offer, err := msg.Offer.ToOffer(s.market)
	if err != nil {
		return nil, err
	}
	offer.MakerAddress = maker
	offer.OfferHash = msg.Offer.Digest()
	offer.CommitmentAmount = msg.Commitment.Amount
	return offer, nil
}

// validateProvenCommitment checks a taker's bundle against the own offer it
// takes and returns the recovered taker address.
func (s *orderService) validateProvenCommitment(
	msg *domain.ProvenCommitment, offer *domain.Offer,
) (string, error) {
	if msg.Commitment == nil || msg.Proof == nil {
		return "", fmt.Errorf("incomplete proven commitment bundle")
	}

	taker, err := s.verifier.Sender(msg)
	if err != nil {
		return "", err
	}
	commitmentSigner, err := s.verifier.Sender(msg.Commitment)
	if err != nil {
		return "", err
	}
	if commitmentSigner != taker {
		return "", fmt.Errorf("commitment signed by a different taker")
	}

	proofSigner, err := s.verifier.Sender(msg.Proof)
	if err != nil {
		return "", err
	}
	if proofSigner != s.csAddress {
		return "", fmt.Errorf("proof not signed by the commitment service")
	}
	if !bytes.Equal(msg.Proof.CommitmentSig, msg.Commitment.Signature()) {
		return "", fmt.Errorf("proof does not reference the taker commitment")
	}
	if msg.Commitment.OfferID != offer.ID {
		return "", fmt.Errorf("commitment taken for a different offer")
	}
	return taker, nil
}
