package application

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
	"github.com/swapmesh-network/swapmesh-daemon/internal/core/ports"
)

// cancelGracePeriod is how long a taker keeps waiting for its own proof after
// seeing the offer-taken broadcast, which may overtake the proof in transit.
const cancelGracePeriod = 200 * time.Millisecond

// CommitService is the client-side commitment orchestration: it builds and
// signs commitment messages, performs the escrow transfer and blocks until
// the commitment service answers with a proof, bounded by the offer timeout.
type CommitService interface {
	// MakerCommit escrows the maker deposit for an own offer and returns the
	// ProvenOffer bundle ready to broadcast.
	MakerCommit(ctx context.Context, offer *domain.Offer) (*domain.ProvenOffer, error)
	// TakerCommit escrows the taker deposit for an observed offer and
	// returns the ProvenCommitment to forward to the maker.
	TakerCommit(ctx context.Context, offer *domain.Offer) (*domain.ProvenCommitment, error)
	// Start spawns the proof and cancellation listeners.
	Start(ctx context.Context)
}

// proofWaiter is the rendezvous between a blocked commit call and the
// listener loops. A proof delivery and an offer-taken cancellation may race
// on two independent topics, so they are kept on separate channels and the
// waiter grants a cancellation a short grace period for an in-flight proof.
type proofWaiter struct {
	proofCh    chan *domain.CommitmentProof
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

func newProofWaiter() *proofWaiter {
	return &proofWaiter{
		proofCh:  make(chan *domain.CommitmentProof, 1),
		cancelCh: make(chan struct{}),
	}
}

func (w *proofWaiter) resolve(proof *domain.CommitmentProof) {
	select {
	case w.proofCh <- proof:
	default:
	}
}

func (w *proofWaiter) cancel() {
	w.cancelOnce.Do(func() { close(w.cancelCh) })
}

// CommitServiceOpts groups the collaborators of a client-side commit service.
type CommitServiceOpts struct {
	Signer   ports.Signer
	Verifier ports.Verifier
	Broker   ports.MessageBroker
	Payments ports.PaymentService

	// CSAddress is the commitment service this node escrows with.
	CSAddress string
	// Market is the asset pair offers are expressed against.
	Market domain.Market
	// CommitmentAmount is the deposit required by the commitment service.
	CommitmentAmount uint64
}

type commitService struct {
	signer   ports.Signer
	verifier ports.Verifier
	broker   ports.MessageBroker
	payments ports.PaymentService

	csAddress        string
	market           domain.Market
	commitmentAmount uint64

	lock         sync.Mutex
	waitersBySig map[string]*proofWaiter
	takersByID   map[uuid.UUID]*proofWaiter
	inFlight     map[uuid.UUID]struct{}
}

// NewCommitService returns a CommitService for one trading node.
func NewCommitService(opts CommitServiceOpts) CommitService {
	return &commitService{
		signer:           opts.Signer,
		verifier:         opts.Verifier,
		broker:           opts.Broker,
		payments:         opts.Payments,
		csAddress:        opts.CSAddress,
		market:           opts.Market,
		commitmentAmount: opts.CommitmentAmount,
		waitersBySig:     make(map[string]*proofWaiter),
		takersByID:       make(map[uuid.UUID]*proofWaiter),
		inFlight:         make(map[uuid.UUID]struct{}),
	}
}

func (s *commitService) Start(ctx context.Context) {
	proofSub := s.broker.Subscribe(s.signer.Address())
	takenSub := s.broker.Subscribe(ports.BroadcastTopic)
	go s.listenProofs(ctx, proofSub)
	go s.listenTaken(ctx, takenSub)
}

func (s *commitService) MakerCommit(
	ctx context.Context, offer *domain.Offer,
) (*domain.ProvenOffer, error) {
	if err := s.acquireOffer(offer.ID); err != nil {
		return nil, err
	}
	defer s.releaseOffer(offer.ID)

	offerMsg := s.swapOfferMessage(offer)
	if err := s.signer.Sign(offerMsg); err != nil {
		return nil, err
	}

	commitment := domain.NewMakerCommitment(
		offer.ID, offerMsg.Digest(), offer.Timeout, s.commitmentAmount,
	)
	if err := s.signer.Sign(commitment); err != nil {
		return nil, err
	}

	proof, err := s.commit(ctx, commitment, offer.ID, s.commitmentAmount, offer.Timeout, false)
	if err != nil {
		return nil, err
	}

	provenOffer := &domain.ProvenOffer{
		Offer:      offerMsg,
		Commitment: commitment,
		Proof:      proof,
	}
	if err := s.signer.Sign(provenOffer); err != nil {
		return nil, err
	}
	return provenOffer, nil
}

func (s *commitService) TakerCommit(
	ctx context.Context, offer *domain.Offer,
) (*domain.ProvenCommitment, error) {
	if len(offer.OfferHash) == 0 || offer.CommitmentAmount == 0 {
		return nil, ErrUnprovenOffer
	}
	if err := s.acquireOffer(offer.ID); err != nil {
		return nil, err
	}
	defer s.releaseOffer(offer.ID)

	commitment := domain.NewTakerCommitment(
		offer.ID, offer.OfferHash, offer.Timeout, offer.CommitmentAmount,
	)
	if err := s.signer.Sign(commitment); err != nil {
		return nil, err
	}

	proof, err := s.commit(
		ctx, commitment, offer.ID, offer.CommitmentAmount, offer.Timeout, true,
	)
	if err != nil {
		return nil, err
	}

	provenCommitment := &domain.ProvenCommitment{
		Commitment: commitment,
		Proof:      proof,
	}
	if err := s.signer.Sign(provenCommitment); err != nil {
		return nil, err
	}
	return provenCommitment, nil
}

// commit sends the signed commitment to the commitment service, transfers
// the deposit and waits for the proof, bounded by the offer timeout.
func (s *commitService) commit(
	ctx context.Context,
	commitment domain.SignedMessage,
	offerID uuid.UUID,
	amount uint64,
	timeout int64,
	asTaker bool,
) (*domain.CommitmentProof, error) {
	waiter := s.registerWaiter(commitment.Signature(), offerID, asTaker)
	defer s.unregisterWaiter(commitment.Signature(), offerID)

	if !s.broker.SendTo(s.csAddress, commitment) {
		log.Debugf("broker did not accept commitment for offer %s", offerID)
		return nil, ErrSendFailed
	}
	if !s.payments.Transfer(ctx, s.csAddress, amount, offerID) {
		log.Debugf("commitment transfer for offer %s failed", offerID)
		return nil, ErrTransferFailed
	}

	proof, err := s.waitForProof(ctx, waiter, timeout)
	if err != nil {
		log.Debugf("no commitment proof for offer %s: %s", offerID, err)
		return nil, err
	}
	return proof, nil
}

func (s *commitService) swapOfferMessage(offer *domain.Offer) *domain.SwapOffer {
	msg := &domain.SwapOffer{OfferID: offer.ID, Timeout: offer.Timeout}
	if offer.Side == domain.SideSell {
		msg.AskAsset = s.market.QuoteAsset
		msg.AskAmount = offer.QuoteAmount
		msg.BidAsset = s.market.BaseAsset
		msg.BidAmount = offer.BaseAmount
	} else {
		msg.AskAsset = s.market.BaseAsset
		msg.AskAmount = offer.BaseAmount
		msg.BidAsset = s.market.QuoteAsset
		msg.BidAmount = offer.QuoteAmount
	}
	return msg
}

func (s *commitService) acquireOffer(offerID uuid.UUID) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.inFlight[offerID]; ok {
		return ErrOfferInFlight
	}
	s.inFlight[offerID] = struct{}{}
	return nil
}

func (s *commitService) releaseOffer(offerID uuid.UUID) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.inFlight, offerID)
}

func (s *commitService) registerWaiter(
	sig []byte, offerID uuid.UUID, asTaker bool,
) *proofWaiter {
	s.lock.Lock()
	defer s.lock.Unlock()

	waiter := newProofWaiter()
	s.waitersBySig[hex.EncodeToString(sig)] = waiter
	if asTaker {
		s.takersByID[offerID] = waiter
	}
	return waiter
}

func (s *commitService) unregisterWaiter(sig []byte, offerID uuid.UUID) {
	s.lock.Lock()
	defer s.lock.Unlock()

	delete(s.waitersBySig, hex.EncodeToString(sig))
	delete(s.takersByID, offerID)
}

func (s *commitService) listenProofs(ctx context.Context, sub ports.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			proof, ok := msg.(*domain.CommitmentProof)
			if !ok {
				continue
			}
			sender, err := s.verifier.Sender(proof)
			if err != nil || sender != s.csAddress {
				log.Warn("dropping commitment proof not signed by the commitment service")
				continue
			}

			s.lock.Lock()
			waiter := s.waitersBySig[hex.EncodeToString(proof.CommitmentSig)]
			s.lock.Unlock()
			if waiter != nil {
				waiter.resolve(proof)
			}
		}
	}
}

// listenTaken cancels pending taker waits once their offer is taken: the
// winning taker received its proof before the broadcast, every other taker
// is not getting one anymore.
func (s *commitService) listenTaken(ctx context.Context, sub ports.Subscription) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			taken, ok := msg.(*domain.OfferTaken)
			if !ok {
				continue
			}
			s.lock.Lock()
			waiter := s.takersByID[taken.OfferID]
			s.lock.Unlock()
			if waiter != nil {
				waiter.cancel()
			}
		}
	}
}

func (s *commitService) waitForProof(
	ctx context.Context, waiter *proofWaiter, timeout int64,
) (*domain.CommitmentProof, error) {
	deadline := time.Until(time.UnixMilli(timeout))
	if deadline <= 0 {
		return nil, ErrNoProof
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(deadline):
		return nil, ErrNoProof
	case proof := <-waiter.proofCh:
		return proof, nil
	case <-waiter.cancelCh:
		// the race for the offer is decided; if we are the winner our proof
		// may still be in flight, so give it a moment before giving up
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case proof := <-waiter.proofCh:
			return proof, nil
		case <-time.After(cancelGracePeriod):
			return nil, ErrNoProof
		}
	}
}
