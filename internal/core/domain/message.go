package domain

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SignedMessage is implemented by every wire message exchanged between
// trading nodes and the commitment service. The signature covers the sha256
// digest of the canonical encoding of all fields except the signature itself.
type SignedMessage interface {
	// Type returns the wire name of the message.
	Type() string
	// Digest returns the canonical digest the signature is computed over.
	Digest() []byte
	// Signature returns the raw compact signature, nil if unsigned.
	Signature() []byte
	// SetSignature attaches a signature to the message.
	SetSignature(sig []byte)
}

// Wire names of all messages.
const (
	MsgTypeSwapOffer        = "swap_offer"
	MsgTypeMakerCommitment  = "maker_commitment"
	MsgTypeTakerCommitment  = "taker_commitment"
	MsgTypeCommitmentProof  = "commitment_proof"
	MsgTypeProvenOffer      = "proven_offer"
	MsgTypeProvenCommitment = "proven_commitment"
	MsgTypeOfferTaken       = "offer_taken"
	MsgTypeSwapExecution    = "swap_execution"
	MsgTypeSwapCompleted    = "swap_completed"
	MsgTypeCSAdvertisement  = "cs_advertisement"
)

func digest(v interface{}) []byte {
	buf, err := json.Marshal(v)
	if err != nil {
		// all message fields are plain data, marshaling cannot fail
		panic(err)
	}
	sum := sha256.Sum256(buf)
	return sum[:]
}

type signature struct {
	Sig []byte `json:"signature,omitempty"`
}

// Signature implements SignedMessage.
func (s *signature) Signature() []byte { return s.Sig }

// SetSignature implements SignedMessage.
func (s *signature) SetSignature(sig []byte) { s.Sig = sig }

// SwapOffer is the maker-signed description of an offer, the base of a
// ProvenOffer. Amounts are absolute: ask is what the maker wants, bid is what
// the maker gives.
type SwapOffer struct {
	AskAsset  string    `json:"ask_asset"`
	AskAmount uint64    `json:"ask_amount"`
	BidAsset  string    `json:"bid_asset"`
	BidAmount uint64    `json:"bid_amount"`
	OfferID   uuid.UUID `json:"offer_id"`
	Timeout   int64     `json:"timeout"`
	signature
}

func (m *SwapOffer) Type() string { return MsgTypeSwapOffer }

func (m *SwapOffer) Digest() []byte {
	return digest(struct {
		A string    `json:"ask_asset"`
		B uint64    `json:"ask_amount"`
		C string    `json:"bid_asset"`
		D uint64    `json:"bid_amount"`
		E uuid.UUID `json:"offer_id"`
		F int64     `json:"timeout"`
	}{m.AskAsset, m.AskAmount, m.BidAsset, m.BidAmount, m.OfferID, m.Timeout})
}

// ToOffer translates the absolute ask/bid amounts of the wire message into an
// offer relative to the given market. A maker asking for quote asset is
// selling the base asset.
func (m *SwapOffer) ToOffer(market Market) (*Offer, error) {
	offer := &Offer{ID: m.OfferID, Timeout: m.Timeout}
	switch {
	case m.AskAsset == market.QuoteAsset && m.BidAsset == market.BaseAsset:
		offer.Side = SideSell
		offer.BaseAmount = m.BidAmount
		offer.QuoteAmount = m.AskAmount
	case m.AskAsset == market.BaseAsset && m.BidAsset == market.QuoteAsset:
		offer.Side = SideBuy
		offer.BaseAmount = m.AskAmount
		offer.QuoteAmount = m.BidAmount
	default:
		return nil, fmt.Errorf(
			"offer assets %s/%s do not form market %s/%s",
			m.AskAsset, m.BidAsset, market.BaseAsset, market.QuoteAsset,
		)
	}
	if err := offer.Validate(); err != nil {
		return nil, err
	}
	return offer, nil
}

// commitmentBody is shared by maker and taker commitments. The two are kept
// as distinct wire types so a late taker commitment for a torn-down swap can
// never be mistaken for a fresh maker commitment.
type commitmentBody struct {
	OfferID   uuid.UUID `json:"offer_id"`
	OfferHash []byte    `json:"offer_hash"`
	Timeout   int64     `json:"timeout"`
	Amount    uint64    `json:"amount"`
	signature
}

func (m *commitmentBody) Digest() []byte {
	return digest(struct {
		A uuid.UUID `json:"offer_id"`
		B []byte    `json:"offer_hash"`
		C int64     `json:"timeout"`
		D uint64    `json:"amount"`
	}{m.OfferID, m.OfferHash, m.Timeout, m.Amount})
}

// MakerCommitment announces to the commitment service that the maker of the
// offer wants to escrow funds for it.
type MakerCommitment struct{ commitmentBody }

func (m *MakerCommitment) Type() string { return MsgTypeMakerCommitment }

// NewMakerCommitment returns an unsigned maker commitment.
func NewMakerCommitment(
	offerID uuid.UUID, offerHash []byte, timeout int64, amount uint64,
) *MakerCommitment {
	return &MakerCommitment{commitmentBody{
		OfferID: offerID, OfferHash: offerHash, Timeout: timeout, Amount: amount,
	}}
}

// TakerCommitment announces to the commitment service that a taker wants to
// escrow funds for an already committed offer.
type TakerCommitment struct{ commitmentBody }

func (m *TakerCommitment) Type() string { return MsgTypeTakerCommitment }

// NewTakerCommitment returns an unsigned taker commitment.
func NewTakerCommitment(
	offerID uuid.UUID, offerHash []byte, timeout int64, amount uint64,
) *TakerCommitment {
	return &TakerCommitment{commitmentBody{
		OfferID: offerID, OfferHash: offerHash, Timeout: timeout, Amount: amount,
	}}
}

// CommitmentProof is the service-signed acknowledgment that a specific
// commitment was accepted and its funds escrowed. It references the
// commitment by its signature.
type CommitmentProof struct {
	CommitmentSig []byte `json:"commitment_sig"`
	signature
}

func (m *CommitmentProof) Type() string { return MsgTypeCommitmentProof }

func (m *CommitmentProof) Digest() []byte {
	return digest(struct {
		A []byte `json:"commitment_sig"`
	}{m.CommitmentSig})
}

// ProvenOffer is the maker-signed bundle broadcast to advertise an offer the
// commitment service vouches for.
type ProvenOffer struct {
	Offer      *SwapOffer       `json:"offer"`
	Commitment *MakerCommitment `json:"commitment"`
	Proof      *CommitmentProof `json:"commitment_proof"`
	signature
}

func (m *ProvenOffer) Type() string { return MsgTypeProvenOffer }

func (m *ProvenOffer) Digest() []byte {
	return digest(struct {
		A []byte `json:"offer_digest"`
		B []byte `json:"commitment_sig"`
		C []byte `json:"proof_sig"`
	}{m.Offer.Digest(), m.Commitment.Signature(), m.Proof.Signature()})
}

// ProvenCommitment is sent taker to maker to prove the taker holds an
// escrowed commitment for the maker's offer.
type ProvenCommitment struct {
	Commitment *TakerCommitment `json:"commitment"`
	Proof      *CommitmentProof `json:"commitment_proof"`
	signature
}

func (m *ProvenCommitment) Type() string { return MsgTypeProvenCommitment }

func (m *ProvenCommitment) Digest() []byte {
	return digest(struct {
		A []byte `json:"commitment_sig"`
		B []byte `json:"proof_sig"`
	}{m.Commitment.Signature(), m.Proof.Signature()})
}

// OfferTaken is broadcast by the commitment service once a taker is locked in
// for an offer, so all nodes drop it from their books.
type OfferTaken struct {
	OfferID uuid.UUID `json:"offer_id"`
	signature
}

func (m *OfferTaken) Type() string { return MsgTypeOfferTaken }

func (m *OfferTaken) Digest() []byte {
	return digest(struct {
		A uuid.UUID `json:"offer_id"`
	}{m.OfferID})
}

// SwapExecution is sent by maker or taker to the commitment service to
// confirm their leg of the swap was executed.
type SwapExecution struct {
	OfferID   uuid.UUID `json:"offer_id"`
	Timestamp int64     `json:"timestamp"`
	signature
}

func (m *SwapExecution) Type() string { return MsgTypeSwapExecution }

func (m *SwapExecution) Digest() []byte {
	return digest(struct {
		A uuid.UUID `json:"offer_id"`
		B int64     `json:"timestamp"`
	}{m.OfferID, m.Timestamp})
}

// SwapCompleted is broadcast by the commitment service once both parties
// confirmed execution.
type SwapCompleted struct {
	OfferID   uuid.UUID `json:"offer_id"`
	Timestamp int64     `json:"timestamp"`
	signature
}

func (m *SwapCompleted) Type() string { return MsgTypeSwapCompleted }

func (m *SwapCompleted) Digest() []byte {
	return digest(struct {
		A uuid.UUID `json:"offer_id"`
		B int64     `json:"timestamp"`
	}{m.OfferID, m.Timestamp})
}

// CSAdvertisement is periodically broadcast by a commitment service to make
// itself discoverable, along with the asset it escrows and its fee rate in
// basis points.
type CSAdvertisement struct {
	Address         string `json:"address"`
	CommitmentAsset string `json:"commitment_asset"`
	FeeRateBps      uint32 `json:"fee_rate_bps"`
	signature
}

func (m *CSAdvertisement) Type() string { return MsgTypeCSAdvertisement }

func (m *CSAdvertisement) Digest() []byte {
	return digest(struct {
		A string `json:"address"`
		B string `json:"commitment_asset"`
		C uint32 `json:"fee_rate_bps"`
	}{m.Address, m.CommitmentAsset, m.FeeRateBps})
}

// EmptyMessageOfType returns a zero message of the given wire type, used by
// transports to decode incoming payloads.
func EmptyMessageOfType(msgType string) (SignedMessage, error) {
	switch msgType {
	case MsgTypeSwapOffer:
		return &SwapOffer{}, nil
	case MsgTypeMakerCommitment:
		return &MakerCommitment{}, nil
	case MsgTypeTakerCommitment:
		return &TakerCommitment{}, nil
	case MsgTypeCommitmentProof:
		return &CommitmentProof{}, nil
	case MsgTypeProvenOffer:
		return &ProvenOffer{}, nil
	case MsgTypeProvenCommitment:
		return &ProvenCommitment{}, nil
	case MsgTypeOfferTaken:
		return &OfferTaken{}, nil
	case MsgTypeSwapExecution:
		return &SwapExecution{}, nil
	case MsgTypeSwapCompleted:
		return &SwapCompleted{}, nil
	case MsgTypeCSAdvertisement:
		return &CSAdvertisement{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %s", msgType)
	}
}
