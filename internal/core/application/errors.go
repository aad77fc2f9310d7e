package application

import "errors"

var (
	// ErrOfferInFlight is thrown when committing an offer whose id already
	// has a commitment attempt in flight locally.
	ErrOfferInFlight = errors.New("a commitment for this offer id is already in flight")
	// ErrSendFailed is thrown when the broker does not accept the commitment
	// message.
	ErrSendFailed = errors.New("broker did not accept the commitment message")
	// ErrTransferFailed is thrown when the payment rail rejects the
	// commitment transfer.
	ErrTransferFailed = errors.New("payment rail rejected the commitment transfer")
	// ErrNoProof is thrown when no commitment proof arrives within the offer
	// lifetime, or the wait is canceled by a refund.
	ErrNoProof = errors.New("no commitment proof received within the offer lifetime")
	// ErrUnprovenOffer is thrown when taking an offer that misses the hash or
	// commitment amount of its ProvenOffer broadcast.
	ErrUnprovenOffer = errors.New("offer misses commitment data of its proven offer")
)
