package domain

import "errors"

var (
	// ErrInvalidBaseAmount is thrown when an offer is created with a zero base amount.
	ErrInvalidBaseAmount = errors.New("offer base amount must be greater than 0")
	// ErrInvalidQuoteAmount is thrown when an offer is created with a zero quote amount.
	ErrInvalidQuoteAmount = errors.New("offer quote amount must be greater than 0")
	// ErrInvalidTimeout is thrown when an offer is created with a timeout in the past.
	ErrInvalidTimeout = errors.New("offer timeout must be in the future")
	// ErrInvalidOfferSide is thrown when an offer carries an unknown side.
	ErrInvalidOfferSide = errors.New("offer side must be either buy or sell")
	// ErrInvalidOrderAmount is thrown when a limit order is created with a zero amount.
	ErrInvalidOrderAmount = errors.New("order amount must be greater than 0")
	// ErrInvalidOrderPrice is thrown when a limit order is created with a non-positive price.
	ErrInvalidOrderPrice = errors.New("order price must be greater than 0")
	// ErrSwapIDCollision is thrown when attempting to register a swap for an
	// offer id that already has a live swap.
	ErrSwapIDCollision = errors.New("a live swap already exists for this offer id")
	// ErrMissingSignature is thrown when recovering the sender of an unsigned message.
	ErrMissingSignature = errors.New("message is not signed")
)
