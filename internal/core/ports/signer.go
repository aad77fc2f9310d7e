package ports

import "github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"

// Signer signs outgoing messages with the owner's identity key.
type Signer interface {
	// Address returns the canonical address derived from the signing key.
	Address() string
	// Sign computes and attaches the signature of the message digest.
	Sign(msg domain.SignedMessage) error
}

// Verifier recovers the sender identity of incoming signed messages.
type Verifier interface {
	// Sender returns the canonical address that signed the message.
	Sender(msg domain.SignedMessage) (string, error)
}
