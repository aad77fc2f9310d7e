package signer

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/swapmesh-network/swapmesh-daemon/internal/core/domain"
)

// KeySigner signs message digests with a secp256k1 key using compact
// recoverable signatures, so receivers recover the sender address from the
// signature alone.
type KeySigner struct {
	privateKey *btcec.PrivateKey
	address    string
}

// New returns a signer with a fresh random key.
func New() (*KeySigner, error) {
	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return fromKey(privateKey), nil
}

// FromHex returns a signer for a hex-encoded 32-byte private key.
func FromHex(privateKeyHex string) (*KeySigner, error) {
	buf, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %s", err)
	}
	if len(buf) != 32 {
		return nil, fmt.Errorf("invalid private key length %d", len(buf))
	}
	privateKey, _ := btcec.PrivKeyFromBytes(buf)
	return fromKey(privateKey), nil
}

func fromKey(privateKey *btcec.PrivateKey) *KeySigner {
	return &KeySigner{
		privateKey: privateKey,
		address:    AddressFromPubKey(privateKey.PubKey()),
	}
}

// Address returns the canonical address of the signing key.
func (s *KeySigner) Address() string {
	return s.address
}

// Sign attaches a compact recoverable signature over the message digest.
func (s *KeySigner) Sign(msg domain.SignedMessage) error {
	sig, err := ecdsa.SignCompact(s.privateKey, msg.Digest(), true)
	if err != nil {
		return err
	}
	msg.SetSignature(sig)
	return nil
}

// RecoveryVerifier recovers sender addresses from compact signatures.
type RecoveryVerifier struct{}

// NewVerifier returns a stateless verifier.
func NewVerifier() RecoveryVerifier {
	return RecoveryVerifier{}
}

// Sender recovers the address that signed the message.
func (RecoveryVerifier) Sender(msg domain.SignedMessage) (string, error) {
	sig := msg.Signature()
	if len(sig) == 0 {
		return "", domain.ErrMissingSignature
	}
	pubKey, _, err := ecdsa.RecoverCompact(sig, msg.Digest())
	if err != nil {
		return "", fmt.Errorf("cannot recover sender: %s", err)
	}
	return AddressFromPubKey(pubKey), nil
}

// AddressFromPubKey derives the canonical address encoding of a public key:
// the hex of the Hash160 of its compressed serialization.
func AddressFromPubKey(pubKey *btcec.PublicKey) string {
	return hex.EncodeToString(btcutil.Hash160(pubKey.SerializeCompressed()))
}
