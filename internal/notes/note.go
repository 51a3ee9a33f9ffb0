// Package notes implements the note commitment used by the spot state tree.
//
// A note is a commitment to {owner, token, amount, blinding, index}. It is
// immutable once created; its identity is its Hash field, as computed by
// CalculateHash(). The
// owning key pair follows the same secp256k1 scheme as the teacher wallet
// package so that Sign/Verify can reuse btcec/ecdsa directly.
package notes

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcutil/base58"
)

// ErrInvalidSignature is returned when a note or order signature fails verification.
var ErrInvalidSignature = errors.New("invalid signature")

// Note is a commitment to an amount of a token owned by an address.
type Note struct {
	Index    uint64   `json:"index"`
	Owner    []byte   `json:"owner"` // compressed secp256k1 public key
	Token    uint64   `json:"token"`
	Amount   uint64   `json:"amount"`
	Blinding *big.Int `json:"blinding"`
	Hash     string   `json:"hash"`
}

// New creates a note and populates its hash.
func New(index uint64, owner []byte, token, amount uint64, blinding *big.Int) *Note {
	n := &Note{
		Index:    index,
		Owner:    owner,
		Token:    token,
		Amount:   amount,
		Blinding: blinding,
	}
	n.Hash = n.CalculateHash()
	return n
}

// Address derives the base58 address of the note's owner, mirroring the
// teacher wallet's address derivation.
func (n *Note) Address() string {
	sum := sha256.Sum256(n.Owner)
	return base58.Encode(sum[:20])
}

// CalculateHash computes the note's commitment hash.
func (n *Note) CalculateHash() string {
	data := fmt.Sprintf("%d|%x|%d|%d|%s", n.Index, n.Owner, n.Token, n.Amount, n.Blinding.Text(16))
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// SameOwner reports whether two notes share the same (address, blinding) pair,
// the check required when validating a note split's input/output linkage.
func (n *Note) SameOwner(other *Note) bool {
	return n.Address() == other.Address() && n.Blinding.Cmp(other.Blinding) == 0
}

// RandomBlinding generates a cryptographically random blinding scalar.
func RandomBlinding() (*big.Int, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(buf), nil
}

// Signature is a detached secp256k1 signature over some signable payload.
type Signature []byte

// Sign signs data with the given private key.
func Sign(priv *btcec.PrivateKey, data []byte) Signature {
	h := sha256.Sum256(data)
	sig := ecdsa.Sign(priv, h[:])
	return sig.Serialize()
}

// Verify checks a signature against a compressed public key.
func Verify(pubKey []byte, data []byte, sig Signature) (bool, error) {
	parsedKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("parse public key: %w", err)
	}
	parsedSig, err := ecdsa.ParseSignature(sig)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}
	h := sha256.Sum256(data)
	return parsedSig.Verify(h[:], parsedKey), nil
}
