package piv

import (
	"crypto"
	"fmt"
	"io"
)

// SlotSigner adapts a token slot to crypto.Signer so certificate
// construction can delegate signing without ever seeing key material.
// The digest is computed by the caller (crypto/x509 hashes the TBS data
// before calling Sign); the card signs exactly what it is given.
type SlotSigner struct {
	token *Token
	slot  Slot
	pin   string
	pub   crypto.PublicKey
}

// NewSlotSigner builds a signer for the key in the given slot. The public
// key is read from slot metadata; an empty slot is ErrNotFound.
func NewSlotSigner(token *Token, slot Slot, pin string) (*SlotSigner, error) {
	md, err := token.SlotMetadata(slot)
	if err != nil {
		return nil, err
	}
	if md.PublicKey == nil {
		return nil, fmt.Errorf("piv: slot %s metadata carries no public key", slot)
	}
	return &SlotSigner{token: token, slot: slot, pin: pin, pub: md.PublicKey}, nil
}

// Public returns the slot's public key.
func (s *SlotSigner) Public() crypto.PublicKey {
	return s.pub
}

// Sign signs a digest with the slot key. The rand argument is ignored:
// nonce generation happens inside the card.
func (s *SlotSigner) Sign(_ io.Reader, digest []byte, _ crypto.SignerOpts) ([]byte, error) {
	return s.token.Sign(s.slot, s.pin, digest)
}
