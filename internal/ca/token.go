package ca

import (
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/remiblancher/pivca/internal/piv"
	"github.com/remiblancher/pivca/internal/x509util"
)

// TokenCA binds CA operations to one slot of a provisioned token. The
// private key was generated in the slot and never leaves it; every
// signature is produced by the card.
type TokenCA struct {
	Token *piv.Token
	Slot  piv.Slot
	PIN   string

	// Management credentials, required for key generation and for
	// storing certificates on the token.
	KeyType       piv.ManagementKeyType
	ManagementKey []byte
}

// CreateRoot self-signs the root certificate with the slot key and
// stores it on the token next to that key. A key already in the slot —
// provisioning generates one — is reused; an empty slot gets a fresh
// key. Re-running against a slot that already holds a certificate fails
// with piv.ErrSlotOccupied unless overwrite is given, in which case both
// the key and the certificate are replaced.
func (c *TokenCA) CreateRoot(subject x509util.Name, validity time.Duration, overwrite bool) (*x509.Certificate, error) {
	if !overwrite {
		if _, err := c.Token.Certificate(c.Slot); err == nil {
			return nil, fmt.Errorf("create root: slot %s already holds a certificate: %w", c.Slot, piv.ErrSlotOccupied)
		} else if !errors.Is(err, piv.ErrNotFound) {
			return nil, err
		}
	}
	if err := c.Token.AuthenticateManagement(c.KeyType, c.ManagementKey); err != nil {
		return nil, err
	}

	signer, err := c.slotSigner(overwrite)
	if err != nil {
		return nil, err
	}
	cert, _, err := IssueRoot(signer, subject, validity)
	if err != nil {
		return nil, err
	}
	if err := c.Token.WriteCertificate(c.Slot, cert); err != nil {
		return nil, err
	}
	return cert, nil
}

// slotSigner opens the slot key, generating one only when the slot is
// empty. With regenerate the key is replaced unconditionally.
func (c *TokenCA) slotSigner(regenerate bool) (*piv.SlotSigner, error) {
	if !regenerate {
		signer, err := piv.NewSlotSigner(c.Token, c.Slot, c.PIN)
		if err == nil {
			return signer, nil
		} else if !errors.Is(err, piv.ErrNotFound) {
			return nil, err
		}
	}
	pub, err := c.Token.GenerateKey(c.Slot, piv.AlgorithmECCP384, regenerate)
	if err != nil {
		return nil, err
	}
	signer, err := piv.NewSlotSigner(c.Token, c.Slot, c.PIN)
	if err != nil {
		return nil, err
	}
	if !pub.Equal(signer.Public()) {
		return nil, fmt.Errorf("slot %s public key does not match generated key", c.Slot)
	}
	return signer, nil
}

// CreateCSR builds a certificate request for the key already present in
// the slot, signed by the card.
func (c *TokenCA) CreateCSR(subject x509util.Name) ([]byte, error) {
	signer, err := piv.NewSlotSigner(c.Token, c.Slot, c.PIN)
	if err != nil {
		return nil, err
	}
	return CreateCSR(signer, subject)
}

// StoreCertificate writes an issued certificate next to the slot key,
// checking first that the certificate really belongs to that key.
func (c *TokenCA) StoreCertificate(cert *x509.Certificate) error {
	signer, err := piv.NewSlotSigner(c.Token, c.Slot, c.PIN)
	if err != nil {
		return err
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(signer.Public()) {
		return fmt.Errorf("store certificate: subject key does not match slot %s", c.Slot)
	}
	if err := c.Token.AuthenticateManagement(c.KeyType, c.ManagementKey); err != nil {
		return err
	}
	return c.Token.WriteCertificate(c.Slot, cert)
}

// Issuer opens the slot as a signing CA: the stored certificate plus a
// card-backed signer. The certificate and the slot key are cross-checked
// before any signature is produced.
func (c *TokenCA) Issuer() (*Issuer, error) {
	cert, err := c.Token.Certificate(c.Slot)
	if err != nil {
		return nil, err
	}
	signer, err := piv.NewSlotSigner(c.Token, c.Slot, c.PIN)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok || !pub.Equal(signer.Public()) {
		return nil, fmt.Errorf("slot %s: stored certificate does not match slot key", c.Slot)
	}
	if !cert.IsCA {
		return nil, fmt.Errorf("slot %s: stored certificate is not a CA certificate", c.Slot)
	}
	return &Issuer{Certificate: cert, Signer: signer}, nil
}
