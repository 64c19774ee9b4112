package piv

import (
	"crypto/ecdsa"
	"fmt"
)

// Slot metadata response tags (YubiKey GET METADATA).
const (
	tagMetaAlgorithm = 0x01
	tagMetaPolicy    = 0x02
	tagMetaOrigin    = 0x03
	tagMetaPublicKey = 0x04
	tagMetaRetries   = 0x06
)

// KeyOrigin reports how a slot key came to exist.
type KeyOrigin byte

const (
	// OriginGenerated means the key was generated on the card and has
	// never existed anywhere else.
	OriginGenerated KeyOrigin = 0x01

	// OriginImported means the key was loaded from outside. The
	// provisioning workflow never does this; an imported key is a finding.
	OriginImported KeyOrigin = 0x02
)

// String returns the origin name.
func (o KeyOrigin) String() string {
	switch o {
	case OriginGenerated:
		return "generated"
	case OriginImported:
		return "imported"
	default:
		return fmt.Sprintf("unknown(%02x)", byte(o))
	}
}

// SlotMetadata describes the key residing in a slot.
type SlotMetadata struct {
	Algorithm Algorithm
	Origin    KeyOrigin
	PublicKey *ecdsa.PublicKey
}

// SlotMetadata reads key metadata for a slot. Returns ErrNotFound when the
// slot is empty.
func (t *Token) SlotMetadata(slot Slot) (*SlotMetadata, error) {
	resp, sw, err := t.transmit(apdu{ins: insGetMetadata, p2: byte(slot)})
	if err != nil {
		return nil, err
	}
	if sw == swReferenceNotFound || sw == swFileNotFound {
		return nil, fmt.Errorf("slot %s: %w", slot, ErrNotFound)
	}
	if sw != swSuccess {
		return nil, swError("slot metadata", sw)
	}

	tlvs, err := parseTLVs(resp)
	if err != nil {
		return nil, fmt.Errorf("slot metadata for %s: %w", slot, err)
	}
	md := &SlotMetadata{}
	if v, ok := findTLV(tlvs, tagMetaAlgorithm); ok && len(v) == 1 {
		md.Algorithm = Algorithm(v[0])
	}
	if v, ok := findTLV(tlvs, tagMetaOrigin); ok && len(v) == 1 {
		md.Origin = KeyOrigin(v[0])
	}
	if v, ok := findTLV(tlvs, tagMetaPublicKey); ok {
		pub, err := parseECPublicKey(md.Algorithm, v)
		if err != nil {
			return nil, fmt.Errorf("slot metadata for %s: %w", slot, err)
		}
		md.PublicKey = pub
	}
	return md, nil
}

// Retries reads the remaining PIN and PUK attempt counters without
// spending an attempt, and refreshes the token state.
func (t *Token) Retries() (pin, puk int, err error) {
	pin, err = t.referenceRetries(refPIN)
	if err != nil {
		return 0, 0, err
	}
	puk, err = t.referenceRetries(refPUK)
	if err != nil {
		return 0, 0, err
	}
	t.state.PINRetries = pin
	t.state.PUKRetries = puk
	t.state.Locked = pin == 0
	return pin, puk, nil
}

func (t *Token) referenceRetries(ref byte) (int, error) {
	resp, sw, err := t.transmit(apdu{ins: insGetMetadata, p2: ref})
	if err != nil {
		return 0, err
	}
	if sw != swSuccess {
		return 0, swError("credential metadata", sw)
	}
	tlvs, err := parseTLVs(resp)
	if err != nil {
		return 0, fmt.Errorf("credential metadata: %w", err)
	}
	v, ok := findTLV(tlvs, tagMetaRetries)
	if !ok || len(v) < 2 {
		return 0, fmt.Errorf("credential metadata: missing retry counter")
	}
	return int(v[1]), nil
}
