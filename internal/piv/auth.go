package piv

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des" //nolint:gosec // 3DES is mandated for the PIV factory management key
	"crypto/rand"
	"fmt"
)

// ManagementKeyType identifies the cipher protecting card administration.
type ManagementKeyType byte

const (
	// ManagementKeyTripleDES is the factory default cipher.
	ManagementKeyTripleDES ManagementKeyType = 0x03

	// ManagementKeyAES256 is the cipher used for operator-provisioned
	// management keys.
	ManagementKeyAES256 ManagementKeyType = 0x0C
)

func (k ManagementKeyType) keyLen() int {
	if k == ManagementKeyAES256 {
		return 32
	}
	return 24
}

func (k ManagementKeyType) blockCipher(key []byte) (cipher.Block, error) {
	if len(key) != k.keyLen() {
		return nil, fmt.Errorf("piv: management key must be %d bytes, got %d", k.keyLen(), len(key))
	}
	if k == ManagementKeyAES256 {
		return aes.NewCipher(key)
	}
	return des.NewTripleDESCipher(key) //nolint:gosec
}

// Dynamic authentication template tags (SP 800-73-4 §3.2.4).
const (
	tagDynAuth   = 0x7C
	tagWitness   = 0x80
	tagChallenge = 0x81
	tagResponse  = 0x82
)

// AuthenticateManagement performs the mutual challenge-response protocol
// with the card management key. It must succeed before key generation,
// certificate writes, or credential changes.
func (t *Token) AuthenticateManagement(keyType ManagementKeyType, key []byte) error {
	block, err := keyType.blockCipher(key)
	if err != nil {
		return err
	}

	// Step 1: ask the card for a witness (its challenge, encrypted).
	resp, sw, err := t.transmit(apdu{
		ins:  insGeneralAuth,
		p1:   byte(keyType),
		p2:   byte(slotManagement),
		data: encodeTLV(tagDynAuth, encodeTLV(tagWitness, nil)),
	})
	if err != nil {
		return err
	}
	if sw != swSuccess {
		return swError("management authenticate", sw)
	}
	witness, err := dynAuthValue(resp, tagWitness)
	if err != nil {
		return err
	}
	if len(witness) != block.BlockSize() {
		return fmt.Errorf("piv: witness length %d does not match cipher block size", len(witness))
	}

	// Step 2: return the decrypted witness together with our own
	// challenge; the card proves key possession by encrypting it back.
	decrypted := make([]byte, len(witness))
	block.Decrypt(decrypted, witness)

	challenge := make([]byte, block.BlockSize())
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("piv: reading random challenge: %w", err)
	}

	inner := encodeTLV(tagWitness, decrypted)
	inner = append(inner, encodeTLV(tagChallenge, challenge)...)
	inner = append(inner, encodeTLV(tagResponse, nil)...)

	resp, sw, err = t.transmit(apdu{
		ins:  insGeneralAuth,
		p1:   byte(keyType),
		p2:   byte(slotManagement),
		data: encodeTLV(tagDynAuth, inner),
	})
	if err != nil {
		return err
	}
	if sw == swSecurityStatus || sw == swUnspecifiedCheckErr {
		return fmt.Errorf("management authenticate: %w", ErrAuthentication)
	}
	if sw != swSuccess {
		return swError("management authenticate", sw)
	}

	cardResponse, err := dynAuthValue(resp, tagResponse)
	if err != nil {
		return err
	}
	expected := make([]byte, len(challenge))
	block.Encrypt(expected, challenge)
	if !bytes.Equal(cardResponse, expected) {
		return fmt.Errorf("management authenticate: card response mismatch: %w", ErrAuthentication)
	}
	return nil
}

// SetManagementKey replaces the card management key. Requires a prior
// successful AuthenticateManagement.
func (t *Token) SetManagementKey(keyType ManagementKeyType, key []byte) error {
	if len(key) != keyType.keyLen() {
		return fmt.Errorf("piv: management key must be %d bytes, got %d", keyType.keyLen(), len(key))
	}
	data := append([]byte{byte(keyType), byte(slotManagement), byte(len(key))}, key...)
	_, sw, err := t.transmit(apdu{ins: insSetManagementKey, p1: 0xFF, p2: 0xFF, data: data})
	if err != nil {
		return err
	}
	if sw != swSuccess {
		return swError("set management key", sw)
	}
	return nil
}

// slotManagement is the card management key reference (9B).
const slotManagement = 0x9B

// dynAuthValue extracts one tagged value from a 7C dynamic authentication
// response template.
func dynAuthValue(resp []byte, tag uint32) ([]byte, error) {
	tlvs, err := parseTLVs(resp)
	if err != nil {
		return nil, fmt.Errorf("piv: malformed authentication response: %w", err)
	}
	outer, ok := findTLV(tlvs, tagDynAuth)
	if !ok {
		return nil, fmt.Errorf("piv: authentication response missing 7C template")
	}
	inner, err := parseTLVs(outer)
	if err != nil {
		return nil, fmt.Errorf("piv: malformed authentication template: %w", err)
	}
	value, ok := findTLV(inner, tag)
	if !ok {
		return nil, fmt.Errorf("piv: authentication template missing tag %02x", tag)
	}
	return value, nil
}
