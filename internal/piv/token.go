package piv

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
)

// pivAID is the PIV card application identifier.
var pivAID = []byte{0xA0, 0x00, 0x00, 0x03, 0x08, 0x00, 0x00, 0x10, 0x00}

// Token is an open session with the PIV application on one card.
// A Token is owned by exactly one workflow and closed at the end of each
// invocation; it is never persisted or shared.
type Token struct {
	card  Transport
	state TokenState
}

// NewToken opens the PIV application over the given transport.
func NewToken(card Transport) (*Token, error) {
	t := &Token{
		card:  card,
		state: TokenState{PINRetries: -1, PUKRetries: -1},
	}
	_, sw, err := t.transmit(apdu{ins: insSelect, p1: 0x04, data: pivAID})
	if err != nil {
		return nil, err
	}
	if sw != swSuccess {
		return nil, fmt.Errorf("select PIV application: %w (status %04x)", ErrTokenCommunication, sw)
	}
	return t, nil
}

// Close releases the underlying card channel.
func (t *Token) Close() error {
	return t.card.Close()
}

// State returns the administrative state as last observed.
func (t *Token) State() TokenState {
	return t.state
}

// Version returns the firmware version of the token.
func (t *Token) Version() (major, minor, patch byte, err error) {
	resp, sw, err := t.transmit(apdu{ins: insGetVersion})
	if err != nil {
		return 0, 0, 0, err
	}
	if sw != swSuccess {
		return 0, 0, 0, swError("get version", sw)
	}
	if len(resp) < 3 {
		return 0, 0, 0, fmt.Errorf("get version: short response")
	}
	return resp[0], resp[1], resp[2], nil
}

// Serial returns the device serial number.
func (t *Token) Serial() (uint32, error) {
	resp, sw, err := t.transmit(apdu{ins: insGetSerial})
	if err != nil {
		return 0, err
	}
	if sw != swSuccess {
		return 0, swError("get serial", sw)
	}
	if len(resp) < 4 {
		return 0, fmt.Errorf("get serial: short response")
	}
	return uint32(resp[0])<<24 | uint32(resp[1])<<16 | uint32(resp[2])<<8 | uint32(resp[3]), nil
}

// pinReference values for VERIFY and CHANGE REFERENCE DATA.
const (
	refPIN = 0x80
	refPUK = 0x81
)

// padPIN pads a PIN or PUK to the fixed 8-byte field.
func padPIN(pin string) ([]byte, error) {
	if len(pin) == 0 || len(pin) > 8 {
		return nil, fmt.Errorf("piv: PIN must be 1 to 8 bytes, got %d", len(pin))
	}
	out := make([]byte, 8)
	copy(out, pin)
	for i := len(pin); i < 8; i++ {
		out[i] = 0xFF
	}
	return out, nil
}

// VerifyPIN authenticates the session with the card holder PIN.
// A wrong PIN decrements the retry counter; once exhausted the token is
// locked and every further attempt fails with ErrTokenLocked.
func (t *Token) VerifyPIN(pin string) error {
	data, err := padPIN(pin)
	if err != nil {
		return err
	}
	_, sw, err := t.transmit(apdu{ins: insVerify, p2: refPIN, data: data})
	if err != nil {
		return err
	}
	switch {
	case sw == swSuccess:
		return nil
	case sw == swAuthBlocked:
		t.state.PINRetries = 0
		t.state.Locked = true
		return fmt.Errorf("verify PIN: %w", ErrTokenLocked)
	case retriesFromSW(sw) >= 0:
		t.state.PINRetries = retriesFromSW(sw)
		if t.state.PINRetries == 0 {
			t.state.Locked = true
			return fmt.Errorf("verify PIN: %w", ErrTokenLocked)
		}
		return fmt.Errorf("verify PIN: %w (%d retries remaining)", ErrAuthentication, t.state.PINRetries)
	default:
		return swError("verify PIN", sw)
	}
}

// changeReference changes the PIN or PUK.
func (t *Token) changeReference(ref byte, old, newValue string) error {
	oldPadded, err := padPIN(old)
	if err != nil {
		return err
	}
	newPadded, err := padPIN(newValue)
	if err != nil {
		return err
	}
	_, sw, err := t.transmit(apdu{
		ins:  insChangeReference,
		p2:   ref,
		data: append(oldPadded, newPadded...),
	})
	if err != nil {
		return err
	}
	switch {
	case sw == swSuccess:
		return nil
	case sw == swAuthBlocked:
		if ref == refPUK {
			t.state.PUKRetries = 0
		} else {
			t.state.PINRetries = 0
			t.state.Locked = true
		}
		return fmt.Errorf("change reference data: %w", ErrTokenLocked)
	case retriesFromSW(sw) >= 0:
		n := retriesFromSW(sw)
		if ref == refPUK {
			t.state.PUKRetries = n
		} else {
			t.state.PINRetries = n
		}
		return fmt.Errorf("change reference data: %w (%d retries remaining)", ErrAuthentication, n)
	default:
		return swError("change reference data", sw)
	}
}

// ChangePIN replaces the PIN, authenticating with the current one.
func (t *Token) ChangePIN(oldPIN, newPIN string) error {
	return t.changeReference(refPIN, oldPIN, newPIN)
}

// ChangePUK replaces the PUK, authenticating with the current one.
func (t *Token) ChangePUK(oldPUK, newPUK string) error {
	return t.changeReference(refPUK, oldPUK, newPUK)
}

// Unblock resets a blocked PIN using the PUK. This is the only recovery
// from a locked token short of a full reset.
func (t *Token) Unblock(puk, newPIN string) error {
	pukPadded, err := padPIN(puk)
	if err != nil {
		return err
	}
	pinPadded, err := padPIN(newPIN)
	if err != nil {
		return err
	}
	_, sw, err := t.transmit(apdu{
		ins:  insResetRetryCounter,
		p2:   refPIN,
		data: append(pukPadded, pinPadded...),
	})
	if err != nil {
		return err
	}
	switch {
	case sw == swSuccess:
		t.state.Locked = false
		t.state.PINRetries = -1
		return nil
	case sw == swAuthBlocked:
		t.state.PUKRetries = 0
		return fmt.Errorf("unblock PIN: PUK %w", ErrTokenLocked)
	case retriesFromSW(sw) >= 0:
		t.state.PUKRetries = retriesFromSW(sw)
		return fmt.Errorf("unblock PIN: %w (%d PUK retries remaining)", ErrAuthentication, t.state.PUKRetries)
	default:
		return swError("unblock PIN", sw)
	}
}

// Reset wipes every key and credential on the PIV application, returning
// the token to factory state. The card only accepts the reset once both
// the PIN and the PUK are blocked, so Reset deliberately exhausts both
// counters first. Destructive intent is confirmed by the operator before
// this is ever called.
func (t *Token) Reset() error {
	if err := t.blockPIN(); err != nil {
		return err
	}
	if err := t.blockPUK(); err != nil {
		return err
	}
	_, sw, err := t.transmit(apdu{ins: insReset})
	if err != nil {
		return err
	}
	switch sw {
	case swSuccess:
		t.state = TokenState{PINRetries: -1, PUKRetries: -1}
		return nil
	case swConditionsNotMet, swCommandNotAllowed:
		return fmt.Errorf("reset: %w", ErrAlreadyProvisioned)
	default:
		return swError("reset", sw)
	}
}

// blockCandidates are deliberately wrong values used to exhaust a retry
// counter. Two are needed: if the first happens to be the real secret the
// counter resets, so the loop switches to the other.
var blockCandidates = []string{"654321", "87654321"}

// blockPIN exhausts the PIN retry counter with deliberately wrong values.
func (t *Token) blockPIN() error {
	candidate := 0
	for i := 0; i < 32; i++ {
		err := t.VerifyPIN(blockCandidates[candidate])
		switch {
		case err == nil:
			candidate = (candidate + 1) % len(blockCandidates)
		case errors.Is(err, ErrTokenLocked):
			return nil
		case errors.Is(err, ErrAuthentication):
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("reset: PIN retry counter did not exhaust")
}

// blockPUK exhausts the PUK retry counter with deliberately wrong values.
func (t *Token) blockPUK() error {
	candidate := 0
	for i := 0; i < 32; i++ {
		err := t.ChangePUK(blockCandidates[candidate], blockCandidates[candidate])
		switch {
		case err == nil:
			candidate = (candidate + 1) % len(blockCandidates)
		case errors.Is(err, ErrTokenLocked):
			return nil
		case errors.Is(err, ErrAuthentication):
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("reset: PUK retry counter did not exhaust")
}

// SetCredentials replaces the three factory administrative secrets with
// operator-chosen ones. Called immediately after Reset, it authenticates
// with the well-known factory management key. Format constraints are the
// caller's responsibility (see the credential package); nothing here is
// destructive until the card accepts the first change.
func (t *Token) SetCredentials(pin, puk string, keyType ManagementKeyType, managementKey []byte) error {
	if err := t.AuthenticateManagement(ManagementKeyTripleDES, DefaultManagementKey); err != nil {
		return fmt.Errorf("authenticate with factory management key: %w", err)
	}
	if err := t.SetManagementKey(keyType, managementKey); err != nil {
		return err
	}
	if err := t.ChangePUK(DefaultPUK, puk); err != nil {
		return err
	}
	if err := t.ChangePIN(DefaultPIN, pin); err != nil {
		return err
	}
	return nil
}

// GenerateKey creates a key pair inside the slot and returns its public
// key. The private half never leaves the card. Regenerating over an
// occupied slot requires explicit overwrite intent; without it the call
// fails with ErrSlotOccupied. Requires prior management authentication.
func (t *Token) GenerateKey(slot Slot, alg Algorithm, overwrite bool) (*ecdsa.PublicKey, error) {
	if !slot.IsValid() {
		return nil, fmt.Errorf("piv: invalid slot %02X", byte(slot))
	}
	if _, err := alg.curve(); err != nil {
		return nil, err
	}
	if !overwrite {
		if _, err := t.SlotMetadata(slot); err == nil {
			return nil, fmt.Errorf("generate key in %s: %w", slot, ErrSlotOccupied)
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	control := encodeTLV(0x80, []byte{byte(alg)})
	control = append(control, encodeTLV(tagPINPolicy, []byte{pinPolicyOnce})...)
	control = append(control, encodeTLV(tagTouchPolicy, []byte{touchNever})...)

	resp, sw, err := t.transmit(apdu{
		ins:  insGenerateKey,
		p2:   byte(slot),
		data: encodeTLV(0xAC, control),
	})
	if err != nil {
		return nil, err
	}
	if sw == swIncorrectParam {
		return nil, fmt.Errorf("generate key in %s: %w", slot, ErrUnsupportedAlgorithm)
	}
	if sw != swSuccess {
		return nil, swError("generate key", sw)
	}
	return parseECPublicKey(alg, resp)
}

// Sign authenticates with the PIN and performs a raw signature over the
// caller-supplied digest with the slot key. The digest length must match
// the curve of the slot key; the card returns an ASN.1 DER encoded ECDSA
// signature. This is the only signing primitive in the system: X.509
// construction happens entirely above this boundary.
func (t *Token) Sign(slot Slot, pin string, digest []byte) ([]byte, error) {
	if t.state.Locked {
		return nil, fmt.Errorf("sign with %s: %w", slot, ErrTokenLocked)
	}
	if err := t.VerifyPIN(pin); err != nil {
		return nil, err
	}

	alg, err := t.slotAlgorithm(slot)
	if err != nil {
		return nil, err
	}

	inner := encodeTLV(tagResponse, nil)
	inner = append(inner, encodeTLV(tagChallenge, digest)...)

	resp, sw, err := t.transmit(apdu{
		ins:  insGeneralAuth,
		p1:   byte(alg),
		p2:   byte(slot),
		data: encodeTLV(tagDynAuth, inner),
	})
	if err != nil {
		return nil, err
	}
	if sw != swSuccess {
		return nil, swError("sign", sw)
	}
	sig, err := dynAuthValue(resp, tagResponse)
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// slotAlgorithm determines the algorithm of the key in a slot from its
// metadata.
func (t *Token) slotAlgorithm(slot Slot) (Algorithm, error) {
	md, err := t.SlotMetadata(slot)
	if err != nil {
		return 0, fmt.Errorf("sign with %s: no key metadata: %w", slot, err)
	}
	return md.Algorithm, nil
}
