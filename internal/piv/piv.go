// Package piv speaks the PIV card application protocol (NIST SP 800-73-4)
// over a raw smart-card channel.
//
// This is the only package that touches hardware I/O. It knows nothing about
// X.509 semantics: signing is always "sign this digest with that slot", and
// certificates are opaque objects stored next to a key for later retrieval.
// All session state (retry counters, provisioned/locked status) lives in an
// explicit TokenState value owned by the Token, never in globals.
package piv

import "errors"

// Sentinel errors for the hardware boundary. Workflows match on these with
// errors.Is to decide how to surface a failure to the operator.
var (
	// ErrTokenCommunication is returned when the device is unreachable or
	// the transport fails mid-exchange. Transient; the operator may retry,
	// the package never retries on its own.
	ErrTokenCommunication = errors.New("piv: token communication failed")

	// ErrAlreadyProvisioned is returned when the token refuses a reset by
	// policy. Destructive intent is confirmed out-of-band by the operator;
	// this package assumes the caller already obtained it.
	ErrAlreadyProvisioned = errors.New("piv: reset refused by token policy")

	// ErrAuthentication is returned on a wrong PIN or management key.
	// Each wrong PIN decrements the retry counter on the card.
	ErrAuthentication = errors.New("piv: authentication failed")

	// ErrTokenLocked is returned once PIN retries are exhausted. Terminal
	// until Unblock (PUK) or Reset.
	ErrTokenLocked = errors.New("piv: token locked")

	// ErrSlotOccupied is returned when key generation would overwrite an
	// existing slot key without explicit overwrite intent.
	ErrSlotOccupied = errors.New("piv: slot already contains a key")

	// ErrUnsupportedAlgorithm is returned when the token cannot generate
	// the requested key type.
	ErrUnsupportedAlgorithm = errors.New("piv: unsupported algorithm")

	// ErrNotFound is returned when a requested data object (certificate,
	// slot metadata) does not exist on the token.
	ErrNotFound = errors.New("piv: object not found")

	// ErrNoToken is returned when no card is attached.
	ErrNoToken = errors.New("piv: no token found")

	// ErrTooManyTokens is returned when more than one card is attached and
	// the operation requires exactly one.
	ErrTooManyTokens = errors.New("piv: more than one token found")
)

// Transport is a raw APDU channel to one card. Implementations are
// exclusive-access and blocking; there is exactly one command in flight.
type Transport interface {
	// Transmit sends a command APDU and returns the full response,
	// including the trailing status word.
	Transmit(command []byte) ([]byte, error)

	// Close releases the channel.
	Close() error
}

// TokenState is the administrative state of a card as last observed.
// It is a value, passed and returned explicitly, so workflows can react to
// transitions (for example route to the unblock flow when Locked flips).
type TokenState struct {
	// PINRetries is the number of PIN attempts remaining. Negative when
	// not yet observed.
	PINRetries int

	// PUKRetries is the number of PUK attempts remaining. Negative when
	// not yet observed.
	PUKRetries int

	// Locked reports that the PIN is blocked and signing is impossible
	// until a PUK unblock or a full reset.
	Locked bool
}

// DefaultPIN, DefaultPUK and DefaultManagementKey are the factory
// credentials defined by the PIV specification. They are only ever used
// immediately after a reset, to bootstrap the operator's own credentials.
const (
	DefaultPIN = "123456"
	DefaultPUK = "12345678"
)

// DefaultManagementKey is the factory 3DES management key
// (01 02 03 04 05 06 07 08, three times).
var DefaultManagementKey = []byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
}
