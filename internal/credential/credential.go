// Package credential validates and derives the three administrative
// secrets gating a PIV token: PIN, PUK and management key.
//
// Validation happens before any destructive card command is issued, so a
// format mistake can never leave a token half-provisioned. Secrets are
// held in memory only; nothing in this package logs or persists them.
package credential

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidFormat is returned when a secret violates the token firmware
// constraints (length, charset).
var ErrInvalidFormat = errors.New("credential: invalid format")

// ManagementKeySize is the operator management key length in bytes
// (AES-256).
const ManagementKeySize = 32

var (
	pinPattern = regexp.MustCompile(`^[0-9]{6,8}$`)
	pukPattern = regexp.MustCompile(`^[a-zA-Z0-9]{6,8}$`)
)

// ValidatePIN checks the PIN against firmware constraints: 6 to 8 digits.
func ValidatePIN(pin string) error {
	if !pinPattern.MatchString(pin) {
		return fmt.Errorf("%w: PIN must be a 6 to 8 digit numeric string", ErrInvalidFormat)
	}
	return nil
}

// ValidatePUK checks the PUK against firmware constraints: 6 to 8
// alphanumeric characters.
func ValidatePUK(puk string) error {
	if !pukPattern.MatchString(puk) {
		return fmt.Errorf("%w: PUK must be a 6 to 8 character alphanumeric string", ErrInvalidFormat)
	}
	return nil
}

// ParseManagementKey decodes a hex-encoded AES-256 management key.
func ParseManagementKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: management key must be hexadecimal: %v", ErrInvalidFormat, err)
	}
	if len(key) != ManagementKeySize {
		return nil, fmt.Errorf("%w: management key must be exactly %d bytes (%d hex digits), got %d bytes",
			ErrInvalidFormat, ManagementKeySize, ManagementKeySize*2, len(key))
	}
	return key, nil
}

// RandomManagementKey generates a fresh AES-256 management key.
func RandomManagementKey() ([]byte, error) {
	key := make([]byte, ManagementKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("credential: generating management key: %w", err)
	}
	return key, nil
}

// Credentials bundles the three administrative secrets for provisioning.
type Credentials struct {
	PIN           string
	PUK           string
	ManagementKey []byte
}

// Validate checks every secret before anything touches the token.
func (c Credentials) Validate() error {
	if err := ValidatePIN(c.PIN); err != nil {
		return err
	}
	if err := ValidatePUK(c.PUK); err != nil {
		return err
	}
	if len(c.ManagementKey) != ManagementKeySize {
		return fmt.Errorf("%w: management key must be exactly %d bytes", ErrInvalidFormat, ManagementKeySize)
	}
	return nil
}
