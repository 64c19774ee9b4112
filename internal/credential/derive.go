package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// PIN-protected management key derivation. Instead of asking the operator
// to transcribe 64 hex digits, the management key can be derived from the
// PIN and a random salt stored in the token's provisioning record. The
// salt is public; the PIN is not, and never leaves memory.
const (
	// SaltSize is the derivation salt length in bytes.
	SaltSize = 16

	deriveIterations = 10000
)

// NewSalt generates a fresh derivation salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("credential: generating salt: %w", err)
	}
	return salt, nil
}

// DeriveManagementKey derives the AES-256 management key from the PIN and
// the salt recorded at provisioning time.
func DeriveManagementKey(pin string, salt []byte) ([]byte, error) {
	if err := ValidatePIN(pin); err != nil {
		return nil, err
	}
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: derivation salt must be %d bytes, got %d", ErrInvalidFormat, SaltSize, len(salt))
	}
	return pbkdf2.Key([]byte(pin), salt, deriveIterations, ManagementKeySize, sha256.New), nil
}
