// Package provision turns a factory-state token into a CA token: full
// reset, operator credentials, hardware key generation and the on-token
// provisioning record.
//
// The whole sequence is destructive by construction (it begins with a
// reset that wipes every key), so callers confirm intent before invoking
// it. Secrets pass through in memory only.
package provision

import (
	"errors"
	"fmt"

	"github.com/remiblancher/pivca/internal/credential"
	"github.com/remiblancher/pivca/internal/piv"
)

// Role describes what the provisioned token is for.
type Role string

const (
	// RoleRoot holds the self-signed trust anchor key.
	RoleRoot Role = "root"

	// RoleIntermediate holds a subordinate CA key certified by a root.
	RoleIntermediate Role = "intermediate"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleRoot || r == RoleIntermediate
}

// Options configures a provisioning run.
type Options struct {
	Role Role

	// PIN and PUK become the operator credentials after the reset.
	PIN string
	PUK string

	// ManagementKey is the AES-256 management key to install. Leave nil
	// to derive one from the PIN; the derivation salt is kept in the
	// provisioning record so the key never needs transcribing.
	ManagementKey []byte

	// GenerateKey creates the CA key pair in the signature slot as part
	// of provisioning.
	GenerateKey bool
}

// Result reports what a provisioning run established.
type Result struct {
	Record *Record

	// ManagementKey is the installed key, returned so a caller that let
	// it be derived can continue administering the token in the same
	// session.
	ManagementKey []byte
}

// Provision resets the token and installs the operator credentials, the
// CA key and the provisioning record. A token that refuses the reset
// (or that already carries a provisioning record) fails with
// piv.ErrAlreadyProvisioned; there is no partial re-provisioning.
func Provision(token *piv.Token, opts Options) (*Result, error) {
	if !opts.Role.Valid() {
		return nil, fmt.Errorf("provision: unknown role %q", opts.Role)
	}
	if err := credential.ValidatePIN(opts.PIN); err != nil {
		return nil, err
	}
	if err := credential.ValidatePUK(opts.PUK); err != nil {
		return nil, err
	}

	var salt []byte
	key := opts.ManagementKey
	if key == nil {
		var err error
		salt, err = credential.NewSalt()
		if err != nil {
			return nil, err
		}
		key, err = credential.DeriveManagementKey(opts.PIN, salt)
		if err != nil {
			return nil, err
		}
	} else if len(key) != credential.ManagementKeySize {
		return nil, fmt.Errorf("%w: management key must be %d bytes", credential.ErrInvalidFormat, credential.ManagementKeySize)
	}

	if _, err := ReadRecord(token); err == nil {
		return nil, fmt.Errorf("provision: token carries a provisioning record: %w", piv.ErrAlreadyProvisioned)
	} else if !errors.Is(err, piv.ErrNotFound) {
		return nil, err
	}

	if err := token.Reset(); err != nil {
		return nil, err
	}
	if err := token.SetCredentials(opts.PIN, opts.PUK, piv.ManagementKeyAES256, key); err != nil {
		return nil, err
	}
	if err := token.AuthenticateManagement(piv.ManagementKeyAES256, key); err != nil {
		return nil, err
	}

	if opts.GenerateKey {
		// The slot is empty after the reset; overwrite is still refused.
		if _, err := token.GenerateKey(piv.SlotSignature, piv.AlgorithmECCP384, false); err != nil {
			return nil, err
		}
	}

	serial, err := token.Serial()
	if err != nil {
		return nil, err
	}
	record := &Record{
		Version:        recordVersion,
		Role:           opts.Role,
		Slot:           byte(piv.SlotSignature),
		Serial:         serial,
		KeyGenerated:   opts.GenerateKey,
		DerivationSalt: salt,
	}
	if err := WriteRecord(token, record); err != nil {
		return nil, err
	}
	return &Result{Record: record, ManagementKey: key}, nil
}

// ManagementKey recovers the management key for a provisioned token. A
// token provisioned with a derived key needs only the PIN; otherwise the
// explicit key must be supplied by the operator.
func ManagementKey(record *Record, pin string, explicit []byte) ([]byte, error) {
	if explicit != nil {
		if len(explicit) != credential.ManagementKeySize {
			return nil, fmt.Errorf("%w: management key must be %d bytes", credential.ErrInvalidFormat, credential.ManagementKeySize)
		}
		return explicit, nil
	}
	if len(record.DerivationSalt) == 0 {
		return nil, fmt.Errorf("provision: token was provisioned with an explicit management key, none supplied")
	}
	return credential.DeriveManagementKey(pin, record.DerivationSalt)
}
