package provision

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/remiblancher/pivca/internal/piv"
)

// The provisioning record lives in a vendor data object on the token,
// outside the standard PIV object identifiers, and is wiped together
// with everything else on reset. It holds no secrets: the derivation
// salt is public by definition.
const (
	recordObjectID = 0x5FFF00
	recordVersion  = 1
)

// Record is the on-token provisioning record.
type Record struct {
	Version int  `cbor:"1,keyasint"`
	Role    Role `cbor:"2,keyasint"`
	Slot    byte `cbor:"3,keyasint"`

	// Serial is the device serial the record was written on, a cheap
	// mismatch check if objects are ever cloned between tokens.
	Serial uint32 `cbor:"4,keyasint"`

	KeyGenerated   bool   `cbor:"5,keyasint"`
	DerivationSalt []byte `cbor:"6,keyasint,omitempty"`
}

// WriteRecord stores the record on the token. Requires prior management
// authentication.
func WriteRecord(token *piv.Token, record *Record) error {
	data, err := cbor.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding provisioning record: %w", err)
	}
	if err := token.WriteObject(recordObjectID, data); err != nil {
		return fmt.Errorf("writing provisioning record: %w", err)
	}
	return nil
}

// ReadRecord fetches and decodes the provisioning record. A factory or
// foreign token fails with piv.ErrNotFound.
func ReadRecord(token *piv.Token) (*Record, error) {
	data, err := token.ReadObject(recordObjectID)
	if err != nil {
		return nil, err
	}
	var record Record
	if err := cbor.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding provisioning record: %w", err)
	}
	if record.Version != recordVersion {
		return nil, fmt.Errorf("unsupported provisioning record version %d", record.Version)
	}
	return &record, nil
}
