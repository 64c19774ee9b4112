package x509util

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// SerialBits is the entropy of generated certificate serial numbers.
// CA/Browser Forum requires at least 64 bits of CSPRNG output; 160 bits
// keeps serials unpredictable without exceeding the 20-octet encoding
// limit of RFC 5280.
const SerialBits = 160

var serialLimit = new(big.Int).Lsh(big.NewInt(1), SerialBits)

// NewSerialNumber returns a fresh random serial number in [1, 2^160).
func NewSerialNumber() (*big.Int, error) {
	for {
		serial, err := rand.Int(rand.Reader, serialLimit)
		if err != nil {
			return nil, fmt.Errorf("generating serial number: %w", err)
		}
		// DER INTEGER zero would be a degenerate serial.
		if serial.Sign() > 0 {
			return serial, nil
		}
	}
}
