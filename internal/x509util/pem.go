package x509util

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

const pemTypeCertificate = "CERTIFICATE"

// EncodeCertificatePEM renders a DER certificate as PEM.
func EncodeCertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCertificate, Bytes: der})
}

// ParseCertificate decodes a certificate from PEM or raw DER.
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != pemTypeCertificate {
			return nil, fmt.Errorf("unexpected PEM type %q, want %s", block.Type, pemTypeCertificate)
		}
		der = block.Bytes
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}
	return cert, nil
}
