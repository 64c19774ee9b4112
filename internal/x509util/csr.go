package x509util

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrMalformedRequest is returned when a certificate request cannot be
// decoded or fails its proof-of-possession check.
var ErrMalformedRequest = errors.New("x509util: malformed certificate request")

const (
	pemTypeCSR    = "CERTIFICATE REQUEST"
	pemTypeCSROld = "NEW CERTIFICATE REQUEST"
)

// ParseCSR decodes a certificate request from PEM or raw DER and
// verifies the self-signature, proving the requester holds the private
// key. Nothing else about the request is judged here: the subject, the
// subject key type and every requested extension pass through to
// issuance verbatim. The fixed ECDSA P-384 policy governs the CA's own
// keys, not the requester's.
func ParseCSR(data []byte) (*x509.CertificateRequest, error) {
	der := data
	if block, _ := pem.Decode(data); block != nil {
		if block.Type != pemTypeCSR && block.Type != pemTypeCSROld {
			return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrMalformedRequest, block.Type)
		}
		der = block.Bytes
	}

	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: proof-of-possession signature invalid: %v", ErrMalformedRequest, err)
	}
	return csr, nil
}

// EncodeCSRPEM renders a DER certificate request as PEM.
func EncodeCSRPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeCSR, Bytes: der})
}
