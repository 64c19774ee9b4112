package x509util

import (
	"crypto"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"
)

// SignatureAlgorithm is the only signature algorithm this CA emits.
// The issuance policy is fixed: ECDSA over P-384 with SHA-384.
const SignatureAlgorithm = x509.ECDSAWithSHA384

// Template holds the parameters for building one certificate. Unlike
// x509.Certificate it carries an ordered Name, so attribute order
// survives into the encoded subject.
type Template struct {
	Subject   Name
	NotBefore time.Time
	NotAfter  time.Time

	// CA settings. MaxPathLen < 0 means no length constraint.
	IsCA       bool
	MaxPathLen int

	KeyUsage    x509.KeyUsage
	ExtKeyUsage []x509.ExtKeyUsage

	// ExtraExtensions are copied into the certificate verbatim.
	ExtraExtensions []pkix.Extension
}

// build converts the template to an x509.Certificate with a fresh
// serial number and the subject key identifier derived from pub.
func (t Template) build(pub crypto.PublicKey) (*x509.Certificate, error) {
	if t.Subject.IsEmpty() {
		return nil, fmt.Errorf("certificate subject is empty")
	}
	if !t.NotAfter.After(t.NotBefore) {
		return nil, fmt.Errorf("certificate validity is empty: notAfter %s is not after notBefore %s",
			t.NotAfter.Format(time.RFC3339), t.NotBefore.Format(time.RFC3339))
	}

	serial, err := NewSerialNumber()
	if err != nil {
		return nil, err
	}
	rawSubject, err := t.Subject.MarshalDER()
	if err != nil {
		return nil, err
	}
	ski, err := SubjectKeyID(pub)
	if err != nil {
		return nil, err
	}

	cert := &x509.Certificate{
		SerialNumber:       serial,
		RawSubject:         rawSubject,
		NotBefore:          t.NotBefore,
		NotAfter:           t.NotAfter,
		SignatureAlgorithm: SignatureAlgorithm,
		KeyUsage:           t.KeyUsage,
		ExtKeyUsage:        t.ExtKeyUsage,
		SubjectKeyId:       ski,
		ExtraExtensions:    t.ExtraExtensions,
	}
	if t.IsCA {
		cert.IsCA = true
		cert.BasicConstraintsValid = true
		if t.MaxPathLen >= 0 {
			cert.MaxPathLen = t.MaxPathLen
			cert.MaxPathLenZero = t.MaxPathLen == 0
		} else {
			cert.MaxPathLen = -1
		}
	}
	return cert, nil
}

// CreateCertificate builds the template and signs it with issuerKey.
// A nil issuer produces a self-signed certificate. The signing key never
// leaves issuerKey: a hardware-backed crypto.Signer works the same as a
// software one.
func CreateCertificate(t Template, issuer *x509.Certificate, pub crypto.PublicKey, issuerKey crypto.Signer) (*x509.Certificate, []byte, error) {
	template, err := t.build(pub)
	if err != nil {
		return nil, nil, err
	}
	if issuer == nil {
		issuer = template
	}

	der, err := x509.CreateCertificate(rand.Reader, template, issuer, pub, issuerKey)
	if err != nil {
		return nil, nil, fmt.Errorf("creating certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing created certificate: %w", err)
	}
	return cert, der, nil
}

// SubjectKeyID computes a subject key identifier as the truncated
// SHA-256 hash of the PKIX-encoded public key.
func SubjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	sum := sha256.Sum256(spki)
	return sum[:20], nil
}
