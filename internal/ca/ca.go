// Package ca implements certificate issuance for the offline authority.
//
// Issuance is split in two layers. This file is pure X.509 construction
// over an abstract crypto.Signer: it never touches hardware and works
// identically with a software key or a token slot. The token workflows
// in token.go bind these operations to a PIV slot.
package ca

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/remiblancher/pivca/internal/x509util"
)

// IssueRoot creates a self-signed root CA certificate. The subject is
// used verbatim as both subject and issuer, the serial is fresh random,
// and the certificate carries no path length constraint.
func IssueRoot(signer crypto.Signer, subject x509util.Name, validity time.Duration) (*x509.Certificate, []byte, error) {
	now := time.Now()
	cert, der, err := x509util.CreateCertificate(x509util.Template{
		Subject:    subject,
		NotBefore:  now,
		NotAfter:   now.Add(validity),
		IsCA:       true,
		MaxPathLen: -1,
		KeyUsage:   x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}, nil, signer.Public(), signer)
	if err != nil {
		return nil, nil, fmt.Errorf("issue root: %w", err)
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		return nil, nil, fmt.Errorf("issue root: self-signature does not verify: %w", err)
	}
	return cert, der, nil
}

// Issuer is a CA able to sign certificate requests: its own certificate
// plus a signer for the matching private key.
type Issuer struct {
	Certificate *x509.Certificate
	Signer      crypto.Signer
}

// IssueIntermediate signs a subordinate CA certificate from a request.
// The subject is the requested name — the request's own when requested
// is empty — completed with the issuer's attributes (requested wins, see
// x509util.Merge) and every requested extension is carried over
// verbatim. The intermediate is constrained to sign end-entity
// certificates only (path length zero).
func (i *Issuer) IssueIntermediate(csr *x509.CertificateRequest, requested x509util.Name, validity time.Duration) (*x509.Certificate, []byte, error) {
	return i.issue(csr, requested, x509util.Template{
		NotBefore:  time.Now(),
		NotAfter:   time.Now().Add(validity),
		IsCA:       true,
		MaxPathLen: 0,
		KeyUsage:   x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	})
}

// IssueLeaf signs an end-entity certificate from a request. Beyond the
// subject merge, the CA adds nothing of its own: key usages and every
// other extension come from the request, verbatim. A non-empty requested
// name replaces the request's subject before the merge.
func (i *Issuer) IssueLeaf(csr *x509.CertificateRequest, requested x509util.Name, validity time.Duration) (*x509.Certificate, []byte, error) {
	return i.issue(csr, requested, x509util.Template{
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(validity),
	})
}

func (i *Issuer) issue(csr *x509.CertificateRequest, requested x509util.Name, tmpl x509util.Template) (*x509.Certificate, []byte, error) {
	if err := csr.CheckSignature(); err != nil {
		return nil, nil, fmt.Errorf("%w: proof-of-possession signature invalid: %v", x509util.ErrMalformedRequest, err)
	}

	if requested.IsEmpty() {
		var err error
		requested, err = x509util.NameFromCSR(csr)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", x509util.ErrMalformedRequest, err)
		}
	}
	issuerName, err := x509util.NameFromCert(i.Certificate)
	if err != nil {
		return nil, nil, fmt.Errorf("issuer certificate subject: %w", err)
	}
	tmpl.Subject = x509util.Merge(requested, issuerName)
	tmpl.ExtraExtensions = csr.Extensions

	cert, der, err := x509util.CreateCertificate(tmpl, i.Certificate, csr.PublicKey, i.Signer)
	if err != nil {
		return nil, nil, err
	}
	if err := cert.CheckSignatureFrom(i.Certificate); err != nil {
		return nil, nil, fmt.Errorf("issued certificate does not chain to issuer: %w", err)
	}
	return cert, der, nil
}

// CreateCSR builds a certificate request for the signer's key with the
// given subject. Attribute order is preserved in the encoded request.
func CreateCSR(signer crypto.Signer, subject x509util.Name) ([]byte, error) {
	rawSubject, err := subject.MarshalDER()
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		RawSubject:         rawSubject,
		SignatureAlgorithm: x509util.SignatureAlgorithm,
	}, signer)
	if err != nil {
		return nil, fmt.Errorf("creating certificate request: %w", err)
	}
	return der, nil
}
