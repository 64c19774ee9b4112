// Package cli holds small helpers shared by the command implementations.
package cli

import (
	"crypto/x509"
	"fmt"
	"io"
	"os"

	"github.com/remiblancher/pivca/internal/x509util"
)

// LoadCertFromPath loads a certificate from a PEM or DER file.
func LoadCertFromPath(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	return x509util.ParseCertificate(data)
}

// SaveCertToPath saves a certificate to a PEM file.
func SaveCertToPath(path string, cert *x509.Certificate) error {
	return writeFile(path, x509util.EncodeCertificatePEM(cert.Raw))
}

// WriteCertPEM writes a certificate as PEM to a writer.
func WriteCertPEM(w io.Writer, cert *x509.Certificate) error {
	_, err := w.Write(x509util.EncodeCertificatePEM(cert.Raw))
	return err
}

// LoadCSRFromPath loads and validates a certificate request from a PEM
// or DER file.
func LoadCSRFromPath(path string) (*x509.CertificateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CSR file: %w", err)
	}
	return x509util.ParseCSR(data)
}

// SaveCSRToPath saves a DER certificate request to a PEM file.
func SaveCSRToPath(path string, der []byte) error {
	return writeFile(path, x509util.EncodeCSRPEM(der))
}

func writeFile(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
