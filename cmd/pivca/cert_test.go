package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/remiblancher/pivca/internal/cli"
	"github.com/remiblancher/pivca/internal/piv"
	"github.com/remiblancher/pivca/internal/pivtest"
	"github.com/remiblancher/pivca/internal/x509util"
)

// provisionRoot runs the provisioning command against the stubbed card.
func provisionRoot(t *testing.T, role, pin, puk string) {
	t.Helper()
	out, err := executeCommand(rootCmd, "token", "provision",
		"--role", role, "--pin", pin, "--puk", puk, "--yes")
	if err != nil {
		t.Fatalf("token provision: %v\n%s", err, out)
	}
}

func subjectOf(t *testing.T, cert *x509.Certificate) string {
	t.Helper()
	name, err := x509util.NameFromCert(cert)
	if err != nil {
		t.Fatalf("NameFromCert: %v", err)
	}
	return name.String()
}

func TestCertRootCommand(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)
	provisionRoot(t, "root", "482913", "rescue42")

	certPath := tc.path("root.crt")
	out, err := executeCommand(rootCmd, "cert", "root",
		"--subject", "CN=Root CA,O=ACME,C=FR", "--pin", "482913", "--out", certPath)
	if err != nil {
		t.Fatalf("cert root: %v\n%s", err, out)
	}
	if !strings.Contains(out, "CN=Root CA,O=ACME,C=FR") {
		t.Errorf("output missing subject:\n%s", out)
	}

	cert, err := cli.LoadCertFromPath(certPath)
	if err != nil {
		t.Fatalf("LoadCertFromPath: %v", err)
	}
	if got := subjectOf(t, cert); got != "CN=Root CA,O=ACME,C=FR" {
		t.Errorf("subject = %q", got)
	}
	if !cert.IsCA {
		t.Error("root certificate is not a CA")
	}
	if err := cert.CheckSignatureFrom(cert); err != nil {
		t.Errorf("self-signature check: %v", err)
	}

	// The same certificate must be on the token.
	token := directToken(t, card)
	stored, err := token.Certificate(piv.SlotSignature)
	if err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	if !bytes.Equal(stored.Raw, cert.Raw) {
		t.Error("stored certificate differs from the written file")
	}
}

func TestCertRootProfileCompletesSubject(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)
	provisionRoot(t, "root", "482913", "rescue42")

	profilePath := tc.writeFile("profile.yaml", []byte("subject: \"O=ACME,C=FR\"\nvalidity:\n  root: 10y\n"))
	certPath := tc.path("root.crt")
	if _, err := executeCommand(rootCmd, "cert", "root",
		"--subject", "CN=Root CA", "--profile", profilePath,
		"--pin", "482913", "--out", certPath); err != nil {
		t.Fatalf("cert root: %v", err)
	}

	cert, err := cli.LoadCertFromPath(certPath)
	if err != nil {
		t.Fatalf("LoadCertFromPath: %v", err)
	}
	if got := subjectOf(t, cert); got != "CN=Root CA,O=ACME,C=FR" {
		t.Errorf("subject = %q, want profile-completed name", got)
	}
	wantNotAfter := cert.NotBefore.Add(10 * 365 * 24 * time.Hour)
	if !cert.NotAfter.Equal(wantNotAfter) {
		t.Errorf("NotAfter = %s, want %s", cert.NotAfter, wantNotAfter)
	}
}

func TestCertRootInvalidSubjectFailsBeforeCard(t *testing.T) {
	called := false
	old := openToken
	openToken = func() (*piv.Token, error) {
		called = true
		return nil, fmt.Errorf("no token attached")
	}
	t.Cleanup(func() { openToken = old })

	_, err := executeCommand(rootCmd, "cert", "root",
		"--subject", "XX=nope", "--pin", "482913", "--out", "unused.crt")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if called {
		t.Error("card opened despite invalid subject")
	}
}

// TestCertChainAcrossTokens walks the full ceremony: root token issues
// its own certificate, the intermediate token requests one, the root
// signs it, the intermediate stores it.
func TestCertChainAcrossTokens(t *testing.T) {
	tc := newTestContext(t)
	rootCard := pivtest.NewCard()
	subCard := pivtest.NewCard()

	current := rootCard
	old := openToken
	openToken = func() (*piv.Token, error) {
		return piv.NewToken(persistentCard{current})
	}
	t.Cleanup(func() { openToken = old })

	provisionRoot(t, "root", "482913", "rescue42")
	current = subCard
	provisionRoot(t, "intermediate", "771133", "22446688")

	current = rootCard
	rootPath := tc.path("root.crt")
	if _, err := executeCommand(rootCmd, "cert", "root",
		"--subject", "CN=Root CA,O=ACME,C=FR", "--pin", "482913", "--out", rootPath); err != nil {
		t.Fatalf("cert root: %v", err)
	}

	current = subCard
	csrPath := tc.path("sub.csr")
	if _, err := executeCommand(rootCmd, "cert", "csr",
		"--subject", "CN=Intermediate CA", "--pin", "771133", "--out", csrPath); err != nil {
		t.Fatalf("cert csr: %v", err)
	}

	current = rootCard
	subPath := tc.path("sub.crt")
	out, err := executeCommand(rootCmd, "cert", "sign",
		"--type", "intermediate", "--csr", csrPath, "--pin", "482913", "--out", subPath)
	if err != nil {
		t.Fatalf("cert sign: %v\n%s", err, out)
	}

	rootCert, err := cli.LoadCertFromPath(rootPath)
	if err != nil {
		t.Fatalf("LoadCertFromPath: %v", err)
	}
	subCert, err := cli.LoadCertFromPath(subPath)
	if err != nil {
		t.Fatalf("LoadCertFromPath: %v", err)
	}
	if got := subjectOf(t, subCert); got != "CN=Intermediate CA,O=ACME,C=FR" {
		t.Errorf("intermediate subject = %q, want issuer-completed name", got)
	}
	if !subCert.IsCA || !subCert.MaxPathLenZero {
		t.Error("intermediate lacks CA basic constraints with pathlen 0")
	}
	if err := subCert.CheckSignatureFrom(rootCert); err != nil {
		t.Errorf("chain signature check: %v", err)
	}

	current = subCard
	if _, err := executeCommand(rootCmd, "cert", "store",
		"--cert", subPath, "--pin", "771133"); err != nil {
		t.Fatalf("cert store: %v", err)
	}
	token := directToken(t, subCard)
	stored, err := token.Certificate(piv.SlotSignature)
	if err != nil {
		t.Fatalf("Certificate: %v", err)
	}
	if !bytes.Equal(stored.Raw, subCert.Raw) {
		t.Error("stored certificate differs from the signed one")
	}

	// The intermediate token signs leaves but never other intermediates.
	leafCSR, _ := newLeafCSR(t, tc)
	leafPath := tc.path("device.crt")
	if _, err := executeCommand(rootCmd, "cert", "sign",
		"--type", "leaf", "--csr", leafCSR, "--pin", "771133", "--out", leafPath); err != nil {
		t.Fatalf("cert sign leaf by intermediate: %v", err)
	}
	leaf, err := cli.LoadCertFromPath(leafPath)
	if err != nil {
		t.Fatalf("LoadCertFromPath: %v", err)
	}
	if err := leaf.CheckSignatureFrom(subCert); err != nil {
		t.Errorf("leaf signature check: %v", err)
	}

	_, err = executeCommand(rootCmd, "cert", "sign",
		"--type", "intermediate", "--csr", csrPath, "--pin", "771133", "--out", tc.path("bad.crt"))
	if err == nil || !strings.Contains(err.Error(), "root") {
		t.Errorf("error = %v, want refusal to sign intermediate without a root token", err)
	}
}

func TestCertRootDefaultSubject(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)
	provisionRoot(t, "root", "482913", "rescue42")

	certPath := tc.path("root.crt")
	if _, err := executeCommand(rootCmd, "cert", "root",
		"--pin", "482913", "--out", certPath); err != nil {
		t.Fatalf("cert root: %v", err)
	}
	cert, err := cli.LoadCertFromPath(certPath)
	if err != nil {
		t.Fatalf("LoadCertFromPath: %v", err)
	}
	if got := subjectOf(t, cert); got != "CN=Root CA" {
		t.Errorf("subject = %q, want default CN=Root CA", got)
	}
}

// newLeafCSR builds a software-keyed request carrying a SAN and a
// critical private extension.
func newLeafCSR(t *testing.T, tc *testContext) (path string, want []pkix.Extension) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	dns := []byte("device-01.acme.example")
	san := append([]byte{0x82, byte(len(dns))}, dns...)
	san = append([]byte{0x30, byte(len(san))}, san...)
	want = []pkix.Extension{
		{Id: asn1.ObjectIdentifier{2, 5, 29, 17}, Value: san},
		{Id: asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 7}, Critical: true, Value: []byte{0x04, 0x02, 0xca, 0xfe}},
	}

	subject, err := x509util.ParseName("CN=device-01,O=Edge")
	if err != nil {
		t.Fatalf("ParseName: %v", err)
	}
	raw, err := subject.MarshalDER()
	if err != nil {
		t.Fatalf("MarshalDER: %v", err)
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		RawSubject:         raw,
		SignatureAlgorithm: x509.ECDSAWithSHA384,
		ExtraExtensions:    want,
	}, key)
	if err != nil {
		t.Fatalf("CreateCertificateRequest: %v", err)
	}
	return tc.writeFile("device.csr", x509util.EncodeCSRPEM(der)), want
}

func TestCertSignLeafCopiesExtensions(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)
	provisionRoot(t, "root", "482913", "rescue42")
	if _, err := executeCommand(rootCmd, "cert", "root",
		"--subject", "CN=Root CA,O=ACME,C=FR", "--pin", "482913",
		"--out", tc.path("root.crt")); err != nil {
		t.Fatalf("cert root: %v", err)
	}

	csrPath, want := newLeafCSR(t, tc)
	leafPath := tc.path("device.crt")
	if _, err := executeCommand(rootCmd, "cert", "sign",
		"--type", "leaf", "--csr", csrPath, "--validity", "90d",
		"--pin", "482913", "--out", leafPath); err != nil {
		t.Fatalf("cert sign: %v", err)
	}

	leaf, err := cli.LoadCertFromPath(leafPath)
	if err != nil {
		t.Fatalf("LoadCertFromPath: %v", err)
	}
	if leaf.IsCA {
		t.Error("leaf certificate marked as CA")
	}
	if got := subjectOf(t, leaf); got != "CN=device-01,O=Edge,C=FR" {
		t.Errorf("leaf subject = %q", got)
	}
	wantNotAfter := leaf.NotBefore.Add(90 * 24 * time.Hour)
	if !leaf.NotAfter.Equal(wantNotAfter) {
		t.Errorf("NotAfter = %s, want %s", leaf.NotAfter, wantNotAfter)
	}

	for _, w := range want {
		found := false
		for _, ext := range leaf.Extensions {
			if !ext.Id.Equal(w.Id) {
				continue
			}
			found = true
			if !bytes.Equal(ext.Value, w.Value) {
				t.Errorf("extension %v value altered", w.Id)
			}
			if ext.Critical != w.Critical {
				t.Errorf("extension %v critical = %v, want %v", w.Id, ext.Critical, w.Critical)
			}
		}
		if !found {
			t.Errorf("extension %v missing from certificate", w.Id)
		}
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "device-01.acme.example" {
		t.Errorf("DNSNames = %v", leaf.DNSNames)
	}
}

func TestCertSignSubjectOverride(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)
	provisionRoot(t, "root", "482913", "rescue42")
	if _, err := executeCommand(rootCmd, "cert", "root",
		"--subject", "CN=Root CA,O=ACME,C=FR", "--pin", "482913",
		"--out", tc.path("root.crt")); err != nil {
		t.Fatalf("cert root: %v", err)
	}

	csrPath, _ := newLeafCSR(t, tc)
	leafPath := tc.path("device.crt")
	if _, err := executeCommand(rootCmd, "cert", "sign",
		"--type", "leaf", "--csr", csrPath, "--subject", "CN=gw-07,OU=Edge",
		"--pin", "482913", "--out", leafPath); err != nil {
		t.Fatalf("cert sign: %v", err)
	}

	leaf, err := cli.LoadCertFromPath(leafPath)
	if err != nil {
		t.Fatalf("LoadCertFromPath: %v", err)
	}
	// The override replaces the CSR's subject, then merges with the
	// issuer; the CSR's own O=Edge is discarded.
	if got := subjectOf(t, leaf); got != "CN=gw-07,OU=Edge,O=ACME,C=FR" {
		t.Errorf("subject = %q, want CN=gw-07,OU=Edge,O=ACME,C=FR", got)
	}
}

func TestCertSignRejectsBadArguments(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)
	provisionRoot(t, "root", "482913", "rescue42")
	if _, err := executeCommand(rootCmd, "cert", "root",
		"--subject", "CN=Root CA", "--pin", "482913",
		"--out", tc.path("root.crt")); err != nil {
		t.Fatalf("cert root: %v", err)
	}
	csrPath, _ := newLeafCSR(t, tc)
	garbagePath := tc.writeFile("garbage.csr", []byte("not a certificate request"))

	tests := []struct {
		name string
		args []string
	}{
		{"bad type", []string{"--type", "server", "--csr", csrPath}},
		{"bad validity", []string{"--type", "leaf", "--csr", csrPath, "--validity", "soon"}},
		{"negative validity", []string{"--type", "leaf", "--csr", csrPath, "--validity", "-24h"}},
		{"missing csr file", []string{"--type", "leaf", "--csr", tc.path("absent.csr")}},
		{"malformed csr", []string{"--type", "leaf", "--csr", garbagePath}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"cert", "sign", "--pin", "482913", "--out", tc.path("out.crt")}, tt.args...)
			if _, err := executeCommand(rootCmd, args...); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestCertSignMalformedCSRError(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)
	garbagePath := tc.writeFile("garbage.csr", []byte("not a certificate request"))

	_, err := executeCommand(rootCmd, "cert", "sign",
		"--type", "leaf", "--csr", garbagePath, "--pin", "482913",
		"--out", tc.path("out.crt"))
	if !errors.Is(err, x509util.ErrMalformedRequest) {
		t.Errorf("error = %v, want ErrMalformedRequest", err)
	}
}

func TestCertCSRRequiresProvisionedKey(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)
	provisionRoot(t, "root", "482913", "rescue42")

	// Wipe the slot by resetting, then ask for a CSR.
	if _, err := executeCommand(rootCmd, "token", "reset", "--yes"); err != nil {
		t.Fatalf("token reset: %v", err)
	}
	_, err := executeCommand(rootCmd, "cert", "csr",
		"--subject", "CN=Intermediate CA", "--pin", "123456", "--out", tc.path("sub.csr"))
	if !errors.Is(err, piv.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
