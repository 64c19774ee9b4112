package main

import (
	"strings"
	"testing"

	"github.com/remiblancher/pivca/internal/piv"
	"github.com/remiblancher/pivca/internal/pivtest"
	"github.com/remiblancher/pivca/internal/provision"
)

// directToken opens a session on the emulated card outside the CLI so
// tests can inspect card state.
func directToken(t *testing.T, card *pivtest.Card) *piv.Token {
	t.Helper()
	token, err := piv.NewToken(persistentCard{card})
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	return token
}

func TestTokenProvisionCommand(t *testing.T) {
	card := pivtest.NewCard()
	stubToken(t, card)

	out, err := executeCommand(rootCmd, "token", "provision",
		"--role", "root", "--pin", "482913", "--puk", "rescue42", "--yes")
	if err != nil {
		t.Fatalf("token provision: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Token 12345678 provisioned as root authority") {
		t.Errorf("output missing provisioning summary with serial:\n%s", out)
	}
	if !strings.Contains(out, "Management key derived from PIN") {
		t.Errorf("output missing derivation notice:\n%s", out)
	}

	token := directToken(t, card)
	if err := token.VerifyPIN("482913"); err != nil {
		t.Errorf("new PIN rejected: %v", err)
	}
	meta, err := token.SlotMetadata(piv.SlotSignature)
	if err != nil {
		t.Fatalf("SlotMetadata: %v", err)
	}
	if meta.Algorithm != piv.AlgorithmECCP384 {
		t.Errorf("slot algorithm = %v, want ECC P-384", meta.Algorithm)
	}
	record, err := provision.ReadRecord(token)
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if record.Role != provision.RoleRoot {
		t.Errorf("record role = %q, want root", record.Role)
	}
}

func TestTokenProvisionRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad role", []string{"--role", "server", "--pin", "482913", "--puk", "rescue42"}},
		{"short pin", []string{"--role", "root", "--pin", "12345", "--puk", "rescue42"}},
		{"non-digit pin", []string{"--role", "root", "--pin", "abc123", "--puk", "rescue42"}},
		{"puk with punctuation", []string{"--role", "root", "--pin", "482913", "--puk", "bad!puk"}},
		{"bad management key", []string{"--role", "root", "--pin", "482913", "--puk", "rescue42", "--management-key", "zz"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := pivtest.NewCard()
			stubToken(t, card)

			args := append([]string{"token", "provision", "--yes"}, tt.args...)
			if _, err := executeCommand(rootCmd, args...); err == nil {
				t.Fatal("expected error, got nil")
			}

			// Validation failed before the card was touched.
			token := directToken(t, card)
			if err := token.VerifyPIN(pivtest.FactoryPIN); err != nil {
				t.Errorf("factory PIN no longer accepted: %v", err)
			}
		})
	}
}

func TestTokenProvisionConfirmationAborts(t *testing.T) {
	card := pivtest.NewCard()
	stubToken(t, card)

	_, err := executeCommandWithInput(rootCmd, "n\n", "token", "provision",
		"--role", "root", "--pin", "482913", "--puk", "rescue42")
	if err == nil || !strings.Contains(err.Error(), "aborted") {
		t.Fatalf("error = %v, want aborted", err)
	}

	token := directToken(t, card)
	if err := token.VerifyPIN(pivtest.FactoryPIN); err != nil {
		t.Errorf("factory PIN no longer accepted: %v", err)
	}
}

func TestTokenInfoFactory(t *testing.T) {
	card := pivtest.NewCard()
	stubToken(t, card)

	out, err := executeCommand(rootCmd, "token", "info")
	if err != nil {
		t.Fatalf("token info: %v", err)
	}
	if !strings.Contains(out, "factory") {
		t.Errorf("output missing factory state:\n%s", out)
	}
}

func TestTokenInfoProvisioned(t *testing.T) {
	card := pivtest.NewCard()
	stubToken(t, card)

	if _, err := executeCommand(rootCmd, "token", "provision",
		"--role", "intermediate", "--pin", "771133", "--puk", "22446688", "--yes"); err != nil {
		t.Fatalf("token provision: %v", err)
	}

	out, err := executeCommand(rootCmd, "token", "info")
	if err != nil {
		t.Fatalf("token info: %v", err)
	}
	for _, want := range []string{"provisioned", "intermediate", "Certificate:  none"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTokenInfoPEMDump(t *testing.T) {
	tc := newTestContext(t)
	card := pivtest.NewCard()
	stubToken(t, card)

	if _, err := executeCommand(rootCmd, "token", "provision",
		"--role", "root", "--pin", "482913", "--puk", "rescue42", "--yes"); err != nil {
		t.Fatalf("token provision: %v", err)
	}
	if _, err := executeCommand(rootCmd, "cert", "root",
		"--pin", "482913", "--out", tc.path("root.crt")); err != nil {
		t.Fatalf("cert root: %v", err)
	}

	out, err := executeCommand(rootCmd, "token", "info", "--pem")
	if err != nil {
		t.Fatalf("token info: %v", err)
	}
	if !strings.Contains(out, "-----BEGIN CERTIFICATE-----") {
		t.Errorf("output missing PEM block:\n%s", out)
	}
}

func TestTokenUnblockCommand(t *testing.T) {
	card := pivtest.NewCard()
	stubToken(t, card)

	if _, err := executeCommand(rootCmd, "token", "provision",
		"--role", "root", "--pin", "482913", "--puk", "rescue42", "--yes"); err != nil {
		t.Fatalf("token provision: %v", err)
	}

	// Burn through the PIN retries.
	token := directToken(t, card)
	for i := 0; i < 3; i++ {
		_ = token.VerifyPIN("999999")
	}
	if err := token.VerifyPIN("482913"); err == nil {
		t.Fatal("PIN still accepted after exhausting retries")
	}

	out, err := executeCommand(rootCmd, "token", "unblock",
		"--puk", "rescue42", "--new-pin", "135791")
	if err != nil {
		t.Fatalf("token unblock: %v\n%s", err, out)
	}

	token = directToken(t, card)
	if err := token.VerifyPIN("135791"); err != nil {
		t.Errorf("replacement PIN rejected: %v", err)
	}
}

func TestTokenUnblockRejectsBadNewPIN(t *testing.T) {
	card := pivtest.NewCard()
	stubToken(t, card)

	if _, err := executeCommand(rootCmd, "token", "unblock",
		"--puk", "rescue42", "--new-pin", "12"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestTokenResetCommand(t *testing.T) {
	card := pivtest.NewCard()
	stubToken(t, card)

	if _, err := executeCommand(rootCmd, "token", "provision",
		"--role", "root", "--pin", "482913", "--puk", "rescue42", "--yes"); err != nil {
		t.Fatalf("token provision: %v", err)
	}

	// Declining the prompt leaves the token alone.
	if _, err := executeCommandWithInput(rootCmd, "\n", "token", "reset"); err == nil ||
		!strings.Contains(err.Error(), "aborted") {
		t.Fatalf("error = %v, want aborted", err)
	}
	token := directToken(t, card)
	if err := token.VerifyPIN("482913"); err != nil {
		t.Fatalf("PIN rejected after aborted reset: %v", err)
	}

	out, err := executeCommand(rootCmd, "token", "reset", "--yes")
	if err != nil {
		t.Fatalf("token reset: %v\n%s", err, out)
	}
	token = directToken(t, card)
	if err := token.VerifyPIN(pivtest.FactoryPIN); err != nil {
		t.Errorf("factory PIN rejected after reset: %v", err)
	}
}
