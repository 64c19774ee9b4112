package credential

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestValidatePIN(t *testing.T) {
	tests := []struct {
		name    string
		pin     string
		wantErr bool
	}{
		{"six digits", "123456", false},
		{"eight digits", "12345678", false},
		{"seven digits", "1234567", false},
		{"too short", "12345", true},
		{"too long", "123456789", true},
		{"letters", "abcdef", true},
		{"mixed", "12345a", true},
		{"empty", "", true},
		{"spaces", "123 456", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePIN(tt.pin)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePIN(%q) error = %v, wantErr %v", tt.pin, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("error %v does not wrap ErrInvalidFormat", err)
			}
		})
	}
}

func TestValidatePUK(t *testing.T) {
	tests := []struct {
		name    string
		puk     string
		wantErr bool
	}{
		{"six digits", "123456", false},
		{"eight alnum", "a1b2c3d4", false},
		{"uppercase", "ABCDEF", false},
		{"too short", "abc12", true},
		{"too long", "abcdefgh1", true},
		{"punctuation", "abc-123", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePUK(tt.puk)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePUK(%q) error = %v, wantErr %v", tt.puk, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFormat) {
				t.Errorf("error %v does not wrap ErrInvalidFormat", err)
			}
		})
	}
}

func TestParseManagementKey(t *testing.T) {
	valid := strings.Repeat("0a", ManagementKeySize)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"valid", valid, false},
		{"too short", valid[:62], true},
		{"too long", valid + "ff", true},
		{"not hex", strings.Repeat("zz", ManagementKeySize), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseManagementKey(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseManagementKey error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidFormat) {
					t.Errorf("error %v does not wrap ErrInvalidFormat", err)
				}
				return
			}
			if len(key) != ManagementKeySize {
				t.Errorf("key length = %d, want %d", len(key), ManagementKeySize)
			}
		})
	}
}

func TestRandomManagementKey(t *testing.T) {
	a, err := RandomManagementKey()
	if err != nil {
		t.Fatalf("RandomManagementKey: %v", err)
	}
	b, err := RandomManagementKey()
	if err != nil {
		t.Fatalf("RandomManagementKey: %v", err)
	}
	if len(a) != ManagementKeySize {
		t.Errorf("key length = %d, want %d", len(a), ManagementKeySize)
	}
	if bytes.Equal(a, b) {
		t.Error("two generated keys are identical")
	}
}

func TestCredentialsValidate(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, ManagementKeySize)

	tests := []struct {
		name    string
		creds   Credentials
		wantErr bool
	}{
		{"valid", Credentials{PIN: "654321", PUK: "abc12345", ManagementKey: key}, false},
		{"bad pin", Credentials{PIN: "abc", PUK: "abc12345", ManagementKey: key}, true},
		{"bad puk", Credentials{PIN: "654321", PUK: "!", ManagementKey: key}, true},
		{"short key", Credentials{PIN: "654321", PUK: "abc12345", ManagementKey: key[:16]}, true},
		{"nil key", Credentials{PIN: "654321", PUK: "abc12345"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeriveManagementKey(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}

	k1, err := DeriveManagementKey("123456", salt)
	if err != nil {
		t.Fatalf("DeriveManagementKey: %v", err)
	}
	if len(k1) != ManagementKeySize {
		t.Fatalf("derived key length = %d, want %d", len(k1), ManagementKeySize)
	}

	// Deterministic for the same inputs.
	k2, err := DeriveManagementKey("123456", salt)
	if err != nil {
		t.Fatalf("DeriveManagementKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same PIN and salt produced different keys")
	}

	// Different PIN or salt changes the key.
	k3, err := DeriveManagementKey("654321", salt)
	if err != nil {
		t.Fatalf("DeriveManagementKey: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("different PINs produced the same key")
	}

	salt2, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	k4, err := DeriveManagementKey("123456", salt2)
	if err != nil {
		t.Fatalf("DeriveManagementKey: %v", err)
	}
	if bytes.Equal(k1, k4) {
		t.Error("different salts produced the same key")
	}
}

func TestDeriveManagementKeyBadInputs(t *testing.T) {
	salt := make([]byte, SaltSize)

	if _, err := DeriveManagementKey("bad", salt); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("bad PIN: error = %v, want ErrInvalidFormat", err)
	}
	if _, err := DeriveManagementKey("123456", salt[:4]); !errors.Is(err, ErrInvalidFormat) {
		t.Errorf("short salt: error = %v, want ErrInvalidFormat", err)
	}
}
