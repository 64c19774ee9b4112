package x509util

import (
	"testing"
)

func TestNewSerialNumberBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		serial, err := NewSerialNumber()
		if err != nil {
			t.Fatalf("NewSerialNumber: %v", err)
		}
		if serial.Sign() <= 0 {
			t.Fatalf("serial %v is not positive", serial)
		}
		if serial.BitLen() > SerialBits {
			t.Fatalf("serial has %d bits, limit %d", serial.BitLen(), SerialBits)
		}
	}
}

func TestNewSerialNumberDistinct(t *testing.T) {
	const n = 1000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		serial, err := NewSerialNumber()
		if err != nil {
			t.Fatalf("NewSerialNumber: %v", err)
		}
		key := serial.String()
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate serial %s after %d draws", key, i)
		}
		seen[key] = struct{}{}
	}
}
