package piv

import (
	"bytes"
	"testing"
)

func TestTLVRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		tag   uint32
		value []byte
	}{
		{"one-byte tag short value", 0x53, []byte{0x01, 0x02}},
		{"two-byte tag", 0x7F49, bytes.Repeat([]byte{0xAB}, 10)},
		{"three-byte tag", 0x5FC10A, []byte{0x00}},
		{"empty value", 0x80, nil},
		{"long form length", 0x70, bytes.Repeat([]byte{0xCD}, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := encodeTLV(tt.tag, tt.value)
			tlvs, err := parseTLVs(encoded)
			if err != nil {
				t.Fatalf("parseTLVs: %v", err)
			}
			if len(tlvs) != 1 {
				t.Fatalf("parsed %d triples, want 1", len(tlvs))
			}
			if tlvs[0].tag != tt.tag {
				t.Errorf("tag = %#x, want %#x", tlvs[0].tag, tt.tag)
			}
			if !bytes.Equal(tlvs[0].value, tt.value) {
				t.Errorf("value mismatch")
			}
		})
	}
}

func TestParseTLVsTruncated(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"dangling tag", []byte{0x5F}},
		{"missing length", []byte{0x5F, 0xC1, 0x0A}},
		{"value shorter than length", []byte{0x53, 0x05, 0x01}},
		{"bad long form", []byte{0x53, 0x84, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseTLVs(tt.data); err == nil {
				t.Error("expected parse error, got nil")
			}
		})
	}
}

func TestParseTLVsSequence(t *testing.T) {
	data := encodeTLV(0x01, []byte{0x14})
	data = append(data, encodeTLV(0x03, []byte{0x01})...)

	tlvs, err := parseTLVs(data)
	if err != nil {
		t.Fatalf("parseTLVs: %v", err)
	}
	if len(tlvs) != 2 {
		t.Fatalf("parsed %d triples, want 2", len(tlvs))
	}
	if v, ok := findTLV(tlvs, 0x03); !ok || !bytes.Equal(v, []byte{0x01}) {
		t.Errorf("findTLV(0x03) = %x, %v", v, ok)
	}
	if _, ok := findTLV(tlvs, 0x04); ok {
		t.Error("findTLV(0x04) found a missing tag")
	}
}
