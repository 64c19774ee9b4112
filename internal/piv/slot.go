package piv

import "fmt"

// Slot identifies a PIV key slot (SP 800-73-4 §5.1).
type Slot byte

const (
	// SlotAuthentication (9A) is the PIV Authentication slot.
	SlotAuthentication Slot = 0x9A

	// SlotSignature (9C) is the Digital Signature slot. The PIN is always
	// required for operations, which is why the CA key lives here.
	SlotSignature Slot = 0x9C

	// SlotKeyManagement (9D) is the Key Management slot.
	SlotKeyManagement Slot = 0x9D

	// SlotCardAuthentication (9E) is the Card Authentication slot; the
	// only slot usable without a PIN.
	SlotCardAuthentication Slot = 0x9E
)

// String returns the conventional name of the slot.
func (s Slot) String() string {
	switch s {
	case SlotAuthentication:
		return "PIV Authentication (9A)"
	case SlotSignature:
		return "Digital Signature (9C)"
	case SlotKeyManagement:
		return "Key Management (9D)"
	case SlotCardAuthentication:
		return "Card Authentication (9E)"
	default:
		return fmt.Sprintf("Unknown Slot (%02X)", byte(s))
	}
}

// IsValid reports whether s is a slot this package operates on.
func (s Slot) IsValid() bool {
	switch s {
	case SlotAuthentication, SlotSignature, SlotKeyManagement, SlotCardAuthentication:
		return true
	}
	return false
}

// objectID returns the PIV data object holding the certificate paired with
// the slot key.
func (s Slot) objectID() (uint32, error) {
	switch s {
	case SlotAuthentication:
		return 0x5FC105, nil
	case SlotSignature:
		return 0x5FC10A, nil
	case SlotKeyManagement:
		return 0x5FC10B, nil
	case SlotCardAuthentication:
		return 0x5FC101, nil
	default:
		return 0, fmt.Errorf("piv: no certificate object for slot %02X", byte(s))
	}
}
