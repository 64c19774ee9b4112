package piv

import "fmt"

// PIV / ISO 7816-4 instruction bytes used by this package.
const (
	insSelect            = 0xA4
	insVerify            = 0x20
	insChangeReference   = 0x24
	insResetRetryCounter = 0x2C
	insGeneralAuth       = 0x87
	insGenerateKey       = 0x47
	insGetData           = 0xCB
	insPutData           = 0xDB
	insGetResponse       = 0xC0

	// YubiKey vendor instructions.
	insSetManagementKey = 0xFF
	insReset            = 0xFB
	insGetVersion       = 0xFD
	insGetSerial        = 0xF8
	insGetMetadata      = 0xF7
)

// Status words (SW1 SW2).
const (
	swSuccess             = 0x9000
	swSecurityStatus      = 0x6982
	swAuthBlocked         = 0x6983
	swConditionsNotMet    = 0x6985
	swIncorrectParam      = 0x6A80
	swFileNotFound        = 0x6A82
	swReferenceNotFound   = 0x6A88
	swRetryPrefix         = 0x63C0 // low nibble carries retries remaining
	swMoreDataPrefix      = 0x6100 // low byte carries remaining length
	swInsNotSupported     = 0x6D00
	swWrongLength         = 0x6700
	swNotEnoughMemory     = 0x6A84
	swIncorrectSlot       = 0x6B00
	swCommandNotAllowed   = 0x6986
	swDataInvalid         = 0x6A81
	swUnspecifiedCheckErr = 0x6300
)

// apdu is a single command before chaining and length encoding.
type apdu struct {
	ins  byte
	p1   byte
	p2   byte
	data []byte
}

// maxAPDUData is the largest data field sent in one short APDU.
const maxAPDUData = 0xFF

// transmit sends a command, transparently applying command chaining for
// long payloads and GET RESPONSE for long replies. It returns the response
// body and the final status word. Transport failures wrap
// ErrTokenCommunication.
func (t *Token) transmit(a apdu) ([]byte, uint16, error) {
	data := a.data
	for len(data) > maxAPDUData {
		// Intermediate chunk: set the chaining bit in CLA.
		chunk := data[:maxAPDUData]
		data = data[maxAPDUData:]
		raw := append([]byte{0x10, a.ins, a.p1, a.p2, byte(len(chunk))}, chunk...)
		resp, err := t.card.Transmit(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrTokenCommunication, err)
		}
		if sw := statusWord(resp); sw != swSuccess {
			return nil, sw, nil
		}
	}

	raw := []byte{0x00, a.ins, a.p1, a.p2}
	if len(data) > 0 {
		raw = append(raw, byte(len(data)))
		raw = append(raw, data...)
	}
	raw = append(raw, 0x00) // Le: request everything available

	resp, err := t.card.Transmit(raw)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTokenCommunication, err)
	}

	var body []byte
	for {
		if len(resp) < 2 {
			return nil, 0, fmt.Errorf("%w: short response", ErrTokenCommunication)
		}
		sw := statusWord(resp)
		body = append(body, resp[:len(resp)-2]...)
		if sw&0xFF00 != swMoreDataPrefix {
			return body, sw, nil
		}
		resp, err = t.card.Transmit([]byte{0x00, insGetResponse, 0x00, 0x00, resp[len(resp)-1]})
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrTokenCommunication, err)
		}
	}
}

func statusWord(resp []byte) uint16 {
	if len(resp) < 2 {
		return 0
	}
	return uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
}

// retriesFromSW extracts the remaining attempt count from a 63 CX status
// word. Returns -1 when the status word does not carry a counter.
func retriesFromSW(sw uint16) int {
	if sw&0xFFF0 == swRetryPrefix {
		return int(sw & 0x000F)
	}
	return -1
}

// swError converts an unexpected status word into a diagnosable error.
func swError(op string, sw uint16) error {
	switch sw {
	case swSecurityStatus:
		return fmt.Errorf("%s: %w (security status not satisfied)", op, ErrAuthentication)
	case swAuthBlocked:
		return fmt.Errorf("%s: %w", op, ErrTokenLocked)
	case swReferenceNotFound, swFileNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case swIncorrectParam:
		return fmt.Errorf("%s: %w", op, ErrUnsupportedAlgorithm)
	default:
		return fmt.Errorf("%s: unexpected status %04x", op, sw)
	}
}
