package piv

import "fmt"

// BER-TLV encoding helpers for the PIV data model (ISO 7816-4).
// PIV uses one to three byte tags (e.g. 0x5C, 0x7F49, 0x5FC10A) and
// definite short or long form lengths.

type tlv struct {
	tag   uint32
	value []byte
}

// encodeTLV encodes a single tag-length-value triple.
func encodeTLV(tag uint32, value []byte) []byte {
	out := appendTag(nil, tag)
	out = appendLength(out, len(value))
	return append(out, value...)
}

func appendTag(out []byte, tag uint32) []byte {
	switch {
	case tag <= 0xFF:
		return append(out, byte(tag))
	case tag <= 0xFFFF:
		return append(out, byte(tag>>8), byte(tag))
	default:
		return append(out, byte(tag>>16), byte(tag>>8), byte(tag))
	}
}

func appendLength(out []byte, n int) []byte {
	switch {
	case n < 0x80:
		return append(out, byte(n))
	case n <= 0xFF:
		return append(out, 0x81, byte(n))
	default:
		return append(out, 0x82, byte(n>>8), byte(n))
	}
}

// parseTLVs parses a flat sequence of BER-TLV triples.
func parseTLVs(data []byte) ([]tlv, error) {
	var out []tlv
	for len(data) > 0 {
		tag := uint32(data[0])
		i := 1
		if data[0]&0x1F == 0x1F {
			// Multi-byte tag: continue while bit 8 of the subsequent
			// byte is set.
			for {
				if i >= len(data) {
					return nil, fmt.Errorf("piv: truncated TLV tag")
				}
				tag = tag<<8 | uint32(data[i])
				more := data[i]&0x80 != 0
				i++
				if !more {
					break
				}
			}
		}
		if i >= len(data) {
			return nil, fmt.Errorf("piv: truncated TLV length")
		}
		length := int(data[i])
		i++
		if length >= 0x80 {
			numBytes := length & 0x7F
			if numBytes == 0 || numBytes > 3 || i+numBytes > len(data) {
				return nil, fmt.Errorf("piv: invalid TLV length encoding")
			}
			length = 0
			for j := 0; j < numBytes; j++ {
				length = length<<8 | int(data[i+j])
			}
			i += numBytes
		}
		if i+length > len(data) {
			return nil, fmt.Errorf("piv: TLV value exceeds data (tag %#x, len %d)", tag, length)
		}
		out = append(out, tlv{tag: tag, value: data[i : i+length]})
		data = data[i+length:]
	}
	return out, nil
}

// findTLV returns the value of the first triple with the given tag.
func findTLV(tlvs []tlv, tag uint32) ([]byte, bool) {
	for _, t := range tlvs {
		if t.tag == tag {
			return t.value, true
		}
	}
	return nil, false
}
