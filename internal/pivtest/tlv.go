package pivtest

import "fmt"

// The emulator keeps its own BER-TLV codec: it decodes what the host
// sends and encodes card responses, mirroring the card side of ISO
// 7816-4.

type tlv struct {
	tag   uint32
	value []byte
}

func encodeTLV(tag uint32, value []byte) []byte {
	var out []byte
	switch {
	case tag <= 0xFF:
		out = append(out, byte(tag))
	case tag <= 0xFFFF:
		out = append(out, byte(tag>>8), byte(tag))
	default:
		out = append(out, byte(tag>>16), byte(tag>>8), byte(tag))
	}
	n := len(value)
	switch {
	case n < 0x80:
		out = append(out, byte(n))
	case n <= 0xFF:
		out = append(out, 0x81, byte(n))
	default:
		out = append(out, 0x82, byte(n>>8), byte(n))
	}
	return append(out, value...)
}

func parseTLVs(data []byte) ([]tlv, error) {
	var out []tlv
	for len(data) > 0 {
		tag := uint32(data[0])
		i := 1
		if data[0]&0x1F == 0x1F {
			for {
				if i >= len(data) {
					return nil, fmt.Errorf("pivtest: truncated TLV tag")
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
			return nil, fmt.Errorf("pivtest: truncated TLV length")
		}
		length := int(data[i])
		i++
		if length >= 0x80 {
			numBytes := length & 0x7F
			if numBytes == 0 || numBytes > 3 || i+numBytes > len(data) {
				return nil, fmt.Errorf("pivtest: invalid TLV length encoding")
			}
			length = 0
			for j := 0; j < numBytes; j++ {
				length = length<<8 | int(data[i+j])
			}
			i += numBytes
		}
		if i+length > len(data) {
			return nil, fmt.Errorf("pivtest: TLV value exceeds data (tag %#x, len %d)", tag, length)
		}
		out = append(out, tlv{tag: tag, value: data[i : i+length]})
		data = data[i+length:]
	}
	return out, nil
}

func findTLV(tlvs []tlv, tag uint32) ([]byte, bool) {
	for _, t := range tlvs {
		if t.tag == tag {
			return t.value, true
		}
	}
	return nil, false
}
