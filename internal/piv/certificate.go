package piv

import (
	"crypto/x509"
	"fmt"
)

// Certificate object template tags (SP 800-73-4 appendix A).
const (
	tagObjectData  = 0x53
	tagObjectID    = 0x5C
	tagCertificate = 0x70
	tagCertInfo    = 0x71
	tagErrorDetect = 0xFE
)

// ReadObject fetches a raw PIV data object by its three-byte identifier.
func (t *Token) ReadObject(objectID uint32) ([]byte, error) {
	resp, sw, err := t.transmit(apdu{
		ins:  insGetData,
		p1:   0x3F,
		p2:   0xFF,
		data: encodeTLV(tagObjectID, appendTag(nil, objectID)),
	})
	if err != nil {
		return nil, err
	}
	if sw == swFileNotFound || sw == swReferenceNotFound {
		return nil, fmt.Errorf("read object %06x: %w", objectID, ErrNotFound)
	}
	if sw != swSuccess {
		return nil, swError("read object", sw)
	}
	tlvs, err := parseTLVs(resp)
	if err != nil {
		return nil, fmt.Errorf("read object %06x: %w", objectID, err)
	}
	data, ok := findTLV(tlvs, tagObjectData)
	if !ok {
		return nil, fmt.Errorf("read object %06x: missing data template", objectID)
	}
	return data, nil
}

// WriteObject stores a raw PIV data object. Requires prior management
// authentication.
func (t *Token) WriteObject(objectID uint32, data []byte) error {
	payload := encodeTLV(tagObjectID, appendTag(nil, objectID))
	payload = append(payload, encodeTLV(tagObjectData, data)...)
	_, sw, err := t.transmit(apdu{ins: insPutData, p1: 0x3F, p2: 0xFF, data: payload})
	if err != nil {
		return err
	}
	if sw == swSecurityStatus {
		return fmt.Errorf("write object %06x: %w", objectID, ErrAuthentication)
	}
	if sw != swSuccess {
		return swError("write object", sw)
	}
	return nil
}

// Certificate reads the certificate stored alongside the slot key.
// This is a convenience store for introspection, not a trust decision.
func (t *Token) Certificate(slot Slot) (*x509.Certificate, error) {
	objectID, err := slot.objectID()
	if err != nil {
		return nil, err
	}
	data, err := t.ReadObject(objectID)
	if err != nil {
		return nil, err
	}
	tlvs, err := parseTLVs(data)
	if err != nil {
		return nil, fmt.Errorf("certificate object for %s: %w", slot, err)
	}
	der, ok := findTLV(tlvs, tagCertificate)
	if !ok {
		return nil, fmt.Errorf("certificate object for %s: %w", slot, ErrNotFound)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("certificate object for %s: %w", slot, err)
	}
	return cert, nil
}

// WriteCertificate stores a certificate next to the slot key. Requires
// prior management authentication.
func (t *Token) WriteCertificate(slot Slot, cert *x509.Certificate) error {
	objectID, err := slot.objectID()
	if err != nil {
		return err
	}
	data := encodeTLV(tagCertificate, cert.Raw)
	data = append(data, encodeTLV(tagCertInfo, []byte{0x00})...) // uncompressed
	data = append(data, encodeTLV(tagErrorDetect, nil)...)
	return t.WriteObject(objectID, data)
}
