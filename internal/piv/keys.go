package piv

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"fmt"
	"math/big"
)

// Algorithm is a PIV cryptographic algorithm identifier (SP 800-78-4).
type Algorithm byte

const (
	// AlgorithmECCP256 is ECDSA over NIST P-256.
	AlgorithmECCP256 Algorithm = 0x11

	// AlgorithmECCP384 is ECDSA over NIST P-384. This is the fixed policy
	// algorithm for every key in the trust hierarchy.
	AlgorithmECCP384 Algorithm = 0x14
)

// String returns the conventional algorithm name.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmECCP256:
		return "ECCP256"
	case AlgorithmECCP384:
		return "ECCP384"
	default:
		return fmt.Sprintf("unknown(%02x)", byte(a))
	}
}

// curve returns the elliptic curve for the algorithm.
func (a Algorithm) curve() (elliptic.Curve, error) {
	switch a {
	case AlgorithmECCP256:
		return elliptic.P256(), nil
	case AlgorithmECCP384:
		return elliptic.P384(), nil
	default:
		return nil, fmt.Errorf("%w: %02x", ErrUnsupportedAlgorithm, byte(a))
	}
}

// PIN and touch policy bytes for generated keys (YubiKey extension tags).
const (
	pinPolicyOnce = 0x02
	touchNever    = 0x01

	tagPINPolicy   = 0xAA
	tagTouchPolicy = 0xAB
)

// parseECPublicKey decodes the 7F49 template returned by GENERATE
// ASYMMETRIC KEY PAIR (and slot metadata) into an ECDSA public key.
func parseECPublicKey(alg Algorithm, data []byte) (*ecdsa.PublicKey, error) {
	curve, err := alg.curve()
	if err != nil {
		return nil, err
	}

	tlvs, err := parseTLVs(data)
	if err != nil {
		return nil, fmt.Errorf("piv: malformed public key template: %w", err)
	}
	template, ok := findTLV(tlvs, 0x7F49)
	if !ok {
		// Some responses carry the inner triples directly.
		template = data
	}
	inner, err := parseTLVs(template)
	if err != nil {
		return nil, fmt.Errorf("piv: malformed public key template: %w", err)
	}
	point, ok := findTLV(inner, 0x86)
	if !ok {
		return nil, fmt.Errorf("piv: public key template missing EC point")
	}

	byteLen := (curve.Params().BitSize + 7) / 8
	if len(point) != 1+2*byteLen || point[0] != 0x04 {
		return nil, fmt.Errorf("piv: invalid EC point encoding")
	}
	x := new(big.Int).SetBytes(point[1 : 1+byteLen])
	y := new(big.Int).SetBytes(point[1+byteLen:])
	if !curve.IsOnCurve(x, y) {
		return nil, fmt.Errorf("piv: EC point not on curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}
