// Package pivtest emulates the PIV application of a hardware token at
// the APDU level, so protocol and workflow code is exercised in tests
// without a card reader. The emulator is deliberately self-contained: it
// speaks raw command APDUs and keeps its own protocol tables, the same
// way a real card sits on the far side of the wire.
package pivtest

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
)

// Instruction bytes handled by the emulator (SP 800-73-4 plus the
// YubiKey vendor extensions).
const (
	insSelect            = 0xA4
	insVerify            = 0x20
	insChangeReference   = 0x24
	insResetRetryCounter = 0x2C
	insGeneralAuth       = 0x87
	insGenerateKey       = 0x47
	insGetData           = 0xCB
	insPutData           = 0xDB
	insSetManagementKey  = 0xFF
	insReset             = 0xFB
	insGetVersion        = 0xFD
	insGetSerial         = 0xF8
	insGetMetadata       = 0xF7
)

// Status words.
const (
	swSuccess           = 0x9000
	swRetryPrefix       = 0x63C0
	swWrongLength       = 0x6700
	swSecurityStatus    = 0x6982
	swAuthBlocked       = 0x6983
	swDataInvalid       = 0x6A80
	swFileNotFound      = 0x6A82
	swIncorrectParam    = 0x6A86
	swReferenceNotFound = 0x6A88
	swConditionsNotMet  = 0x6985
	swInsNotSupported   = 0x6D00
)

// Template and reference tags.
const (
	tagDynAuth       = 0x7C
	tagWitness       = 0x80
	tagChallenge     = 0x81
	tagResponse      = 0x82
	tagObjectID      = 0x5C
	tagObjectData    = 0x53
	tagMetaAlgorithm = 0x01
	tagMetaOrigin    = 0x03
	tagMetaPublicKey = 0x04
	tagMetaRetries   = 0x06

	refPIN         = 0x80
	refPUK         = 0x81
	slotManagement = 0x9B
)

// Key algorithm and management key type bytes.
const (
	AlgECCP256   = 0x11
	AlgECCP384   = 0x14
	MgmtTDES     = 0x03
	MgmtAES256   = 0x0C
	originOnCard = 0x01
)

// Factory credentials, matching hardware defaults.
const (
	FactoryPIN = "123456"
	FactoryPUK = "12345678"
)

// FactoryManagementKey is the well-known 3DES transport key.
var FactoryManagementKey = []byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
}

// Card is an in-memory PIV token. The zero value is not usable; create
// one with NewCard.
type Card struct {
	pin        []byte
	puk        []byte
	pinRetries int
	pukRetries int
	maxRetries int

	mgmtKey  []byte
	mgmtType byte

	authenticated bool
	pinVerified   bool
	witness       []byte

	keys    map[byte]*cardKey
	objects map[uint32][]byte

	// ResetDisabled simulates a token policy refusing the vendor reset.
	ResetDisabled bool

	chain []byte

	closed bool
}

type cardKey struct {
	alg  byte
	priv *ecdsa.PrivateKey
}

// NewCard returns a card in factory state with a 3-retry policy.
func NewCard() *Card {
	c := &Card{maxRetries: 3}
	c.factoryReset()
	return c
}

func (c *Card) factoryReset() {
	c.pin = padSecret(FactoryPIN)
	c.puk = padSecret(FactoryPUK)
	c.pinRetries = c.maxRetries
	c.pukRetries = c.maxRetries
	c.mgmtKey = append([]byte(nil), FactoryManagementKey...)
	c.mgmtType = MgmtTDES
	c.authenticated = false
	c.pinVerified = false
	c.keys = map[byte]*cardKey{}
	c.objects = map[uint32][]byte{}
}

func padSecret(s string) []byte {
	out := bytes.Repeat([]byte{0xFF}, 8)
	copy(out, s)
	return out
}

// ManagementKeyAlgorithm reports the algorithm byte of the current
// management key (MgmtTDES or MgmtAES256).
func (c *Card) ManagementKeyAlgorithm() byte {
	return c.mgmtType
}

// Object returns a stored data object, for assertions on what a
// workflow wrote.
func (c *Card) Object(objectID uint32) ([]byte, bool) {
	obj, ok := c.objects[objectID]
	return obj, ok
}

// Close marks the card unusable, as a released reader connection would.
func (c *Card) Close() error {
	c.closed = true
	return nil
}

func sw(resp []byte, status uint16) []byte {
	return append(resp, byte(status>>8), byte(status))
}

// Transmit executes one command APDU and returns response data plus
// status word, emulating a real card's dispatch.
func (c *Card) Transmit(command []byte) ([]byte, error) {
	if c.closed {
		return nil, fmt.Errorf("card closed")
	}
	if len(command) < 4 {
		return nil, fmt.Errorf("short APDU")
	}
	cla, ins, p1, p2 := command[0], command[1], command[2], command[3]
	var data []byte
	if len(command) > 5 {
		lc := int(command[4])
		if 5+lc > len(command) {
			return nil, fmt.Errorf("bad Lc")
		}
		data = command[5 : 5+lc]
	}

	if cla&0x10 != 0 {
		c.chain = append(c.chain, data...)
		return sw(nil, swSuccess), nil
	}
	if len(c.chain) > 0 {
		data = append(c.chain, data...)
		c.chain = nil
	}

	switch ins {
	case insSelect:
		return sw(nil, swSuccess), nil
	case insVerify:
		return c.verify(p2, data), nil
	case insChangeReference:
		return c.changeReference(p2, data), nil
	case insResetRetryCounter:
		return c.resetRetryCounter(data), nil
	case insGeneralAuth:
		return c.generalAuthenticate(p1, p2, data), nil
	case insGenerateKey:
		return c.generateKey(p2, data), nil
	case insGetData:
		return c.getData(data), nil
	case insPutData:
		return c.putData(data), nil
	case insSetManagementKey:
		return c.setManagementKey(data), nil
	case insReset:
		return c.reset(), nil
	case insGetVersion:
		return sw([]byte{5, 4, 3}, swSuccess), nil
	case insGetSerial:
		return sw([]byte{0x00, 0xBC, 0x61, 0x4E}, swSuccess), nil
	case insGetMetadata:
		return c.metadata(p2), nil
	default:
		return sw(nil, swInsNotSupported), nil
	}
}

func (c *Card) verify(ref byte, data []byte) []byte {
	if ref != refPIN {
		return sw(nil, swReferenceNotFound)
	}
	if c.pinRetries == 0 {
		return sw(nil, swAuthBlocked)
	}
	if bytes.Equal(data, c.pin) {
		c.pinRetries = c.maxRetries
		c.pinVerified = true
		return sw(nil, swSuccess)
	}
	c.pinRetries--
	return sw(nil, swRetryPrefix|uint16(c.pinRetries))
}

func (c *Card) changeReference(ref byte, data []byte) []byte {
	if len(data) != 16 {
		return sw(nil, swWrongLength)
	}
	old, newValue := data[:8], data[8:]
	switch ref {
	case refPIN:
		if c.pinRetries == 0 {
			return sw(nil, swAuthBlocked)
		}
		if !bytes.Equal(old, c.pin) {
			c.pinRetries--
			if c.pinRetries == 0 {
				return sw(nil, swAuthBlocked)
			}
			return sw(nil, swRetryPrefix|uint16(c.pinRetries))
		}
		c.pin = append([]byte(nil), newValue...)
		c.pinRetries = c.maxRetries
		return sw(nil, swSuccess)
	case refPUK:
		if c.pukRetries == 0 {
			return sw(nil, swAuthBlocked)
		}
		if !bytes.Equal(old, c.puk) {
			c.pukRetries--
			if c.pukRetries == 0 {
				return sw(nil, swAuthBlocked)
			}
			return sw(nil, swRetryPrefix|uint16(c.pukRetries))
		}
		c.puk = append([]byte(nil), newValue...)
		c.pukRetries = c.maxRetries
		return sw(nil, swSuccess)
	default:
		return sw(nil, swReferenceNotFound)
	}
}

func (c *Card) resetRetryCounter(data []byte) []byte {
	if len(data) != 16 {
		return sw(nil, swWrongLength)
	}
	if c.pukRetries == 0 {
		return sw(nil, swAuthBlocked)
	}
	if !bytes.Equal(data[:8], c.puk) {
		c.pukRetries--
		if c.pukRetries == 0 {
			return sw(nil, swAuthBlocked)
		}
		return sw(nil, swRetryPrefix|uint16(c.pukRetries))
	}
	c.pukRetries = c.maxRetries
	c.pin = append([]byte(nil), data[8:]...)
	c.pinRetries = c.maxRetries
	return sw(nil, swSuccess)
}

func (c *Card) cipherBlock() cipher.Block {
	var block cipher.Block
	var err error
	if c.mgmtType == MgmtAES256 {
		block, err = aes.NewCipher(c.mgmtKey)
	} else {
		block, err = des.NewTripleDESCipher(c.mgmtKey)
	}
	if err != nil {
		panic(err)
	}
	return block
}

func (c *Card) generalAuthenticate(p1, p2 byte, data []byte) []byte {
	tlvs, err := parseTLVs(data)
	if err != nil {
		return sw(nil, swDataInvalid)
	}
	outer, ok := findTLV(tlvs, tagDynAuth)
	if !ok {
		return sw(nil, swDataInvalid)
	}
	inner, err := parseTLVs(outer)
	if err != nil {
		return sw(nil, swDataInvalid)
	}

	if p2 == slotManagement {
		if p1 != c.mgmtType {
			return sw(nil, swIncorrectParam)
		}
		block := c.cipherBlock()
		if w, ok := findTLV(inner, tagWitness); ok && len(w) == 0 {
			// Witness request.
			c.witness = make([]byte, block.BlockSize())
			if _, err := rand.Read(c.witness); err != nil {
				panic(err)
			}
			enc := make([]byte, len(c.witness))
			block.Encrypt(enc, c.witness)
			return sw(encodeTLV(tagDynAuth, encodeTLV(tagWitness, enc)), swSuccess)
		}
		// Mutual step.
		w, _ := findTLV(inner, tagWitness)
		challenge, _ := findTLV(inner, tagChallenge)
		if c.witness == nil || !bytes.Equal(w, c.witness) {
			c.witness = nil
			return sw(nil, swSecurityStatus)
		}
		c.witness = nil
		if len(challenge) != block.BlockSize() {
			return sw(nil, swDataInvalid)
		}
		enc := make([]byte, len(challenge))
		block.Encrypt(enc, challenge)
		c.authenticated = true
		return sw(encodeTLV(tagDynAuth, encodeTLV(tagResponse, enc)), swSuccess)
	}

	// Slot signing.
	key, ok := c.keys[p2]
	if !ok {
		return sw(nil, swReferenceNotFound)
	}
	if p1 != key.alg {
		return sw(nil, swIncorrectParam)
	}
	if !c.pinVerified {
		return sw(nil, swSecurityStatus)
	}
	digest, ok := findTLV(inner, tagChallenge)
	if !ok {
		return sw(nil, swDataInvalid)
	}
	sig, err := ecdsa.SignASN1(rand.Reader, key.priv, digest)
	if err != nil {
		panic(err)
	}
	return sw(encodeTLV(tagDynAuth, encodeTLV(tagResponse, sig)), swSuccess)
}

func (c *Card) generateKey(slot byte, data []byte) []byte {
	if !c.authenticated {
		return sw(nil, swSecurityStatus)
	}
	tlvs, err := parseTLVs(data)
	if err != nil {
		return sw(nil, swDataInvalid)
	}
	control, ok := findTLV(tlvs, 0xAC)
	if !ok {
		return sw(nil, swDataInvalid)
	}
	inner, err := parseTLVs(control)
	if err != nil {
		return sw(nil, swDataInvalid)
	}
	algBytes, ok := findTLV(inner, 0x80)
	if !ok || len(algBytes) != 1 {
		return sw(nil, swDataInvalid)
	}

	var curve elliptic.Curve
	switch algBytes[0] {
	case AlgECCP256:
		curve = elliptic.P256()
	case AlgECCP384:
		curve = elliptic.P384()
	default:
		return sw(nil, swIncorrectParam)
	}
	priv, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		panic(err)
	}
	c.keys[slot] = &cardKey{alg: algBytes[0], priv: priv}

	return sw(encodeTLV(0x7F49, encodeTLV(0x86, ecPoint(priv))), swSuccess)
}

func (c *Card) getData(data []byte) []byte {
	tlvs, err := parseTLVs(data)
	if err != nil {
		return sw(nil, swDataInvalid)
	}
	id, ok := findTLV(tlvs, tagObjectID)
	if !ok {
		return sw(nil, swDataInvalid)
	}
	objectID := uint32(0)
	for _, b := range id {
		objectID = objectID<<8 | uint32(b)
	}
	obj, ok := c.objects[objectID]
	if !ok {
		return sw(nil, swFileNotFound)
	}
	return sw(encodeTLV(tagObjectData, obj), swSuccess)
}

func (c *Card) putData(data []byte) []byte {
	if !c.authenticated {
		return sw(nil, swSecurityStatus)
	}
	tlvs, err := parseTLVs(data)
	if err != nil {
		return sw(nil, swDataInvalid)
	}
	id, ok := findTLV(tlvs, tagObjectID)
	if !ok {
		return sw(nil, swDataInvalid)
	}
	value, ok := findTLV(tlvs, tagObjectData)
	if !ok {
		return sw(nil, swDataInvalid)
	}
	objectID := uint32(0)
	for _, b := range id {
		objectID = objectID<<8 | uint32(b)
	}
	c.objects[objectID] = append([]byte(nil), value...)
	return sw(nil, swSuccess)
}

func (c *Card) setManagementKey(data []byte) []byte {
	if !c.authenticated {
		return sw(nil, swSecurityStatus)
	}
	if len(data) < 3 {
		return sw(nil, swWrongLength)
	}
	keyType := data[0]
	keyLen := int(data[2])
	wantLen := 24
	if keyType == MgmtAES256 {
		wantLen = 32
	}
	if data[1] != slotManagement || len(data) != 3+keyLen || keyLen != wantLen {
		return sw(nil, swDataInvalid)
	}
	c.mgmtType = keyType
	c.mgmtKey = append([]byte(nil), data[3:]...)
	c.authenticated = false
	return sw(nil, swSuccess)
}

func (c *Card) reset() []byte {
	if c.ResetDisabled {
		return sw(nil, swConditionsNotMet)
	}
	if c.pinRetries != 0 || c.pukRetries != 0 {
		return sw(nil, swConditionsNotMet)
	}
	c.factoryReset()
	return sw(nil, swSuccess)
}

func (c *Card) metadata(ref byte) []byte {
	switch ref {
	case refPIN:
		return sw(encodeTLV(tagMetaRetries, []byte{byte(c.maxRetries), byte(c.pinRetries)}), swSuccess)
	case refPUK:
		return sw(encodeTLV(tagMetaRetries, []byte{byte(c.maxRetries), byte(c.pukRetries)}), swSuccess)
	}
	key, ok := c.keys[ref]
	if !ok {
		return sw(nil, swReferenceNotFound)
	}
	resp := encodeTLV(tagMetaAlgorithm, []byte{key.alg})
	resp = append(resp, encodeTLV(tagMetaOrigin, []byte{originOnCard})...)
	resp = append(resp, encodeTLV(tagMetaPublicKey, encodeTLV(0x86, ecPoint(key.priv)))...)
	return sw(resp, swSuccess)
}

// ecPoint encodes the public key as an uncompressed EC point.
func ecPoint(priv *ecdsa.PrivateKey) []byte {
	byteLen := (priv.Curve.Params().BitSize + 7) / 8
	out := make([]byte, 1+2*byteLen)
	out[0] = 0x04
	priv.PublicKey.X.FillBytes(out[1 : 1+byteLen])
	priv.PublicKey.Y.FillBytes(out[1+byteLen:])
	return out
}
