// Package x509util implements the X.509 helpers shared by the CA
// workflows: ordered distinguished names with deterministic merging,
// high-entropy serial numbers, and the CSR validation pipeline.
package x509util

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
)

// Attribute is a single distinguished name attribute (type and value).
type Attribute struct {
	Type  string
	Value string
}

// Name is an ordered distinguished name. Order follows the RFC 4514
// string form: most specific attribute first ("CN=X,O=Y,C=Z"). The
// encoded RDNSequence is the reverse of this order, and both String and
// RDNSequence preserve it exactly, so a name survives a round trip
// through a certificate byte for byte.
type Name struct {
	Attributes []Attribute
}

// Attribute type keywords accepted in string form, per RFC 4514 plus the
// common aliases OpenSSL accepts.
var attributeOIDs = map[string]asn1.ObjectIdentifier{
	"CN":           {2, 5, 4, 3},
	"SERIALNUMBER": {2, 5, 4, 5},
	"C":            {2, 5, 4, 6},
	"L":            {2, 5, 4, 7},
	"ST":           {2, 5, 4, 8},
	"STREET":       {2, 5, 4, 9},
	"O":            {2, 5, 4, 10},
	"OU":           {2, 5, 4, 11},
	"TITLE":        {2, 5, 4, 12},
	"POSTALCODE":   {2, 5, 4, 17},
	"UID":          {0, 9, 2342, 19200300, 100, 1, 1},
	"DC":           {0, 9, 2342, 19200300, 100, 1, 25},
}

var oidAttributeNames = func() map[string]string {
	m := make(map[string]string, len(attributeOIDs))
	for name, oid := range attributeOIDs {
		m[oid.String()] = name
	}
	return m
}()

// ParseName parses an RFC 4514 style distinguished name string such as
// "CN=Root CA,O=ACME,C=FR". Backslash escapes a comma, an equals sign
// or a backslash inside a value. Attribute order is preserved.
func ParseName(s string) (Name, error) {
	if strings.TrimSpace(s) == "" {
		return Name{}, fmt.Errorf("empty distinguished name")
	}

	var name Name
	for _, part := range splitUnescaped(s, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			return Name{}, fmt.Errorf("empty attribute in distinguished name %q", s)
		}
		fields := splitUnescaped(part, '=')
		if len(fields) != 2 {
			return Name{}, fmt.Errorf("malformed attribute %q: want TYPE=value", part)
		}
		typ := strings.ToUpper(strings.TrimSpace(fields[0]))
		if _, ok := attributeOIDs[typ]; !ok {
			return Name{}, fmt.Errorf("unsupported attribute type %q", fields[0])
		}
		value := unescape(strings.TrimSpace(fields[1]))
		if value == "" {
			return Name{}, fmt.Errorf("attribute %s has an empty value", typ)
		}
		name.Attributes = append(name.Attributes, Attribute{Type: typ, Value: value})
	}
	return name, nil
}

// splitUnescaped splits s on sep, honoring backslash escapes.
func splitUnescaped(s string, sep byte) []string {
	var parts []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte('\\')
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if escaped {
		cur.WriteByte('\\')
	}
	parts = append(parts, cur.String())
	return parts
}

func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var out strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			out.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		out.WriteByte(c)
	}
	return out.String()
}

func escapeValue(s string) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ',' || c == '=' || c == '\\' {
			out.WriteByte('\\')
		}
		out.WriteByte(c)
	}
	return out.String()
}

// String renders the name in RFC 4514 form, preserving attribute order.
func (n Name) String() string {
	parts := make([]string, len(n.Attributes))
	for i, a := range n.Attributes {
		parts[i] = a.Type + "=" + escapeValue(a.Value)
	}
	return strings.Join(parts, ",")
}

// IsEmpty reports whether the name has no attributes.
func (n Name) IsEmpty() bool {
	return len(n.Attributes) == 0
}

// hasType reports whether any attribute of the given type is present.
func (n Name) hasType(typ string) bool {
	for _, a := range n.Attributes {
		if a.Type == typ {
			return true
		}
	}
	return false
}

// Merge combines a requested name with the issuer's name. Every
// requested attribute is kept, in requested order. Issuer attributes
// whose type does not appear anywhere in the request are appended
// afterwards, in issuer order. Issuer attributes whose type the request
// already carries are dropped, so the request always wins.
//
// Merging with an empty issuer returns the request unchanged, and
// merging a name with itself is a no-op, value for value.
func Merge(requested, issuer Name) Name {
	merged := Name{Attributes: make([]Attribute, 0, len(requested.Attributes)+len(issuer.Attributes))}
	merged.Attributes = append(merged.Attributes, requested.Attributes...)
	for _, a := range issuer.Attributes {
		if !requested.hasType(a.Type) {
			merged.Attributes = append(merged.Attributes, a)
		}
	}
	return merged
}

// RDNSequence converts the name to an X.501 RDNSequence with one
// attribute per RDN. The sequence is emitted in reverse of the string
// order, matching how RFC 4514 defines the rendering, so that
// re-parsing a certificate subject yields the original order.
func (n Name) RDNSequence() pkix.RDNSequence {
	seq := make(pkix.RDNSequence, 0, len(n.Attributes))
	for i := len(n.Attributes) - 1; i >= 0; i-- {
		a := n.Attributes[i]
		seq = append(seq, pkix.RelativeDistinguishedNameSET{{
			Type:  attributeOIDs[a.Type],
			Value: a.Value,
		}})
	}
	return seq
}

// MarshalDER encodes the name as a DER RDNSequence, suitable for the
// RawSubject field of a certificate template. Using RawSubject keeps
// attribute order intact where pkix.Name would reorder by type.
func (n Name) MarshalDER() ([]byte, error) {
	der, err := asn1.Marshal(n.RDNSequence())
	if err != nil {
		return nil, fmt.Errorf("encoding distinguished name: %w", err)
	}
	return der, nil
}

// NameFromRDNSequence rebuilds an ordered Name from a decoded
// RDNSequence, reversing back to string order.
func NameFromRDNSequence(seq pkix.RDNSequence) (Name, error) {
	var name Name
	for i := len(seq) - 1; i >= 0; i-- {
		for _, atv := range seq[i] {
			typ, ok := oidAttributeNames[atv.Type.String()]
			if !ok {
				return Name{}, fmt.Errorf("unsupported attribute OID %s in subject", atv.Type)
			}
			value, ok := atv.Value.(string)
			if !ok {
				return Name{}, fmt.Errorf("attribute %s has a non-string value", typ)
			}
			name.Attributes = append(name.Attributes, Attribute{Type: typ, Value: value})
		}
	}
	return name, nil
}

// NameFromCert extracts the ordered subject name from a certificate.
func NameFromCert(cert *x509.Certificate) (Name, error) {
	return nameFromRawRDN(cert.RawSubject)
}

// NameFromCSR extracts the ordered subject name from a certificate
// request.
func NameFromCSR(csr *x509.CertificateRequest) (Name, error) {
	return nameFromRawRDN(csr.RawSubject)
}

func nameFromRawRDN(raw []byte) (Name, error) {
	var seq pkix.RDNSequence
	rest, err := asn1.Unmarshal(raw, &seq)
	if err != nil {
		return Name{}, fmt.Errorf("decoding subject: %w", err)
	}
	if len(rest) != 0 {
		return Name{}, fmt.Errorf("decoding subject: %d trailing bytes", len(rest))
	}
	return NameFromRDNSequence(seq)
}
