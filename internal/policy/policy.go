// Package policy holds the fixed issuance policy and the optional
// per-deployment profile file.
//
// The algorithm policy is not configurable: every key is ECDSA P-384 and
// every signature is ECDSA with SHA-384. A profile only adjusts validity
// periods and supplies default subject attributes; it can never select a
// different algorithm.
package policy

import (
	"fmt"
	"time"

	"github.com/remiblancher/pivca/internal/x509util"
)

// Default validity periods per certificate role.
const (
	DefaultRootValidity         = 20 * 365 * 24 * time.Hour
	DefaultIntermediateValidity = 4 * 365 * 24 * time.Hour
	DefaultLeafValidity         = 365 * 24 * time.Hour
)

// Default subject names used when the operator requests none.
const (
	DefaultRootSubject         = "CN=Root CA"
	DefaultIntermediateSubject = "CN=Intermediate CA"
)

// Validity bundles the validity periods for each certificate role.
type Validity struct {
	Root         time.Duration
	Intermediate time.Duration
	Leaf         time.Duration
}

// DefaultValidity returns the built-in validity periods.
func DefaultValidity() Validity {
	return Validity{
		Root:         DefaultRootValidity,
		Intermediate: DefaultIntermediateValidity,
		Leaf:         DefaultLeafValidity,
	}
}

// Profile is a per-deployment issuance profile. The zero value is valid
// and yields the built-in defaults.
type Profile struct {
	Name string

	// Subject holds default subject attributes, e.g. "O=ACME,C=FR".
	// They are merged below any requested name: a requested attribute
	// type always wins over the profile's.
	Subject x509util.Name

	Validity Validity
}

// Default returns the profile used when no profile file is given.
func Default() *Profile {
	return &Profile{
		Name:     "default",
		Validity: DefaultValidity(),
	}
}

// CompleteSubject merges the profile's default attributes below a
// requested subject name.
func (p *Profile) CompleteSubject(requested x509util.Name) x509util.Name {
	return x509util.Merge(requested, p.Subject)
}

// Validate checks that every validity period is positive.
func (p *Profile) Validate() error {
	for _, v := range []struct {
		role string
		d    time.Duration
	}{
		{"root", p.Validity.Root},
		{"intermediate", p.Validity.Intermediate},
		{"leaf", p.Validity.Leaf},
	} {
		if v.d <= 0 {
			return fmt.Errorf("profile %q: %s validity must be positive, got %s", p.Name, v.role, v.d)
		}
	}
	return nil
}
