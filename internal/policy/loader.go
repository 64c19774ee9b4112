package policy

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remiblancher/pivca/internal/x509util"
)

// profileYAML is the YAML representation of a Profile.
type profileYAML struct {
	Name    string `yaml:"name"`
	Subject string `yaml:"subject,omitempty"`

	Validity struct {
		Root         string `yaml:"root,omitempty"`
		Intermediate string `yaml:"intermediate,omitempty"`
		Leaf         string `yaml:"leaf,omitempty"`
	} `yaml:"validity,omitempty"`
}

// LoadProfileFromFile loads a profile from a YAML file.
func LoadProfileFromFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}
	return LoadProfileFromBytes(data)
}

// LoadProfileFromBytes loads a profile from YAML bytes. Omitted validity
// fields fall back to the built-in defaults.
func LoadProfileFromBytes(data []byte) (*Profile, error) {
	var py profileYAML
	if err := yaml.Unmarshal(data, &py); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	p := Default()
	if py.Name != "" {
		p.Name = py.Name
	}

	if py.Subject != "" {
		subject, err := x509util.ParseName(py.Subject)
		if err != nil {
			return nil, fmt.Errorf("profile subject: %w", err)
		}
		p.Subject = subject
	}

	for _, f := range []struct {
		field string
		value string
		dst   *time.Duration
	}{
		{"root", py.Validity.Root, &p.Validity.Root},
		{"intermediate", py.Validity.Intermediate, &p.Validity.Intermediate},
		{"leaf", py.Validity.Leaf, &p.Validity.Leaf},
	} {
		if f.value == "" {
			continue
		}
		d, err := ParseValidity(f.value)
		if err != nil {
			return nil, fmt.Errorf("profile validity.%s: %w", f.field, err)
		}
		*f.dst = d
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseValidity parses a validity duration. Go duration syntax is
// accepted ("8760h"), plus day and year suffixes ("365d", "20y") since
// certificate lifetimes are unwieldy in hours.
func ParseValidity(s string) (time.Duration, error) {
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	if n, ok := strings.CutSuffix(s, "y"); ok {
		years, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("invalid year count %q", s)
		}
		return time.Duration(years) * 365 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
