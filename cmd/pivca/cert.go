package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pivca/internal/ca"
	"github.com/remiblancher/pivca/internal/cli"
	"github.com/remiblancher/pivca/internal/piv"
	"github.com/remiblancher/pivca/internal/policy"
	"github.com/remiblancher/pivca/internal/x509util"
)

// certCmd is the parent command for certificate operations.
var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Certificate operations",
	Long: `Issue and manage certificates with the attached token.

Commands:
  root   Self-sign the root CA certificate on the token
  csr    Create a certificate request for the token's key
  sign   Sign a certificate request with the token's CA key
  store  Store an issued certificate back on its token

Examples:
  pivca cert root --subject "CN=Root CA,O=ACME,C=FR" --pin 482913 --out root.crt
  pivca cert sign --type intermediate --csr sub.csr --pin 482913 --out sub.crt`,
}

var certRootCmd = &cobra.Command{
	Use:   "root",
	Short: "Self-sign the root CA certificate",
	Long: `Generate the root key in the token's signature slot (unless one
exists), self-sign the root certificate and store it on the token.

The subject is completed with the profile's default attributes; a
subject attribute given here always wins over the profile's.

Examples:
  pivca cert root --subject "CN=Root CA,O=ACME,C=FR" --pin 482913 --out root.crt
  pivca cert root --subject "CN=Root CA" --profile acme.yaml --pin 482913 \
      --validity 10y --out root.crt`,
	RunE: runCertRoot,
}

var certCSRCmd = &cobra.Command{
	Use:   "csr",
	Short: "Create a certificate request for the token's key",
	Long: `Create a CSR for the key in the token's signature slot, signed by the
card. Use this on an intermediate token; the request then travels to the
root token for signing.

Examples:
  pivca cert csr --subject "CN=Intermediate CA" --pin 771133 --out sub.csr`,
	RunE: runCertCSR,
}

var certSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a certificate request with the token's CA key",
	Long: `Validate a CSR and sign it with the CA key on the attached token.

Validation checks only the proof-of-possession signature. The issued
subject is the requested name completed with the issuer's attributes
(the request wins per attribute type), and every requested extension is
copied into the certificate verbatim. --subject replaces the request's
subject before the merge.

Examples:
  pivca cert sign --type intermediate --csr sub.csr --pin 482913 --out sub.crt
  pivca cert sign --type leaf --csr device.csr --pin 482913 --out device.crt
  pivca cert sign --type leaf --csr device.csr --subject "CN=gw-07,OU=Edge" \
      --pin 482913 --out device.crt`,
	RunE: runCertSign,
}

var certStoreCmd = &cobra.Command{
	Use:   "store",
	Short: "Store an issued certificate back on its token",
	Long: `Store a certificate on the attached token, next to the key it
certifies. Refused if the certificate's public key does not match the
slot key.

Examples:
  pivca cert store --cert sub.crt --pin 771133`,
	RunE: runCertStore,
}

// Flags for cert commands
var (
	certSubject  string
	certPIN      string
	certMgmtKey  string
	certProfile  string
	certValidity string
	certOut      string

	certRootOverwrite bool

	certSignType string
	certSignCSR  string

	certStoreFile string
)

func init() {
	certCmd.AddCommand(certRootCmd)
	certCmd.AddCommand(certCSRCmd)
	certCmd.AddCommand(certSignCmd)
	certCmd.AddCommand(certStoreCmd)

	for _, c := range []*cobra.Command{certRootCmd, certCSRCmd, certSignCmd, certStoreCmd} {
		c.Flags().StringVar(&certPIN, "pin", "", "token PIN (required)")
		_ = c.MarkFlagRequired("pin")
	}
	for _, c := range []*cobra.Command{certRootCmd, certStoreCmd} {
		c.Flags().StringVar(&certMgmtKey, "management-key", "", "explicit AES-256 management key in hex (default: derived from PIN)")
	}
	for _, c := range []*cobra.Command{certRootCmd, certSignCmd} {
		c.Flags().StringVar(&certProfile, "profile", "", "issuance profile file (YAML)")
		c.Flags().StringVar(&certValidity, "validity", "", `validity period, e.g. "20y", "365d" (default from profile)`)
	}

	certRootCmd.Flags().StringVar(&certSubject, "subject", "", `root subject, e.g. "CN=Root CA,O=ACME,C=FR" (default "CN=Root CA")`)
	certRootCmd.Flags().StringVarP(&certOut, "out", "o", "", "output certificate file (PEM) (required)")
	certRootCmd.Flags().BoolVar(&certRootOverwrite, "overwrite", false, "replace an existing key in the slot")
	_ = certRootCmd.MarkFlagRequired("out")

	certCSRCmd.Flags().StringVar(&certSubject, "subject", "", `requested subject (default "CN=Intermediate CA")`)
	certCSRCmd.Flags().StringVarP(&certOut, "out", "o", "", "output CSR file (PEM) (required)")
	_ = certCSRCmd.MarkFlagRequired("out")

	certSignCmd.Flags().StringVar(&certSubject, "subject", "", "override the request's subject; merged with the issuer like the CSR subject")
	certSignCmd.Flags().StringVar(&certSignType, "type", "", "certificate type: intermediate or leaf (required)")
	certSignCmd.Flags().StringVar(&certSignCSR, "csr", "", "certificate request file (required)")
	certSignCmd.Flags().StringVarP(&certOut, "out", "o", "", "output certificate file (PEM) (required)")
	_ = certSignCmd.MarkFlagRequired("type")
	_ = certSignCmd.MarkFlagRequired("csr")
	_ = certSignCmd.MarkFlagRequired("out")

	certStoreCmd.Flags().StringVar(&certStoreFile, "cert", "", "certificate file to store (required)")
	_ = certStoreCmd.MarkFlagRequired("cert")
}

// signValidity resolves the validity period from the flag or profile.
func signValidity(p *policy.Profile, role string) (time.Duration, error) {
	if certValidity != "" {
		d, err := policy.ParseValidity(certValidity)
		if err != nil {
			return 0, err
		}
		if d <= 0 {
			return 0, fmt.Errorf("validity must be positive, got %s", d)
		}
		return d, nil
	}
	switch role {
	case "root":
		return p.Validity.Root, nil
	case "intermediate":
		return p.Validity.Intermediate, nil
	default:
		return p.Validity.Leaf, nil
	}
}

func runCertRoot(cmd *cobra.Command, args []string) error {
	subjectString := certSubject
	if subjectString == "" {
		subjectString = policy.DefaultRootSubject
	}
	requested, err := x509util.ParseName(subjectString)
	if err != nil {
		return fmt.Errorf("invalid --subject: %w", err)
	}
	profile, err := loadProfile(certProfile)
	if err != nil {
		return err
	}
	subject := profile.CompleteSubject(requested)
	validity, err := signValidity(profile, "root")
	if err != nil {
		return err
	}

	return withToken(func(token *piv.Token) error {
		mgmtKey, err := resolveManagementKey(token, certPIN, certMgmtKey)
		if err != nil {
			return err
		}
		tca := &ca.TokenCA{
			Token:         token,
			Slot:          piv.SlotSignature,
			PIN:           certPIN,
			KeyType:       piv.ManagementKeyAES256,
			ManagementKey: mgmtKey,
		}
		cert, err := tca.CreateRoot(subject, validity, certRootOverwrite)
		if err != nil {
			return err
		}
		if err := cli.SaveCertToPath(certOut, cert); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Root certificate written to %s\n", certOut)
		fmt.Fprintf(cmd.OutOrStdout(), "  Subject:   %s\n", subject)
		fmt.Fprintf(cmd.OutOrStdout(), "  Serial:    %s\n", cert.SerialNumber)
		fmt.Fprintf(cmd.OutOrStdout(), "  Not after: %s\n", cert.NotAfter.Format("2006-01-02"))
		return nil
	})
}

func runCertCSR(cmd *cobra.Command, args []string) error {
	subjectString := certSubject
	if subjectString == "" {
		subjectString = policy.DefaultIntermediateSubject
	}
	subject, err := x509util.ParseName(subjectString)
	if err != nil {
		return fmt.Errorf("invalid --subject: %w", err)
	}
	return withToken(func(token *piv.Token) error {
		tca := &ca.TokenCA{Token: token, Slot: piv.SlotSignature, PIN: certPIN}
		der, err := tca.CreateCSR(subject)
		if err != nil {
			return err
		}
		if err := cli.SaveCSRToPath(certOut, der); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Certificate request written to %s\n", certOut)
		return nil
	})
}

func runCertSign(cmd *cobra.Command, args []string) error {
	if certSignType != "intermediate" && certSignType != "leaf" {
		return fmt.Errorf("invalid --type %q: want intermediate or leaf", certSignType)
	}
	var requested x509util.Name
	if certSubject != "" {
		var err error
		requested, err = x509util.ParseName(certSubject)
		if err != nil {
			return fmt.Errorf("invalid --subject: %w", err)
		}
	}
	csr, err := cli.LoadCSRFromPath(certSignCSR)
	if err != nil {
		return err
	}
	profile, err := loadProfile(certProfile)
	if err != nil {
		return err
	}
	validity, err := signValidity(profile, certSignType)
	if err != nil {
		return err
	}

	return withToken(func(token *piv.Token) error {
		tca := &ca.TokenCA{Token: token, Slot: piv.SlotSignature, PIN: certPIN}
		issuer, err := tca.Issuer()
		if err != nil {
			return err
		}

		issue := issuer.IssueLeaf
		if certSignType == "intermediate" {
			// Only the root token certifies intermediates.
			if !bytes.Equal(issuer.Certificate.RawIssuer, issuer.Certificate.RawSubject) {
				return fmt.Errorf("attached token does not hold a root certificate; intermediates are signed by the root token")
			}
			issue = issuer.IssueIntermediate
		}
		cert, _, err := issue(csr, requested, validity)
		if err != nil {
			return err
		}
		if err := cli.SaveCertToPath(certOut, cert); err != nil {
			return err
		}

		subject, err := x509util.NameFromCert(cert)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Certificate written to %s\n", certOut)
		fmt.Fprintf(cmd.OutOrStdout(), "  Subject:   %s\n", subject)
		fmt.Fprintf(cmd.OutOrStdout(), "  Serial:    %s\n", cert.SerialNumber)
		fmt.Fprintf(cmd.OutOrStdout(), "  Not after: %s\n", cert.NotAfter.Format("2006-01-02"))
		return nil
	})
}

func runCertStore(cmd *cobra.Command, args []string) error {
	cert, err := cli.LoadCertFromPath(certStoreFile)
	if err != nil {
		return err
	}
	return withToken(func(token *piv.Token) error {
		mgmtKey, err := resolveManagementKey(token, certPIN, certMgmtKey)
		if err != nil {
			return err
		}
		tca := &ca.TokenCA{
			Token:         token,
			Slot:          piv.SlotSignature,
			PIN:           certPIN,
			KeyType:       piv.ManagementKeyAES256,
			ManagementKey: mgmtKey,
		}
		if err := tca.StoreCertificate(cert); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Certificate stored on token")
		return nil
	})
}
