package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pivca/internal/cli"
	"github.com/remiblancher/pivca/internal/credential"
	"github.com/remiblancher/pivca/internal/piv"
	"github.com/remiblancher/pivca/internal/provision"
	"github.com/remiblancher/pivca/internal/x509util"
)

// tokenCmd is the parent command for token administration.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Hardware token administration",
	Long: `Administer PIV hardware tokens.

Commands:
  provision  Reset a token and install CA credentials and key
  info       Display token status and provisioning record
  unblock    Restore a blocked PIN using the PUK
  reset      Wipe a token back to factory state

Examples:
  # Provision a fresh token as the root authority
  pivca token provision --role root --pin 482913 --puk rescue42

  # Inspect an attached token
  pivca token info`,
}

var tokenProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a token for CA duty",
	Long: `Provision a token: full reset, operator credentials, CA key.

The token is wiped first, so provisioning a used token destroys whatever
keys it held. The PIN must be 6 to 8 digits and the PUK 6 to 8
alphanumeric characters. The management key is derived from the PIN
unless --management-key supplies an explicit AES-256 key in hex.

The CA key pair is generated inside the token's signature slot; the
private half never leaves the card.

Examples:
  pivca token provision --role root --pin 482913 --puk rescue42
  pivca token provision --role intermediate --pin 771133 --puk 22446688 \
      --management-key 0102...1f20`,
	RunE: runTokenProvision,
}

var tokenInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display token status",
	Long: `Display firmware version, serial number, retry counters, the
provisioning record and the stored CA certificate of the attached token.`,
	RunE: runTokenInfo,
}

var tokenUnblockCmd = &cobra.Command{
	Use:   "unblock",
	Short: "Restore a blocked PIN using the PUK",
	Long: `Restore a blocked PIN using the PUK.

After too many wrong PIN attempts the token refuses the PIN entirely.
Unblocking sets a fresh PIN without touching keys or certificates.

Examples:
  pivca token unblock --puk rescue42 --new-pin 135791`,
	RunE: runTokenUnblock,
}

var tokenResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe a token back to factory state",
	Long: `Wipe the PIV application: every key, certificate and credential on
the token is destroyed and factory defaults are restored.

Asks for confirmation unless --yes is given.`,
	RunE: runTokenReset,
}

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List attached smart-card readers",
	RunE: func(cmd *cobra.Command, args []string) error {
		readers, err := piv.Readers()
		if err != nil {
			return err
		}
		if len(readers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no readers attached")
			return nil
		}
		for _, r := range readers {
			fmt.Fprintln(cmd.OutOrStdout(), r)
		}
		return nil
	},
}

// Flags for token commands
var (
	provisionRole    string
	provisionPIN     string
	provisionPUK     string
	provisionMgmtKey string
	provisionNoKey   bool
	provisionYes     bool

	infoPEM bool

	unblockPUK    string
	unblockNewPIN string

	resetYes bool
)

func init() {
	tokenCmd.AddCommand(tokenProvisionCmd)
	tokenCmd.AddCommand(tokenInfoCmd)
	tokenCmd.AddCommand(tokenUnblockCmd)
	tokenCmd.AddCommand(tokenResetCmd)

	tokenProvisionCmd.Flags().StringVar(&provisionRole, "role", "", "token role: root or intermediate (required)")
	tokenProvisionCmd.Flags().StringVar(&provisionPIN, "pin", "", "operator PIN, 6-8 digits (required)")
	tokenProvisionCmd.Flags().StringVar(&provisionPUK, "puk", "", "operator PUK, 6-8 alphanumeric characters (required)")
	tokenProvisionCmd.Flags().StringVar(&provisionMgmtKey, "management-key", "", "explicit AES-256 management key in hex (default: derived from PIN)")
	tokenProvisionCmd.Flags().BoolVar(&provisionNoKey, "no-key", false, "skip CA key generation")
	tokenProvisionCmd.Flags().BoolVarP(&provisionYes, "yes", "y", false, "skip the confirmation prompt")
	_ = tokenProvisionCmd.MarkFlagRequired("role")
	_ = tokenProvisionCmd.MarkFlagRequired("pin")
	_ = tokenProvisionCmd.MarkFlagRequired("puk")

	tokenInfoCmd.Flags().BoolVar(&infoPEM, "pem", false, "also print the stored certificate as PEM")

	tokenUnblockCmd.Flags().StringVar(&unblockPUK, "puk", "", "current PUK (required)")
	tokenUnblockCmd.Flags().StringVar(&unblockNewPIN, "new-pin", "", "replacement PIN, 6-8 digits (required)")
	_ = tokenUnblockCmd.MarkFlagRequired("puk")
	_ = tokenUnblockCmd.MarkFlagRequired("new-pin")

	tokenResetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip the confirmation prompt")
}

func runTokenProvision(cmd *cobra.Command, args []string) error {
	// Validate everything before touching the card: provisioning starts
	// with a destructive reset.
	role := provision.Role(provisionRole)
	if !role.Valid() {
		return fmt.Errorf("invalid --role %q: want root or intermediate", provisionRole)
	}
	if err := credential.ValidatePIN(provisionPIN); err != nil {
		return err
	}
	if err := credential.ValidatePUK(provisionPUK); err != nil {
		return err
	}
	var mgmtKey []byte
	if provisionMgmtKey != "" {
		var err error
		mgmtKey, err = credential.ParseManagementKey(provisionMgmtKey)
		if err != nil {
			return err
		}
	}

	if !provisionYes {
		ok, err := confirm(cmd, "Provisioning WIPES the token. Continue?")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
	}

	return withToken(func(token *piv.Token) error {
		res, err := provision.Provision(token, provision.Options{
			Role:          role,
			PIN:           provisionPIN,
			PUK:           provisionPUK,
			ManagementKey: mgmtKey,
			GenerateKey:   !provisionNoKey,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token %d provisioned as %s authority\n", res.Record.Serial, res.Record.Role)
		if res.Record.KeyGenerated {
			fmt.Fprintf(cmd.OutOrStdout(), "CA key generated in slot %02X (ECDSA P-384)\n", res.Record.Slot)
		}
		if len(res.Record.DerivationSalt) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Management key derived from PIN")
		}
		return nil
	})
}

func runTokenInfo(cmd *cobra.Command, args []string) error {
	return withToken(func(token *piv.Token) error {
		out := cmd.OutOrStdout()

		major, minor, patch, err := token.Version()
		if err != nil {
			return err
		}
		serial, err := token.Serial()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Firmware:     %d.%d.%d\n", major, minor, patch)
		fmt.Fprintf(out, "Serial:       %d\n", serial)

		pinRetries, pukRetries, err := token.Retries()
		if err != nil {
			return err
		}
		pinStatus := fmt.Sprintf("%d retries", pinRetries)
		if pinRetries == 0 {
			pinStatus = cli.FormatStatus("blocked")
		}
		fmt.Fprintf(out, "PIN:          %s\n", pinStatus)
		fmt.Fprintf(out, "PUK:          %d retries\n", pukRetries)

		record, err := provision.ReadRecord(token)
		switch {
		case errors.Is(err, piv.ErrNotFound):
			fmt.Fprintf(out, "State:        %s\n", cli.FormatStatus("factory"))
			return nil
		case err != nil:
			return err
		}
		fmt.Fprintf(out, "State:        %s\n", cli.FormatStatus("provisioned"))
		fmt.Fprintf(out, "Role:         %s\n", record.Role)

		cert, err := token.Certificate(piv.Slot(record.Slot))
		if errors.Is(err, piv.ErrNotFound) {
			fmt.Fprintln(out, "Certificate:  none")
			return nil
		} else if err != nil {
			return err
		}
		subject, err := x509util.NameFromCert(cert)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Certificate:  %s\n", subject)
		fmt.Fprintf(out, "  Serial:     %s\n", cert.SerialNumber)
		fmt.Fprintf(out, "  Not after:  %s\n", cert.NotAfter.Format("2006-01-02"))
		if infoPEM {
			return cli.WriteCertPEM(out, cert)
		}
		return nil
	})
}

func runTokenUnblock(cmd *cobra.Command, args []string) error {
	if err := credential.ValidatePIN(unblockNewPIN); err != nil {
		return err
	}
	return withToken(func(token *piv.Token) error {
		if err := token.Unblock(unblockPUK, unblockNewPIN); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "PIN unblocked")
		return nil
	})
}

func runTokenReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		ok, err := confirm(cmd, "Reset DESTROYS every key on the token. Continue?")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("aborted")
		}
	}
	return withToken(func(token *piv.Token) error {
		if err := token.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token reset to factory state")
		return nil
	})
}
