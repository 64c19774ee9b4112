// Command pivca manages an air-gapped certificate authority whose keys
// live inside PIV hardware tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables (injected by GoReleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pivca",
	Short: "Hardware-token certificate authority",
	Long: `pivca operates a small offline certificate authority whose private keys
are generated and kept inside PIV hardware tokens. Keys never exist
outside the token: every signature is produced by the card.

The trust hierarchy is fixed to a single algorithm (ECDSA P-384 with
SHA-384). Certificates, CSRs and the tokens themselves are the only
state; pivca keeps nothing on disk besides the files you ask it to
write.

Typical lifecycle:

  # Provision a fresh token as the root authority
  pivca token provision --role root --pin 482913 --puk rescue42

  # Self-sign the root certificate on the token
  pivca cert root --subject "CN=Root CA,O=ACME,C=FR" --pin 482913 --out root.crt

  # On a second provisioned token: request an intermediate
  pivca cert csr --subject "CN=Intermediate CA" --pin 771133 --out sub.csr

  # Back on the root token: sign it
  pivca cert sign --type intermediate --csr sub.csr --pin 482913 --out sub.crt

Examples:
  pivca token info
  pivca token unblock --puk rescue42 --new-pin 135791
  pivca cert sign --type leaf --csr device.csr --pin 482913 --out device.crt`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(tokenCmd) // pivca token ...
	rootCmd.AddCommand(certCmd)  // pivca cert ...
	rootCmd.AddCommand(readersCmd)
}
