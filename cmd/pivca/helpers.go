package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pivca/internal/credential"
	"github.com/remiblancher/pivca/internal/piv"
	"github.com/remiblancher/pivca/internal/policy"
	"github.com/remiblancher/pivca/internal/provision"
)

// openToken connects to the single attached token. A package variable
// so tests can substitute an emulated card.
var openToken = piv.OpenToken

// withToken opens the token, runs fn and always releases the card.
func withToken(fn func(*piv.Token) error) error {
	token, err := openToken()
	if err != nil {
		return err
	}
	defer func() { _ = token.Close() }()
	return fn(token)
}

// resolveManagementKey turns the --management-key flag (hex) and the
// token's provisioning record into the concrete key. With no flag, the
// key is re-derived from the PIN and the recorded salt.
func resolveManagementKey(token *piv.Token, pin, flagValue string) ([]byte, error) {
	var explicit []byte
	if flagValue != "" {
		var err error
		explicit, err = credential.ParseManagementKey(flagValue)
		if err != nil {
			return nil, err
		}
		return explicit, nil
	}
	record, err := provision.ReadRecord(token)
	if err != nil {
		return nil, fmt.Errorf("reading provisioning record (pass --management-key for a token provisioned elsewhere): %w", err)
	}
	return provision.ManagementKey(record, pin, nil)
}

// loadProfile loads the issuance profile, or the defaults when no file
// is given.
func loadProfile(path string) (*policy.Profile, error) {
	if path == "" {
		return policy.Default(), nil
	}
	return policy.LoadProfileFromFile(path)
}

// confirm asks the operator to type yes before a destructive operation.
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
