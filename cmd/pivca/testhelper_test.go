package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/remiblancher/pivca/internal/piv"
	"github.com/remiblancher/pivca/internal/pivtest"
)

// executeCommand executes a Cobra command with the given args and
// returns the combined output.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	return executeCommandWithInput(root, "", args...)
}

// executeCommandWithInput additionally feeds data on standard input.
func executeCommandWithInput(root *cobra.Command, input string, args ...string) (output string, err error) {
	resetFlags()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(args)

	err = root.Execute()
	return buf.String(), err
}

// resetFlags clears the package-level flag variables so values do not
// leak between test invocations.
func resetFlags() {
	provisionRole, provisionPIN, provisionPUK, provisionMgmtKey = "", "", "", ""
	provisionNoKey, provisionYes = false, false
	infoPEM = false
	unblockPUK, unblockNewPIN = "", ""
	resetYes = false

	certSubject, certPIN, certMgmtKey, certProfile, certValidity, certOut = "", "", "", "", "", ""
	certRootOverwrite = false
	certSignType, certSignCSR, certStoreFile = "", "", ""
}

// persistentCard keeps the emulated card alive across command
// invocations: each command opens and closes its own token session, but
// the hardware state has to survive like a real card would.
type persistentCard struct {
	*pivtest.Card
}

func (persistentCard) Close() error { return nil }

// stubToken points openToken at an emulated card for the duration of
// the test.
func stubToken(t *testing.T, card *pivtest.Card) {
	t.Helper()
	old := openToken
	openToken = func() (*piv.Token, error) {
		return piv.NewToken(persistentCard{card})
	}
	t.Cleanup(func() { openToken = old })
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

func newTestContext(t *testing.T) *testContext {
	t.Helper()
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name string, content []byte) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		tc.t.Fatalf("WriteFile: %v", err)
	}
	return path
}
