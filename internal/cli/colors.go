package cli

// ANSI color codes for terminal output.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
)

// FormatStatus returns a colored status string for token and
// certificate states.
func FormatStatus(status string) string {
	switch status {
	case "ok", "valid", "provisioned":
		return ColorGreen + status + ColorReset
	case "locked", "blocked", "expired":
		return ColorRed + status + ColorReset
	case "factory":
		return ColorYellow + status + ColorReset
	default:
		return status
	}
}
