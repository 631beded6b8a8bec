package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v1.0.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "prices":
		return runPricesCmd(args[2:], stdout, stderr)
	case "keys":
		if len(args) < 3 {
			_, _ = fmt.Fprintln(stderr, "Usage: vext keys <show|rotate|totp>")
			return 2
		}
		return runKeysCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "vext %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorRed   = "\033[31m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sVEXT Vault %s%s\n", ColorBold+ColorBlue, version, ColorReset)
	fmt.Fprintf(w, "%sPossession. Identity. Intent.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  vext <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "CEREMONY")
	printCommand(w, "demo", "Run a scripted attestation session (--count, --offline, --token)")
	printCommand(w, "prices", "Fetch spot prices and quote the checkout amount")

	printSection(w, "AUDIT")
	printCommand(w, "verify", "Verify an audit log: schema, chain, nonces, signatures (--log)")
	printCommand(w, "export", "Export audit sessions to the artifact store (--log | --session)")

	printSection(w, "KEY MANAGEMENT")
	printCommand(w, "keys", "Show or rotate the keystore, enroll TOTP (show|rotate|totp)")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
