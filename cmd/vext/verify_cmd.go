package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/jathongeovanni-coder/vext-vault/pkg/attest"
	"github.com/jathongeovanni-coder/vext-vault/pkg/auditlog"
	"github.com/jathongeovanni-coder/vext-vault/pkg/ceremony"
	"github.com/jathongeovanni-coder/vext-vault/pkg/config"
)

// CheckResult is one verification finding.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

// VerifyReport summarizes `vext verify`.
type VerifyReport struct {
	Log      string        `json:"log"`
	Verified bool          `json:"verified"`
	Sessions int           `json:"sessions"`
	Entries  int           `json:"entries"`
	Checks   []CheckResult `json:"checks"`
}

func (r *VerifyReport) add(name string, err error) {
	c := CheckResult{Name: name, Pass: err == nil}
	if err != nil {
		c.Reason = err.Error()
		r.Verified = false
	}
	r.Checks = append(r.Checks, c)
}

// splitSessions cuts a multi-session JSONL log into chains. Every session
// restarts at seq 1 from the genesis hash.
func splitSessions(entries []auditlog.Entry) [][]auditlog.Entry {
	var out [][]auditlog.Entry
	for _, e := range entries {
		if e.Seq == 1 || len(out) == 0 {
			out = append(out, nil)
		}
		out[len(out)-1] = append(out[len(out)-1], e)
	}
	return out
}

// verifyEntries checks chain continuity per session, nonce uniqueness across
// the whole log and every signature.
func verifyEntries(path, domain string, entries []auditlog.Entry) *VerifyReport {
	report := &VerifyReport{Log: path, Verified: true, Entries: len(entries)}
	sessions := splitSessions(entries)
	report.Sessions = len(sessions)

	for i, s := range sessions {
		report.add(fmt.Sprintf("chain[%d]", i+1), auditlog.VerifyChain(s))
	}

	seen := make(map[string]int, len(entries))
	for i, e := range entries {
		a := e.Attestation
		if first, dup := seen[a.Nonce]; dup {
			report.add(fmt.Sprintf("nonce[%d]", i+1), fmt.Errorf("%w: also at entry %d", auditlog.ErrDuplicateNonce, first))
		}
		seen[a.Nonce] = i + 1
		report.add(fmt.Sprintf("signature[%d]", i+1), attest.Verify(a, domain))
	}
	return report
}

// runVerifyCmd implements `vext verify`.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		logPath    string
		configPath string
		domain     string
		jsonOutput bool
	)
	cmd.StringVar(&logPath, "log", "", "Path to JSONL audit log (REQUIRED)")
	cmd.StringVar(&configPath, "config", "", "Path to YAML config; supplies the ceremony domain")
	cmd.StringVar(&domain, "domain", "", "Domain separation prefix (default from config)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON to stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if logPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --log is required")
		return 2
	}
	if domain == "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		domain = cfg.Ceremony.Domain
		if domain == "" {
			domain = ceremony.DefaultDomain
		}
	}

	entries, err := auditlog.ReadFile(logPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	report := verifyEntries(logPath, domain, entries)

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else if report.Verified {
		_, _ = fmt.Fprintf(stdout, "✅ Audit log verification PASSED\n")
		_, _ = fmt.Fprintf(stdout, "Log: %s\n", logPath)
		_, _ = fmt.Fprintf(stdout, "Sessions: %d, entries: %d\n", report.Sessions, report.Entries)
	} else {
		_, _ = fmt.Fprintf(stdout, "❌ Audit log verification FAILED\n")
		_, _ = fmt.Fprintf(stdout, "Log: %s\n", logPath)
		for _, c := range report.Checks {
			if !c.Pass {
				_, _ = fmt.Fprintf(stdout, "  - %s: %s\n", c.Name, c.Reason)
			}
		}
	}

	if !report.Verified {
		return 1
	}
	return 0
}
