package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/jathongeovanni-coder/vext-vault/pkg/artifacts"
	"github.com/jathongeovanni-coder/vext-vault/pkg/auditlog"
)

type exportResult struct {
	SessionID string `json:"session_id"`
	Entries   int    `json:"entries"`
	Digest    string `json:"digest"`
}

// runExportCmd implements `vext export`.
//
// Sessions come from a JSONL log (--log) or from the SQL archive (--session).
// Each session is chain-verified and stored as one bundle in the configured
// artifact store.
func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		configPath string
		logPath    string
		sessionID  string
		jsonOutput bool
	)
	cmd.StringVar(&configPath, "config", "", "Path to YAML config (env VEXT_* overrides)")
	cmd.StringVar(&logPath, "log", "", "JSONL audit log to export (default archive.log_file)")
	cmd.StringVar(&sessionID, "session", "", "Export one session from the SQL archive instead")
	cmd.BoolVar(&jsonOutput, "json", false, "Output result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	rt, err := newRuntime(ctx, configPath, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.Close(ctx)

	store, err := artifacts.NewStore(ctx, rt.cfg.ArtifactStore())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	sessions := make(map[string][]auditlog.Entry)
	var order []string
	if sessionID != "" {
		if rt.cfg.Archive.Driver == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --session requires archive.driver")
			return 2
		}
		sink, err := rt.openArchive(ctx, sessionID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		entries, err := sink.Load(ctx, sessionID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		sessions[sessionID] = entries
		order = append(order, sessionID)
	} else {
		if logPath == "" {
			logPath = rt.cfg.Archive.LogFile
		}
		if logPath == "" {
			_, _ = fmt.Fprintln(stderr, "Error: --log or --session is required")
			return 2
		}
		entries, err := auditlog.ReadFile(logPath)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		for i, s := range splitSessions(entries) {
			id := fmt.Sprintf("%s#%d", filepath.Base(logPath), i+1)
			sessions[id] = s
			order = append(order, id)
		}
	}

	now := time.Now()
	results := make([]exportResult, 0, len(order))
	for _, id := range order {
		digest, err := auditlog.ExportBundle(ctx, store, id, sessions[id], now)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: session %s: %v\n", id, err)
			return 1
		}
		results = append(results, exportResult{SessionID: id, Entries: len(sessions[id]), Digest: digest})
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(results, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
		return 0
	}
	for _, r := range results {
		_, _ = fmt.Fprintf(stdout, "Exported %s (%d entries) -> %s\n", r.SessionID, r.Entries, r.Digest)
	}
	return 0
}
