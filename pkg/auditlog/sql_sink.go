package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jathongeovanni-coder/vext-vault/pkg/contracts"
)

// Dialect selects placeholder syntax for the archive queries.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const archiveColumns = "session_id, seq, prev_hash, hash, asset, identity_handle, second_factor_proof, " +
	"hold_duration_ms, nonce, timestamp_utc, entropy, signature, version, trust_class, signer_key"

// SQLSink archives entries into a relational table keyed by session and sequence.
type SQLSink struct {
	db        *sql.DB
	dialect   Dialect
	sessionID string
}

// NewSQLSink archives entries for sessionID. The caller owns db.
func NewSQLSink(db *sql.DB, dialect Dialect, sessionID string) *SQLSink {
	return &SQLSink{db: db, dialect: dialect, sessionID: sessionID}
}

func (s *SQLSink) ph(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLSink) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.ph(i + 1)
	}
	return strings.Join(parts, ", ")
}

// EnsureSchema creates the archive table if it does not exist.
func (s *SQLSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS intent_attestations (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		asset TEXT NOT NULL,
		identity_handle TEXT NOT NULL,
		second_factor_proof TEXT NOT NULL,
		hold_duration_ms BIGINT NOT NULL,
		nonce TEXT NOT NULL UNIQUE,
		timestamp_utc BIGINT NOT NULL,
		entropy TEXT NOT NULL,
		signature TEXT NOT NULL,
		version TEXT NOT NULL,
		trust_class TEXT NOT NULL,
		signer_key TEXT NOT NULL,
		PRIMARY KEY (session_id, seq)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create archive table: %w", err)
	}
	return nil
}

func (s *SQLSink) Write(ctx context.Context, e Entry) error {
	a := e.Attestation
	query := "INSERT INTO intent_attestations (" + archiveColumns + ") VALUES (" + s.placeholders(15) + ")"
	_, err := s.db.ExecContext(ctx, query,
		s.sessionID, e.Seq, e.PrevHash, e.Hash,
		string(a.Asset), a.IdentityHandle, a.SecondFactorProof, a.HoldDurationMs,
		a.Nonce, a.TimestampUTC, a.Entropy, a.Signature,
		a.Version, string(a.TrustClass), a.SignerKey,
	)
	if err != nil {
		return fmt.Errorf("failed to archive entry %d: %w", e.Seq, err)
	}
	return nil
}

// Load returns the archived entries of a session ordered by sequence.
func (s *SQLSink) Load(ctx context.Context, sessionID string) ([]Entry, error) {
	query := "SELECT " + archiveColumns + " FROM intent_attestations WHERE session_id = " + s.ph(1) + " ORDER BY seq"
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			sid        string
			asset      string
			trustClass string
		)
		a := &e.Attestation
		if err := rows.Scan(&sid, &e.Seq, &e.PrevHash, &e.Hash,
			&asset, &a.IdentityHandle, &a.SecondFactorProof, &a.HoldDurationMs,
			&a.Nonce, &a.TimestampUTC, &a.Entropy, &a.Signature,
			&a.Version, &trustClass, &a.SignerKey); err != nil {
			return nil, fmt.Errorf("failed to scan archive row: %w", err)
		}
		a.Asset = contracts.Asset(asset)
		a.TrustClass = contracts.TrustClass(trustClass)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archive: %w", err)
	}
	return out, nil
}
