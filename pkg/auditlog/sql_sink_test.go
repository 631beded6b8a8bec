package auditlog

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestSQLSink_WritePostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewSQLSink(db, DialectPostgres, "session-1")
	a := sample("n-1")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO intent_attestations (" + archiveColumns + ") VALUES ($1, $2")).
		WithArgs("session-1", 1, GenesisHash, "h1", "SOL", "ABC123", "2fa:delay", int64(1500),
			"n-1", int64(1736962043), "0a1b2c3d", "deadbeef", "1.0.0", "device", "cafe").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = sink.Write(context.Background(), Entry{Seq: 1, PrevHash: GenesisHash, Hash: "h1", Attestation: a})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_WriteError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewSQLSink(db, DialectSQLite, "session-1")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO intent_attestations")).
		WillReturnError(sql.ErrConnDone)

	err = sink.Write(context.Background(), Entry{Seq: 1, Attestation: sample("n-1")})
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestSQLSink_LoadPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewSQLSink(db, DialectPostgres, "session-1")
	rows := sqlmock.NewRows([]string{"session_id", "seq", "prev_hash", "hash", "asset", "identity_handle",
		"second_factor_proof", "hold_duration_ms", "nonce", "timestamp_utc", "entropy", "signature",
		"version", "trust_class", "signer_key"}).
		AddRow("session-1", 1, GenesisHash, "h1", "ETH", "ABC123", "2fa:delay", 1500, "n-1", 1736962043,
			"0a1b2c3d", "deadbeef", "1.0.0", "identity", "cafe")

	mock.ExpectQuery(regexp.QuoteMeta("FROM intent_attestations WHERE session_id = $1 ORDER BY seq")).
		WithArgs("session-1").
		WillReturnRows(rows)

	entries, err := sink.Load(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ETH", string(entries[0].Attestation.Asset))
	assert.Equal(t, "identity", string(entries[0].Attestation.TrustClass))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSink_SQLiteArchive(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	sink := NewSQLSink(db, DialectSQLite, "session-1")
	require.NoError(t, sink.EnsureSchema(ctx))

	log := New(sink)
	for _, n := range []string{"n-1", "n-2", "n-3"} {
		_, err := log.Append(ctx, sample(n))
		require.NoError(t, err)
	}

	archived, err := sink.Load(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, log.Entries(), archived)
	assert.NoError(t, VerifyChain(archived))
}
