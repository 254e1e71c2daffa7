package sqlite3_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nasermirzaei89/talkback/db/sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateUpAndDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	db, err := sqlite3.NewDB(ctx, "file:"+filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})

	countTables := func() int {
		var count int

		err := db.QueryRowContext(
			ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'comments'",
		).Scan(&count)
		require.NoError(t, err)

		return count
	}

	require.NoError(t, sqlite3.MigrateUp(ctx, db))
	assert.Equal(t, 1, countTables())

	// Running again is a no-op.
	require.NoError(t, sqlite3.MigrateUp(ctx, db))
	assert.Equal(t, 1, countTables())

	require.NoError(t, sqlite3.MigrateDown(ctx, db))
	assert.Equal(t, 0, countTables())
}

func TestCommentsTableRejectsTokenOnAcceptedRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.ExecContext(
		ctx,
		`INSERT INTO comments (id, target, message, status, created_at, accept_token, token_expiry)
VALUES ('x', '/a', 'hello', 'accepted', 0, 'leftover', 0)`,
	)
	require.Error(t, err)

	_, err = db.ExecContext(
		ctx,
		`INSERT INTO comments (id, target, message, status, created_at, accept_token, token_expiry)
VALUES ('y', '/a', '', 'pending', 0, 'tok', 0)`,
	)
	require.Error(t, err)
}

func TestPragmasSurviveConnectionReplacement(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDB(t)

	// Without idle connections every query runs on a freshly opened one.
	db.SetMaxIdleConns(0)

	for range 2 {
		var busyTimeout, foreignKeys int

		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
		require.NoError(t, db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys))

		assert.Equal(t, 5000, busyTimeout)
		assert.Equal(t, 1, foreignKeys)
	}

	var journalMode string

	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}
