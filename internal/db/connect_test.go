package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/db/dbtest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	d := dbtest.Open(t)
	require.NoError(t, db.Migrate(context.Background(), d))
	require.NoError(t, db.Migrate(context.Background(), d))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	d := dbtest.Open(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO event_log (id,typ,key,data,created_at) VALUES ('e1','t','k','{}',1)`)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, d.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWithTxCommits(t *testing.T) {
	d := dbtest.Open(t)
	ctx := context.Background()

	require.NoError(t, d.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO event_log (id,typ,key,data,created_at) VALUES ('e1','t','k','{}',1)`)
		return err
	}))

	var n int
	require.NoError(t, d.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOnlyOneCurrentVersionPerGroup(t *testing.T) {
	d := dbtest.Open(t)
	ctx := context.Background()
	ins := `INSERT INTO resource_versions (id,group_id,kind,version_number,is_current,title,content_json,created_by,created_at)
	        VALUES ($1,'g1','knowledge',$2,1,'t','{}','u',1)`
	_, err := d.SQL.ExecContext(ctx, ins, "v1", 1)
	require.NoError(t, err)
	_, err = d.SQL.ExecContext(ctx, ins, "v2", 2)
	assert.Error(t, err, "second current row for the same group must violate the partial unique index")
}

func TestForUpdateDependsOnDriver(t *testing.T) {
	assert.Equal(t, "", (&db.DB{Driver: db.DriverSQLite}).ForUpdate())
	assert.Equal(t, " FOR UPDATE", (&db.DB{Driver: db.DriverPostgres}).ForUpdate())
}
