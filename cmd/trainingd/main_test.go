package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-training/internal/db"
	"github.com/mind-engage/mindengage-training/internal/directory"
	"github.com/mind-engage/mindengage-training/internal/scope"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateAndAddUser(t *testing.T) {
	directory.BcryptCost = bcrypt.MinCost
	dsn := "file:" + filepath.Join(t.TempDir(), "training.db") + "?mode=rwc"
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_DSN", dsn)
	t.Setenv("AUTH_HMAC_SECRET", "cli-test-secret-0123")
	t.Setenv("LOG_LEVEL", "error")

	_, err := run(t, "migrate")
	require.NoError(t, err)

	out, err := run(t, "user", "add", "--id", "adm", "--username", "admin", "--password", "pw", "--roles", "admin,mentor")
	require.NoError(t, err)
	assert.Contains(t, out, "saved adm")

	d, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	defer d.Close()
	u, err := directory.NewStore(d.SQL).GetByUsername(context.Background(), "admin")
	require.NoError(t, err)
	assert.ElementsMatch(t, []scope.Role{scope.RoleAdmin, scope.RoleMentor}, u.Roles)
	assert.True(t, directory.CheckPassword(u.PasswordHash, "pw"))
}

func TestInvalidConfigIsRejected(t *testing.T) {
	t.Setenv("AUTH_HMAC_SECRET", "short")
	_, err := run(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth_hmac_secret")
}
