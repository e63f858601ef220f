package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confcrm/internal/auth"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenIssue(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_ISSUER", "confcrm")

	out, err := run(t, "token", "issue", "--user", "u1", "--ttl", "1h")
	require.NoError(t, err)

	claims, err := (&auth.Tokens{Secret: []byte("s3cret"), Issuer: "confcrm"}).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
}

func TestTokenIssueRequiresUser(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	_, err := run(t, "token", "issue")
	assert.Error(t, err)
}

func TestMigrateNeedsDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	os.Unsetenv("DB_DSN")
	_, err := run(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
}

func TestReadContacts(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`[{"id":"c1","first_name":"Ana","email":"ana@example.com"}]`), 0o600))
	list, err := readContacts(good)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ana", list[0].FirstName)

	noID := filepath.Join(dir, "noid.json")
	require.NoError(t, os.WriteFile(noID, []byte(`[{"first_name":"Ana"}]`), 0o600))
	_, err = readContacts(noID)
	assert.Error(t, err)
}
