package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).Run(context.Background(), append([]string{"creditsctl"}, args...))
	return stdout.String(), err
}

func initRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	t.Setenv("DUA_IDENTITY_PATH", filepath.Join(root, "identity.db"))
	t.Setenv("DUA_LOG_FILE", "-")
	out, err := runCLI(t, "--root", root, "init", "--email", "root@dua.ia", "--ledger-path", filepath.Join(root, "ledger.db"))
	require.NoError(t, err)
	require.Contains(t, out, "initialised")
	return root
}

func TestGrantBalanceAndRefund(t *testing.T) {
	root := initRoot(t)

	out, err := runCLI(t, "--root", root, "grant", "--reason", "welcome", "ana@dua.ia", "40")
	require.NoError(t, err)
	require.Contains(t, out, "granted 40")
	require.Contains(t, out, "available 40")

	out, err = runCLI(t, "--root", root, "balance", "show", "ana@dua.ia")
	require.NoError(t, err)
	require.Contains(t, out, "available=40")

	_, err = runCLI(t, "--root", root, "grant", "ana@dua.ia", "many")
	require.Error(t, err)

	_, err = runCLI(t, "--root", root, "refund", "no-such-tx")
	require.Error(t, err)
}

func TestCatalogList(t *testing.T) {
	root := initRoot(t)

	out, err := runCLI(t, "--root", root, "catalog", "list", "--category", "music")
	require.NoError(t, err)
	require.Contains(t, out, "music_generate_v5")
	require.NotContains(t, out, "chat_basic")
}

func TestInviteGenerate(t *testing.T) {
	root := initRoot(t)

	out, err := runCLI(t, "--root", root, "invite", "generate", "--count", "3", "--credits", "25", "--prefix", "BETA")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		require.True(t, strings.HasPrefix(l, "BETA"), l)
	}

	out, err = runCLI(t, "--root", root, "invite", "list")
	require.NoError(t, err)
	require.Contains(t, out, "BETA")
}

func TestUsersAndTokens(t *testing.T) {
	root := initRoot(t)

	out, err := runCLI(t, "--root", root, "users", "promote", "ops@dua.ia", "admin")
	require.NoError(t, err)
	require.Contains(t, out, "ops@dua.ia is now admin")

	_, err = runCLI(t, "--root", root, "users", "promote", "ops@dua.ia", "owner")
	require.Error(t, err)

	out, err = runCLI(t, "--root", root, "token", "issue", "--ttl", "1h", "ops@dua.ia")
	require.NoError(t, err)
	require.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)

	out, err = runCLI(t, "--root", root, "users", "list")
	require.NoError(t, err)
	require.Contains(t, out, "ops@dua.ia")
}

func TestInitRefusesToOverwrite(t *testing.T) {
	root := initRoot(t)
	_, err := runCLI(t, "--root", root, "init", "--email", "root@dua.ia")
	require.Error(t, err)
}
