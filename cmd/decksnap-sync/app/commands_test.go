package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decksnap/decksnap-sync/database"
	"github.com/decksnap/decksnap-sync/internal/config"
)

func execute(t *testing.T, ctx context.Context, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()

	out, err := execute(t, context.Background(), "", "version", "--format", "json")
	require.NoError(t, err)
	var info map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["version"])
	assert.NotEmpty(t, info["go_version"])

	out, err = execute(t, context.Background(), "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "decksnap-sync "), out)
}

func TestServeCmd_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing config",
			args:    []string{"serve"},
			wantErr: "a configuration file is required",
		},
		{
			name:    "config not found",
			args:    []string{"serve", "--config", filepath.Join(t.TempDir(), "missing.yaml")},
			wantErr: "failed to load configuration",
		},
		{
			name:    "invalid config",
			args:    []string{"serve", "--config", writeConfig(t, "storage:\n  type: s3\n")},
			wantErr: "storage.type must be one of",
		},
		{
			name: "invalid address",
			args: []string{"serve", "--config", writeConfig(t, ""), "--address", "nowhere"},
			wantErr: "address is not a valid host:port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := execute(t, context.Background(), "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMigrateCmd_Errors(t *testing.T) {
	t.Parallel()

	_, err := execute(t, context.Background(), "", "migrate", "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "config" not set`)

	_, err = execute(t, context.Background(), "", "migrate", "up", "--config", writeConfig(t, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database configuration is required")
}

func TestMigrateCmd_Cancelled(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `database:
  host: db.internal
  port: 5432
  user: sync
  database: decksnap`)

	for _, sub := range []string{"up", "down"} {
		out, err := execute(t, context.Background(), "no\n", "migrate", sub, "--config", path)
		require.NoError(t, err, sub)
		assert.Contains(t, out, "sync@db.internal:5432/decksnap")
		assert.Contains(t, out, "Continue? (yes/no)")
	}
}

// Tests touching the process environment cannot run in parallel.

func TestServeCmd_StopsOnCancel(t *testing.T) {
	t.Setenv(config.EnvJWTSecret, "s3cret")
	t.Setenv(config.EnvInternalToken, "")

	path := writeConfig(t, "server:\n  shutdownTimeout: 2s\n")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, ctx, "", "serve", "--config", path, "--address", "127.0.0.1:0")
		done <- err
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestMigrateCmd_UpDown(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx := context.Background()
	connStr, cleanup := database.SetupTestDBContainer(t, ctx)
	t.Cleanup(cleanup)

	pgCfg, err := pgx.ParseConfig(connStr)
	require.NoError(t, err)
	t.Setenv(config.EnvDatabasePassword, pgCfg.Password)

	path := writeConfig(t, fmt.Sprintf(`database:
  host: %s
  port: %d
  user: %s
  database: %s
  sslMode: disable`, pgCfg.Host, pgCfg.Port, pgCfg.User, pgCfg.Database))

	_, err = execute(t, ctx, "", "migrate", "up", "--config", path, "--yes")
	require.NoError(t, err)
	version, dirty, err := database.GetVersion(connStr)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Positive(t, version)

	_, err = execute(t, ctx, "yes\n", "migrate", "down", "--config", path)
	require.NoError(t, err)
	version, _, err = database.GetVersion(connStr)
	require.NoError(t, err)
	assert.Zero(t, version)
}
