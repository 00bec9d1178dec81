package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protolith-db/protolith/internal/config"
	"github.com/protolith-db/protolith/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DB.Path = t.TempDir()
	cfg.Addr = "127.0.0.1:0"
	cfg.Database.DescriptorPath = filepath.Join(t.TempDir(), "does-not-exist.pb")
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBoot_BootstrapsDefaultUserAndEmptySessionTable(t *testing.T) {
	cfg := testConfig(t)

	a, err := Boot(cfg, testLogger())
	require.NoError(t, err)

	assert.Empty(t, a.Sessions.Snapshot())

	token, err := a.Auth.Login(cfg.Auth.User, cfg.Auth.Password)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestBoot_DefaultDatabaseIsRegistered(t *testing.T) {
	cfg := testConfig(t)

	a, err := Boot(cfg, testLogger())
	require.NoError(t, err)

	dbs, err := a.Engine.ListDatabases()
	require.NoError(t, err)

	var found bool
	for _, db := range dbs {
		if db.Name == cfg.Database.Name {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_DrainsAndSavesSessionSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.DestroyOnShutdown = false

	a, err := Boot(cfg, testLogger())
	require.NoError(t, err)

	a.Sessions.Insert("protolith")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the server a moment to bind before requesting shutdown.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	restored := session.LoadFromFile(a.sessionsPath)
	assert.NotEmpty(t, restored.Snapshot())
}

func TestRun_DestroyOnShutdown_DestroysDatabases(t *testing.T) {
	cfg := testConfig(t)
	cfg.DestroyOnShutdown = true

	a, err := Boot(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, err = a.Engine.Get(cfg.Database.Name, "anything", "anything")
	assert.Error(t, err)
}
