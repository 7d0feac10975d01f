package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700))

	files, err := migrationFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.sql", "0002_b.sql"}, files)
}

func TestMigrationFilesMissingDir(t *testing.T) {
	_, err := migrationFiles(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestRunMigrationsWithoutPool(t *testing.T) {
	assert.NoError(t, RunMigrations(context.Background(), nil, "", zap.NewNop()))
}

func TestUnconfiguredRedis(t *testing.T) {
	var r *Redis
	assert.Error(t, r.Ping(context.Background()))
	assert.Nil(t, r.Handle())

	release, err := r.AcquireLease(context.Background(), "lease", time.Second)
	require.NoError(t, err)
	assert.NoError(t, release(context.Background()))

	disabled := &Redis{}
	assert.Error(t, disabled.PublishEvent(context.Background(), "stream", 10, map[string]any{"k": "v"}))
}
