package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/config"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/database"
	"github.com/Ayoub94x/esa-forecast-manager/internal/infrastructure/repository"
	"github.com/Ayoub94x/esa-forecast-manager/internal/testutil/containers"
	"github.com/Ayoub94x/esa-forecast-manager/internal/testutil/fixtures"
)

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr string
	}{
		{
			name: "defaults",
			want: options{configPath: config.DefaultFile, action: actionUp},
		},
		{
			name: "down two steps",
			args: []string{"-action", "down", "-steps", "2"},
			want: options{configPath: config.DefaultFile, action: actionDown, steps: 2},
		},
		{
			name: "seed with file",
			args: []string{"-action", "seed", "-seed", "records.json", "-config", "other.yaml"},
			want: options{configPath: "other.yaml", action: actionSeed, seedFile: "records.json"},
		},
		{name: "unknown action", args: []string{"-action", "create"}, wantErr: `unknown action "create"`},
		{name: "negative steps", args: []string{"-steps", "-1"}, wantErr: "steps must not be negative"},
		{name: "unknown flag", args: []string{"-force"}, wantErr: "flag provided but not defined: -force"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions(tt.args, io.Discard)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRun_RequiresDatabaseURL(t *testing.T) {
	err := run(context.Background(), options{action: actionUp}, config.Defaults(), zaptest.NewLogger(t))
	assert.EqualError(t, err, "database.url is required")
}

func TestRun_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	pg, err := containers.NewPostgresContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	cfg := config.Defaults()
	cfg.Database.URL = pg.ConnectionString

	seedFile := filepath.Join(t.TempDir(), "records.json")
	data, err := json.Marshal(fixtures.SampleRecords(t))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(seedFile, data, 0o600))

	require.NoError(t, run(ctx, options{action: actionUp}, cfg, logger))
	require.NoError(t, run(ctx, options{action: actionVersion}, cfg, logger))

	err = run(ctx, options{action: actionSeed}, cfg, logger)
	assert.EqualError(t, err, "no seed file given")

	cfg.Pipeline.SeedFile = seedFile
	require.NoError(t, run(ctx, options{action: actionSeed}, cfg, logger))

	pool, err := database.NewConnectionPool(ctx, &cfg.Database, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	src, err := repository.NewPostgresSource(pool.Pool(), pool.Breaker(), logger)
	require.NoError(t, err)
	records, err := src.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 4)

	require.NoError(t, run(ctx, options{action: actionDown}, cfg, logger))

	db := pool.DB()
	t.Cleanup(func() { _ = db.Close() })
	migrator, err := database.NewMigrator(db, logger)
	require.NoError(t, err)
	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)
}
