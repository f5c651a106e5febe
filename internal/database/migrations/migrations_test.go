package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"testing"
	"time"

	"ms-seatsale/internal/logger"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	fsys, dir, err := Options{}.Source()
	require.NoError(t, err)

	entries, err := fs.ReadDir(fsys, dir)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["000001_init.up.sql"])
	assert.True(t, names["000001_init.down.sql"])

	up, err := fs.ReadFile(fsys, path.Join(dir, "000001_init.up.sql"))
	require.NoError(t, err)
	for _, table := range []string{"tickets", "payments", "orders", "ticket_reserves", "campaign_usages"} {
		assert.Contains(t, string(up), "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestSourceFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000001_x.up.sql"), []byte("SELECT 1;"), 0o644))

	fsys, root, err := Options{Dir: dir}.Source()
	require.NoError(t, err)
	entries, err := fs.ReadDir(fsys, root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, _, err = Options{Dir: filepath.Join(dir, "missing")}.Source()
	assert.Error(t, err)
}

// TestRunnerAgainstPostgres applies and rolls back the schema on a real database.
func TestRunnerAgainstPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}

	ctx := context.Background()
	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "seatsale",
				"POSTGRES_PASSWORD": "seatsale",
				"POSTGRES_DB":       "seatsale",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer pg.Terminate(ctx)

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := sql.Open("postgres", "postgres://seatsale:seatsale@"+host+":"+port.Port()+"/seatsale?sslmode=disable")
	require.NoError(t, err)

	r := NewRunner(db, Options{}, logger.Discard())
	defer r.Close()

	require.NoError(t, r.Up())
	version, dirty, err := r.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	require.NoError(t, r.Up(), "second run is a no-op")

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM tickets`).Scan(&n))
	assert.Zero(t, n)

	require.NoError(t, r.Down())
	version, _, err = r.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
}
