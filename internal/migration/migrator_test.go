package migration

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，注册为 "sqlite"
)

func newSQLiteMigrator(t *testing.T) (*DefaultMigrator, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	m, err := NewMigrator(db, Config{DatabaseType: DatabaseTypeSQLite}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	require.NoError(t, err)
	return n == 1
}

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		input    string
		expected DatabaseType
		wantErr  bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"pg", DatabaseTypePostgres, false},
		{"MySQL", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"oracle", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDatabaseType(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAvailableMigrations_AllDialectsMatch(t *testing.T) {
	var names [][]string
	for _, dt := range []DatabaseType{DatabaseTypePostgres, DatabaseTypeMySQL, DatabaseTypeSQLite} {
		files, err := availableMigrations(dt)
		require.NoError(t, err, dt)
		var n []string
		for _, f := range files {
			n = append(n, f.name)
		}
		names = append(names, n)
	}
	assert.Equal(t, []string{"create_graph_snapshots", "create_heartbeat_details"}, names[0])
	assert.Equal(t, names[0], names[1])
	assert.Equal(t, names[0], names[2])
}

func TestNewMigrator_NilDB(t *testing.T) {
	_, err := NewMigrator(nil, Config{DatabaseType: DatabaseTypeSQLite}, nil)
	assert.Error(t, err)
}

func TestMigrator_UpDownSQLite(t *testing.T) {
	ctx := context.Background()
	m, db := newSQLiteMigrator(t)

	v, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "no change is not an error")
	assert.True(t, tableExists(t, db, "graph_snapshots"))
	assert.True(t, tableExists(t, db, "heartbeat_details"))

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.Equal(t, 2, info.AppliedMigrations)
	assert.Zero(t, info.PendingMigrations)

	require.NoError(t, m.Down(ctx))
	assert.False(t, tableExists(t, db, "heartbeat_details"))
	assert.True(t, tableExists(t, db, "graph_snapshots"))

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Applied)
	assert.False(t, statuses[1].Applied)
}

func TestMigrator_SnapshotUniqueIndex(t *testing.T) {
	ctx := context.Background()
	m, db := newSQLiteMigrator(t)
	require.NoError(t, m.Up(ctx))

	insert := `INSERT INTO graph_snapshots (id, thread_id, version, step, source, created_at) VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`
	_, err := db.Exec(insert, "s1", "thread-1", 1, 0, "input")
	require.NoError(t, err)
	_, err = db.Exec(insert, "s2", "thread-1", 1, 1, "loop")
	assert.Error(t, err, "(thread_id, version) must be unique")
}

func TestMigrator_InfoReportsStoreSchemas(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteMigrator(t)

	info, err := m.Info(ctx)
	require.NoError(t, err)
	require.Len(t, info.Stores, 2)
	assert.Equal(t, SchemaPending, info.Stores[0].State)
	assert.Error(t, info.Require("snapshots"))

	require.NoError(t, m.Steps(ctx, 1))
	info, err = m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "graph_snapshots", info.Stores[0].Table)
	assert.Equal(t, SchemaReady, info.Stores[0].State)
	assert.Equal(t, SchemaPending, info.Stores[1].State)
	assert.NoError(t, info.Require("snapshots"))
	err = info.Require("snapshots", "heartbeats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heartbeat_details is pending")

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshots", statuses[0].Store)
	assert.Equal(t, "heartbeats", statuses[1].Store)
}

func TestStoreSchemas_Dirty(t *testing.T) {
	got := storeSchemas(2, true)
	assert.Equal(t, SchemaReady, got[0].State)
	assert.Equal(t, SchemaDirty, got[1].State)

	info := &MigrationInfo{CurrentVersion: 2, Dirty: true, Stores: got}
	assert.Error(t, info.Require("heartbeats"))
	assert.ErrorContains(t, info.Require("mongo"), `unknown store "mongo"`)
}

func TestCLI_Output(t *testing.T) {
	ctx := context.Background()
	m, _ := newSQLiteMigrator(t)
	var out bytes.Buffer
	cli := NewCLI(m, &out)

	require.NoError(t, cli.Version(ctx))
	assert.Contains(t, out.String(), "No migrations applied yet.")

	out.Reset()
	require.NoError(t, cli.Steps(ctx, 1))
	assert.NoError(t, cli.Check(ctx, "snapshots"))
	assert.ErrorContains(t, cli.Check(ctx, "snapshots", "heartbeats"), "heartbeat_details is pending")
	assert.Contains(t, out.String(), "Schema version: 1, 1 pending")
	assert.Regexp(t, `snapshots\s+graph_snapshots\s+000001\s+ready`, out.String())
	assert.Regexp(t, `heartbeats\s+heartbeat_details\s+000002\s+pending`, out.String())

	out.Reset()
	require.NoError(t, cli.Up(ctx))
	assert.NoError(t, cli.Check(ctx, "snapshots", "heartbeats"))
	assert.Contains(t, out.String(), "Schema version: 2, 0 pending")
	assert.Regexp(t, `heartbeats\s+heartbeat_details\s+000002\s+ready`, out.String())

	out.Reset()
	require.NoError(t, cli.Status(ctx))
	assert.Regexp(t, `000002\s+create_heartbeat_details\s+heartbeats\s+applied`, out.String())
	assert.Contains(t, out.String(), "2 of 2 applied")

	out.Reset()
	require.NoError(t, cli.Version(ctx))
	assert.Equal(t, "Schema version: 2\n", out.String())
}
