package database

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/resumeflow/config"
	"github.com/BaSui01/resumeflow/internal/metrics"
)

func setupTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	// gorm.Open 会自动探活一次
	mock.ExpectPing()
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestNewPoolManager_AppliesConfig(t *testing.T) {
	db, mock := setupTestDB(t)
	cfg := DefaultPoolConfig()
	cfg.MaxOpenConns = 7

	pm, err := NewPoolManager(db, cfg, nil)
	require.NoError(t, err)
	assert.Same(t, db, pm.DB())
	assert.Equal(t, 7, pm.Stats().MaxOpenConnections)

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_PingAfterClose(t *testing.T) {
	db, mock := setupTestDB(t)
	pm, err := NewPoolManager(db, DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, pm.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close(), "second close is a no-op")
	assert.ErrorIs(t, pm.Ping(context.Background()), ErrPoolClosed)
}

func TestPoolManager_CheckOnceReportsConnections(t *testing.T) {
	db, mock := setupTestDB(t)
	cfg := DefaultPoolConfig()
	cfg.Name = "snapshots"
	pm, err := NewPoolManager(db, cfg, zap.NewNop())
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry("test", reg, zap.NewNop())
	pm.SetMetrics(collector)

	mock.ExpectPing()
	require.NoError(t, pm.checkOnce(context.Background()))

	count, err := testutil.GatherAndCount(reg, "test_db_connections_open")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_CheckOnceFailure(t *testing.T) {
	db, mock := setupTestDB(t)
	pm, err := NewPoolManager(db, DefaultPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(assert.AnError)
	assert.ErrorIs(t, pm.checkOnce(context.Background()), assert.AnError)
}

func TestPoolManager_RunHealthCheckStopsOnClose(t *testing.T) {
	db, mock := setupTestDB(t)
	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = time.Hour
	pm, err := NewPoolManager(db, cfg, zap.NewNop())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		pm.RunHealthCheck(context.Background())
		close(done)
	}()

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health check loop did not stop")
	}
}

func TestPoolManager_RunHealthCheckDisabled(t *testing.T) {
	db, _ := setupTestDB(t)
	cfg := DefaultPoolConfig()
	cfg.HealthCheckInterval = 0
	pm, err := NewPoolManager(db, cfg, zap.NewNop())
	require.NoError(t, err)

	// 立即返回
	pm.RunHealthCheck(context.Background())
}

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(driver, "x")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}
	_, err := Dialector("oracle", "x")
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver:       "sqlite",
		Name:         "file::memory:",
		MaxOpenConns: 3,
	}
	pm, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	require.NoError(t, pm.Ping(context.Background()))
	assert.Equal(t, 3, pm.Stats().MaxOpenConnections)

	var one int
	require.NoError(t, pm.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}
