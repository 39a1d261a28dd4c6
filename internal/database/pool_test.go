package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newTestPool 基于 sqlmock 建 PoolManager，随测试自动关闭底层连接
func newTestPool(t *testing.T, cfg PoolConfig) (sqlmock.Sqlmock, *PoolManager) {
	t.Helper()

	// 开启 ping 监控以支持 ExpectPing
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	// gorm.Open 打开连接时会自动 ping 一次
	mock.ExpectPing()
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)
	return mock, manager
}

func smallPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}
}

func TestNewPoolManager(t *testing.T) {
	cfg := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
	_, manager := newTestPool(t, cfg)

	assert.NotNil(t, manager)
	assert.NotNil(t, manager.db)
	assert.NotNil(t, manager.logger)
	assert.Equal(t, cfg, manager.config)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_GetDB(t *testing.T) {
	_, manager := newTestPool(t, smallPoolConfig())
	assert.NotNil(t, manager.DB())
}

func TestPoolManager_Ping(t *testing.T) {
	mock, manager := newTestPool(t, smallPoolConfig())
	mock.ExpectPing()

	assert.NoError(t, manager.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_PingFailed(t *testing.T) {
	mock, manager := newTestPool(t, smallPoolConfig())
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)

	assert.Error(t, manager.Ping(context.Background()))
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mock, manager := newTestPool(t, smallPoolConfig())
	mock.ExpectBegin()
	mock.ExpectCommit()

	err := manager.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return nil
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRollback(t *testing.T) {
	mock, manager := newTestPool(t, smallPoolConfig())
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := manager.WithTransaction(context.Background(), func(tx *gorm.DB) error {
		return assert.AnError
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry_NonRetryable(t *testing.T) {
	mock, manager := newTestPool(t, smallPoolConfig())

	// 非可重试错误立即返回，只有一次事务
	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := manager.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		calls++
		return errors.New("constraint violation")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPoolManager_Close(t *testing.T) {
	mock, manager := newTestPool(t, smallPoolConfig())
	mock.ExpectClose()

	assert.NoError(t, manager.Close())

	// 重复关闭幂等，关闭后操作报错
	assert.NoError(t, manager.Close())
	assert.Error(t, manager.Ping(context.Background()))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadlock", errors.New("pq: deadlock detected"), true},
		{"serialization failure", errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"bad connection", errors.New("driver: bad connection"), true},
		{"lock timeout", errors.New("lock wait timeout exceeded"), true},
		{"constraint violation", errors.New("duplicate key value violates unique constraint"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}
