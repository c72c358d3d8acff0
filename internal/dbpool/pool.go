// Package dbpool wraps a *gorm.DB with connection-pool tuning, a
// periodic health check, and a transaction helper with retry on
// transient errors (deadlock, serialization failure, bad connection).
// Adapted from the teacher's internal/database package.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Config tunes the underlying *sql.DB connection pool.
type Config struct {
	MaxIdleConns        int
	MaxOpenConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	HealthCheckInterval time.Duration
}

// DefaultConfig returns sane defaults for a small worker-pool deployment.
func DefaultConfig() Config {
	return Config{
		MaxIdleConns:        10,
		MaxOpenConns:        50,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager owns a *gorm.DB and its connection-pool lifecycle.
type Manager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
}

// NewManager wraps db, applies pool tuning, and starts a health-check
// loop if config.HealthCheckInterval > 0.
func NewManager(db *gorm.DB, config Config, logger *zap.Logger) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("dbpool: db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("dbpool: failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "dbpool")),
		cancel: cancel,
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop(ctx)
	}

	m.logger.Info("database pool initialized",
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return m, nil
}

// DB returns the wrapped *gorm.DB.
func (m *Manager) DB() *gorm.DB {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// Ping checks connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("dbpool: pool is closed")
	}
	return m.sqlDB.PingContext(ctx)
}

// Close stops the health-check loop and closes the underlying pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cancel()
	return m.sqlDB.Close()
}

func (m *Manager) healthCheckLoop(ctx context.Context) {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := m.Ping(pingCtx); err != nil {
				m.logger.Error("database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// TransactionFunc runs inside a *gorm.DB transaction.
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction runs fn inside a single transaction.
func (m *Manager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("dbpool: pool is closed")
	}
	db := m.db
	m.mu.RUnlock()
	return db.WithContext(ctx).Transaction(fn)
}

// WithTransactionRetry retries fn's transaction on a transient error
// with a short exponential backoff, up to maxRetries times.
func (m *Manager) WithTransactionRetry(ctx context.Context, maxRetries int, fn TransactionFunc) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := m.WithTransaction(ctx, fn); err == nil {
			return nil
		} else {
			lastErr = err
			if !isRetryableError(err) {
				return err
			}
		}

		backoff := time.Duration(1<<uint(i)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("dbpool: transaction failed after %d retries: %w", maxRetries, lastErr)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, substr := range []string{
		"deadlock", "serialization failure", "40001",
		"connection reset", "connection refused", "broken pipe",
		"lock timeout", "lock wait timeout", "bad connection",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}
