package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

const (
	driverSQLite = "sqlite"

	slowQueryThreshold = 250 * time.Millisecond
)

var errNoConnection = errors.New("database connection not initialized")

// Client is the shared GORM handle used by repositories, the checkout
// transaction and the outbox relay.
type Client struct {
	conn *gorm.DB
}

// Pinger is satisfied by every dependency the readiness endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// New opens the configured database, applies pool limits and verifies the
// connection before returning.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}

	conn, err := gorm.Open(open(cfg), &gorm.Config{
		Logger:                 slowQueryLogger{logg: logg, threshold: slowQueryThreshold},
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", cfg.Driver, err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("resolving sql handle: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	c := &Client{conn: conn}
	if err := c.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"driver":         cfg.Driver,
		"max_open_conns": cfg.MaxOpenConns,
	}), "database connection established")
	return c, nil
}

// Wrap adopts a connection whose lifecycle the caller manages.
func Wrap(conn *gorm.DB) *Client {
	return &Client{conn: conn}
}

func open(cfg config.DBConfig) gorm.Dialector {
	if cfg.Driver == driverSQLite {
		return sqlite.Open(cfg.DSN)
	}
	// Simple protocol keeps us compatible with transaction-mode poolers.
	return postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
}

func (c *Client) DB() *gorm.DB {
	if c == nil {
		return nil
	}
	return c.conn
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return errNoConnection
	}
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	sqlDB, err := c.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in one transaction. A returned error or a panic rolls it
// back; a panic is re-raised after the rollback.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if c == nil || c.conn == nil {
		return errNoConnection
	}
	return c.conn.WithContext(ctx).Transaction(fn)
}

// slowQueryLogger keeps GORM quiet except for statements slower than
// threshold, which are reported through the request's logger.
type slowQueryLogger struct {
	logg      *logger.Logger
	threshold time.Duration
}

func (l slowQueryLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return l }

func (slowQueryLogger) Info(context.Context, string, ...interface{})  {}
func (slowQueryLogger) Warn(context.Context, string, ...interface{})  {}
func (slowQueryLogger) Error(context.Context, string, ...interface{}) {}

func (l slowQueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), _ error) {
	if l.logg == nil || l.threshold <= 0 {
		return
	}
	elapsed := time.Since(begin)
	if elapsed < l.threshold {
		return
	}
	sql, rows := fc()
	l.logg.Warn(l.logg.WithFields(ctx, map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
		"rows":       rows,
		"sql":        sql,
	}), "slow query")
}
