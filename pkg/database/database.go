package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suteetoe/lavadero/prometheus"
)

// ErrEmptyAddress is returned when asked to open a store without a connection string
var ErrEmptyAddress = errors.New("empty connection address")

// Options holds connection pool settings applied to every store
type Options struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// Open creates a gorm handle for dsn without touching the network. Reachability is checked
// separately with Ping so that callers can bound it with a context.
func Open(dsn string, opts Options) (*gorm.DB, error) {
	if dsn == "" {
		return nil, ErrEmptyAddress
	}

	logLevel := opts.LogLevel
	if logLevel == 0 {
		logLevel = logger.Warn
	}

	// Configure Postgres options
	pgConfig := postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // pooled serverless endpoints do not keep prepared statements
	}

	db, err := gorm.Open(postgres.New(pgConfig), &gorm.Config{
		Logger:               logger.Default.LogMode(logLevel),
		TranslateError:       true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}

	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return db, nil
}

// Ping checks that the store behind db answers within ctx
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Migrate runs AutoMigrate for the provided models
func Migrate(db *gorm.DB, models ...interface{}) error {
	if db == nil {
		return fmt.Errorf("database is not initialized")
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	return nil
}

// Opener creates a handle for a connection address
type Opener func(address string) (*gorm.DB, error)

// Pool keeps one gorm handle, and therefore one sql.DB connection pool, per connection address.
// Handles are never shared between addresses.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*gorm.DB
	open  Opener
}

// NewPool creates a pool opening postgres stores with opts
func NewPool(opts Options) *Pool {
	return NewPoolWithOpener(func(address string) (*gorm.DB, error) {
		return Open(address, opts)
	})
}

// NewPoolWithOpener creates a pool with a custom opener
func NewPoolWithOpener(open Opener) *Pool {
	return &Pool{
		conns: make(map[string]*gorm.DB),
		open:  open,
	}
}

// Get returns the handle for address after checking the store answers within ctx
func (p *Pool) Get(ctx context.Context, address string) (*gorm.DB, error) {
	if address == "" {
		return nil, ErrEmptyAddress
	}

	db, err := p.Handle(address)
	if err != nil {
		return nil, err
	}

	if err := Ping(ctx, db); err != nil {
		return nil, err
	}

	return db.WithContext(ctx), nil
}

// Handle returns the cached handle for address, opening it if needed, without touching the
// network.
func (p *Pool) Handle(address string) (*gorm.DB, error) {
	if address == "" {
		return nil, ErrEmptyAddress
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.conns[address]; ok {
		return db, nil
	}

	db, err := p.open(address)
	if err != nil {
		return nil, err
	}
	p.conns[address] = db
	prometheus.PooledStoresGauge.Set(float64(len(p.conns)))
	return db, nil
}

// Len returns the number of cached handles
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Evict closes and forgets the handle for address
func (p *Pool) Evict(address string) {
	p.mu.Lock()
	db, ok := p.conns[address]
	delete(p.conns, address)
	prometheus.PooledStoresGauge.Set(float64(len(p.conns)))
	p.mu.Unlock()

	if ok {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// Close closes every cached handle
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*gorm.DB)
	prometheus.PooledStoresGauge.Set(0)
	p.mu.Unlock()

	var errs []error
	for _, db := range conns {
		sqlDB, err := db.DB()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
