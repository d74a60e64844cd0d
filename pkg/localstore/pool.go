package localstore

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Pool sizes the connection pool behind a SQL store.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// DefaultPool fits a single client process: a handful of connections,
// recycled every few minutes.
func DefaultPool() Pool {
	return Pool{
		MaxOpen:     4,
		MaxIdle:     2,
		MaxLifetime: 5 * time.Minute,
		MaxIdleTime: time.Minute,
	}
}

// PoolOption adjusts a Pool.
type PoolOption func(*Pool)

// MaxOpenConns caps open connections.
func MaxOpenConns(n int) PoolOption {
	return func(p *Pool) { p.MaxOpen = n }
}

// MaxIdleConns caps idle connections. It is lowered to MaxOpenConns when
// larger.
func MaxIdleConns(n int) PoolOption {
	return func(p *Pool) { p.MaxIdle = n }
}

// ConnMaxLifetime recycles connections older than d.
func ConnMaxLifetime(d time.Duration) PoolOption {
	return func(p *Pool) { p.MaxLifetime = d }
}

// ConnMaxIdleTime closes connections idle longer than d.
func ConnMaxIdleTime(d time.Duration) PoolOption {
	return func(p *Pool) { p.MaxIdleTime = d }
}

func buildPool(opts []PoolOption) Pool {
	p := DefaultPool()
	for _, opt := range opts {
		opt(&p)
	}
	if p.MaxOpen > 0 && p.MaxIdle > p.MaxOpen {
		p.MaxIdle = p.MaxOpen
	}
	return p
}

// ConfigurePool applies DefaultPool adjusted by opts to db.
func ConfigurePool(db *gorm.DB, opts ...PoolOption) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("localstore: sql handle: %w", err)
	}
	p := buildPool(opts)
	sqlDB.SetMaxOpenConns(p.MaxOpen)
	sqlDB.SetMaxIdleConns(p.MaxIdle)
	sqlDB.SetConnMaxLifetime(p.MaxLifetime)
	sqlDB.SetConnMaxIdleTime(p.MaxIdleTime)
	return nil
}
