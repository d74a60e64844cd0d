// Package localstore provides durable local key/value storage for draft sync.
//
// This package includes:
//   - GormStore, backed by any GORM dialect (SQLite for a single client, PostgreSQL when shared)
//   - RedisStore, backed by go-redis with a key namespace
//   - MemoryStore, an in-process store for tests and ephemeral clients
//   - Connection pool configuration for GORM connections
//
// Every store satisfies core.LocalStore.
package localstore
