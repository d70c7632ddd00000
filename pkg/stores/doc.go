// Package stores provides the entity repository for Octane.
//
// The repository is backed by database/sql and works with two drivers:
// the pure-Go SQLite driver (modernc.org/sqlite) for single-node and test
// deployments, and PostgreSQL through pgx. Queries are built with squirrel so
// the same code emits `?` or `$n` placeholders depending on the driver, and
// the schema is managed by golang-migrate from embedded migration files.
//
// Lookups by identifier return an error wrapping ErrNotFound when the row is
// absent. Callers test for it with errors.Is or IsNotFound.
//
// Basic usage:
//
//	store, err := stores.NewSQLStore(stores.Config{Driver: "sqlite", DSN: "octane.db"})
//	if err != nil {
//		return err
//	}
//	if err := store.Init(ctx); err != nil {
//		return err
//	}
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//	lb, err := store.GetLoadBalancer(ctx, id)
package stores
