package repository

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const dialectPostgres = "postgres"

// runTx runs fn inside a transaction bound to ctx. Callers must use the tx
// handle for every statement; on sqlite the pool has a single connection.
func runTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(fn)
}

// runReadTx gives fn a consistent view of several tables. PostgreSQL gets a
// read-only repeatable-read transaction; sqlite serializes anyway.
func runReadTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db.Dialector.Name() != dialectPostgres {
		return db.WithContext(ctx).Transaction(fn)
	}
	return db.WithContext(ctx).Transaction(fn, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
}

// forUpdate adds SELECT ... FOR UPDATE where the dialect supports row locks.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() != dialectPostgres {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}
