// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PartForge Contributors

// Package postgres provides PostgreSQL implementations of the auth
// repositories and the transactor that binds them together.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts query execution over *pgxpool.Pool, pgx.Tx, and the
// pgxmock pool used in tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// txKey carries the active transaction through the context so that
// repository writes inside Transactor.InTransaction land in it.
type txKey struct{}

// dbFrom returns the transaction stored in ctx, or the fallback when
// the call runs outside a transaction. pgx.Tx satisfies DB, so callers
// never care which one they got.
func dbFrom(ctx context.Context, fallback DB) DB {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return fallback
}
