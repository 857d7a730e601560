package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// querier: общий интерфейс pgxpool.Pool и pgx.Tx для чтения внутри и вне транзакции.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
