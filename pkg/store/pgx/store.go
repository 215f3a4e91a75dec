package pgx

import (
	"context"
	"errors"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrKnowledgeBaseNotFound = errors.New("knowledge base not found")
	ErrJobNotFound           = errors.New("job not found")
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// Store keeps the relational side of the system in PostgreSQL: the
// knowledge base registry and the ingestion job table. Graph data lives in
// Neo4j.
type Store struct {
	conn pgxIConn
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{conn: pool}
}

// NewWithConnection wraps an existing connection or transaction.
func NewWithConnection(conn pgxIConn) *Store {
	return &Store{conn: conn}
}
