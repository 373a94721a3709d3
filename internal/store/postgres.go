package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresGateway keeps every record as a jsonb document keyed by
// (collection, id), matching the gateway contract one to one.
type PostgresGateway struct {
	pool *pgxpool.Pool
}

var _ Gateway = (*PostgresGateway)(nil)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	doc        JSONB NOT NULL,
	PRIMARY KEY (collection, id)
)`

func NewPostgresGateway(ctx context.Context, databaseURL string) (*PostgresGateway, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	log.Info().Str("module", "store.postgres").Msg("connected to database")
	return &PostgresGateway{pool: pool}, nil
}

func (g *PostgresGateway) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var doc []byte
	err := g.pool.QueryRow(ctx,
		`SELECT doc FROM records WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRecord
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (g *PostgresGateway) Set(ctx context.Context, collection, id string, doc []byte) error {
	_, err := g.pool.Exec(ctx,
		`INSERT INTO records (collection, id, doc) VALUES ($1, $2, $3)
		 ON CONFLICT (collection, id) DO UPDATE SET doc = EXCLUDED.doc`,
		collection, id, doc,
	)
	return err
}

func (g *PostgresGateway) Delete(ctx context.Context, collection, id string) error {
	_, err := g.pool.Exec(ctx,
		`DELETE FROM records WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	return err
}

func (g *PostgresGateway) List(ctx context.Context, collection string) (map[string][]byte, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT id, doc FROM records WHERE collection = $1`,
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, err
		}
		out[id] = doc
	}
	return out, rows.Err()
}

func (g *PostgresGateway) Close() {
	g.pool.Close()
}
