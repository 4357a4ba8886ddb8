package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Corphon/BastionSheet/internal/storage"
)

var _ storage.Backend = (*Client)(nil)

const (
	schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`
	loadSQL   = `SELECT body::text FROM documents WHERE collection = $1 AND id = $2`
	upsertSQL = `
INSERT INTO documents (collection, id, body, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (collection, id) DO UPDATE SET
	body = EXCLUDED.body,
	updated_at = now()`
	deleteSQL = `DELETE FROM documents WHERE collection = $1 AND id = $2`
	listSQL   = `SELECT id FROM documents WHERE collection = $1 ORDER BY id`
)

type Client struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Client{pool: pool}, nil
}

func (c *Client) Load(ctx context.Context, collection, id string) ([]byte, error) {
	if err := storage.ValidateKey(collection, id); err != nil {
		return nil, err
	}
	var body string
	err := c.pool.QueryRow(ctx, loadSQL, collection, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading document: %w", err)
	}
	return []byte(body), nil
}

func (c *Client) Save(ctx context.Context, collection, id string, data []byte) error {
	if err := storage.ValidateKey(collection, id); err != nil {
		return err
	}
	if _, err := c.pool.Exec(ctx, upsertSQL, collection, id, string(data)); err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	if err := storage.ValidateKey(collection, id); err != nil {
		return err
	}
	tag, err := c.pool.Exec(ctx, deleteSQL, collection, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (c *Client) List(ctx context.Context, collection string) ([]string, error) {
	if err := storage.ValidateKey(collection, ""); err != nil {
		return nil, err
	}
	rows, err := c.pool.Query(ctx, listSQL, collection)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (c *Client) Close() error {
	c.pool.Close()
	return nil
}
