package out

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	collabdomain "livedoc/internal/modules/collab/domain"
)

// PostgresStore keeps snapshots in a documents table shared by every relay
// instance.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS documents (
		id            TEXT PRIMARY KEY,
		content       TEXT NOT NULL,
		version       INTEGER NOT NULL,
		last_modified TIMESTAMPTZ NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, documentID string) (collabdomain.Document, bool, error) {
	doc := collabdomain.Document{ID: documentID}
	err := s.pool.QueryRow(ctx,
		`SELECT content, version, last_modified FROM documents WHERE id = $1`, documentID,
	).Scan(&doc.Content, &doc.Version, &doc.LastModified)
	if errors.Is(err, pgx.ErrNoRows) {
		return collabdomain.Document{}, false, nil
	}
	if err != nil {
		return collabdomain.Document{}, false, fmt.Errorf("load snapshot %s: %w", documentID, err)
	}
	doc.LastModified = doc.LastModified.UTC()
	return doc, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, doc collabdomain.Document) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO documents (id, content, version, last_modified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, version = EXCLUDED.version, last_modified = EXCLUDED.last_modified`,
		doc.ID, doc.Content, doc.Version, doc.LastModified)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
