package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/danghamo/passport/internal/domain/shared"
)

// PostgresStore implements Store on a single jsonb documents table
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres-based document store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens a Postgres connection pool for the document store
func OpenPostgres(dsn string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return db, nil
}

// EnsureSchema creates the documents table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			key        UUID NOT NULL,
			data       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, key)
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure documents schema: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS documents_data_idx
		ON documents USING gin (data jsonb_path_ops)`)
	if err != nil {
		return fmt.Errorf("failed to ensure documents index: %w", err)
	}

	return nil
}

// QueryByField returns every document whose top-level field equals value
func (s *PostgresStore) QueryByField(ctx context.Context, collection, field, value string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, data FROM documents WHERE collection = $1 AND data->>$2 = $3`,
		collection, field, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, Document{Key: key, Data: json.RawMessage(data)})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}

	return docs, nil
}

// Add inserts a new document and returns its generated key
func (s *PostgresStore) Add(ctx context.Context, collection string, data interface{}) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	key := shared.NewID().String()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, key, data) VALUES ($1, $2, $3)`,
		collection, key, payload)
	if err != nil {
		return "", fmt.Errorf("failed to insert document: %w", err)
	}

	return key, nil
}

// DeleteByKey removes a document by its key
func (s *PostgresStore) DeleteByKey(ctx context.Context, collection, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND key = $2`,
		collection, key)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return shared.ErrNotFound("document")
	}

	return nil
}
