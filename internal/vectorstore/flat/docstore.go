package flat

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"afpbot/internal/domain"
)

const docstoreSchema = `
CREATE TABLE chunks (
	id          TEXT PRIMARY KEY,
	position    INTEGER NOT NULL,
	document_id TEXT NOT NULL,
	content     TEXT NOT NULL,
	metadata    TEXT NOT NULL
);
CREATE TABLE meta (
	generation TEXT NOT NULL,
	dimension  INTEGER NOT NULL
);`

type docstore struct {
	generation uuid.UUID
	dim        int
	chunks     map[string]domain.Chunk
}

// writeDocstore builds a fresh SQLite file at path and syncs it.
func writeDocstore(ctx context.Context, path string, generation uuid.UUID, dim int, chunks []domain.Chunk) (err error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale docstore: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open docstore: %w", err)
	}
	if err := fillDocstore(ctx, db, generation, dim, chunks); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close docstore: %w", err)
	}
	return syncFile(path)
}

func fillDocstore(ctx context.Context, db *sql.DB, generation uuid.UUID, dim int, chunks []domain.Chunk) error {
	if _, err := db.ExecContext(ctx, docstoreSchema); err != nil {
		return fmt.Errorf("create docstore schema: %w", err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin docstore tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, position, document_id, content, metadata) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Position, c.DocumentID, c.Content, string(meta)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO meta (generation, dimension) VALUES (?, ?)`, generation.String(), dim); err != nil {
		return fmt.Errorf("insert docstore meta: %w", err)
	}
	return tx.Commit()
}

func readDocstore(ctx context.Context, path string) (docstore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return docstore{}, fmt.Errorf("open docstore: %w", err)
	}
	defer db.Close()

	var (
		ds  docstore
		gen string
	)
	if err := db.QueryRowContext(ctx, `SELECT generation, dimension FROM meta LIMIT 1`).Scan(&gen, &ds.dim); err != nil {
		return docstore{}, fmt.Errorf("read docstore meta: %w", err)
	}
	if ds.generation, err = uuid.Parse(gen); err != nil {
		return docstore{}, fmt.Errorf("parse docstore generation: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT id, position, document_id, content, metadata FROM chunks`)
	if err != nil {
		return docstore{}, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	ds.chunks = make(map[string]domain.Chunk)
	for rows.Next() {
		var (
			c    domain.Chunk
			meta string
		)
		if err := rows.Scan(&c.ID, &c.Position, &c.DocumentID, &c.Content, &meta); err != nil {
			return docstore{}, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return docstore{}, fmt.Errorf("decode metadata for %s: %w", c.ID, err)
		}
		ds.chunks[c.ID] = c
	}
	return ds, rows.Err()
}

func syncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s for sync: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}
