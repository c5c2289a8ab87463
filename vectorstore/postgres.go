package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/falabr/ouvidoria-agent/database"
)

// PostgresStore keeps chunks in kb_chunks and per-section hashes in
// kb_sections, with pgvector for similarity search.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) EnsureCollection(ctx context.Context, dimension int) error {
	return database.EnsureKnowledgeSchema(ctx, s.pool, dimension)
}

func (s *PostgresStore) Upsert(ctx context.Context, records []Record) (err error) {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	sections := make(map[string]Record, len(records))
	for _, rec := range records {
		sections[rec.Breadcrumb] = rec
	}
	for _, rec := range sections {
		if _, err = tx.Exec(ctx, `
			INSERT INTO kb_sections (document, breadcrumb, hash, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (document, breadcrumb)
			DO UPDATE SET hash = EXCLUDED.hash, updated_at = NOW()
		`, rec.Document, rec.Breadcrumb, rec.Payload.Hash); err != nil {
			return fmt.Errorf("upsert section %q: %w", rec.Breadcrumb, err)
		}
	}

	for _, rec := range records {
		if _, err = tx.Exec(ctx, `
			INSERT INTO kb_chunks (
				id, document, breadcrumb, chunk_index, content, embedding,
				source_url, collected_at, doc_type, orgao, topic, hash,
				created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				source_url = EXCLUDED.source_url,
				collected_at = EXCLUDED.collected_at,
				doc_type = EXCLUDED.doc_type,
				orgao = EXCLUDED.orgao,
				topic = EXCLUDED.topic,
				hash = EXCLUDED.hash,
				updated_at = NOW()
		`, rec.ID, rec.Document, rec.Breadcrumb, rec.ChunkIndex, rec.Text,
			pgvector.NewVector(rec.Embedding), rec.Payload.SourceURL,
			rec.Payload.CollectedAt, rec.Payload.DocType, rec.Payload.Orgao,
			rec.Payload.Topic, rec.Payload.Hash); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", rec.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, embedding []float32, limit int) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		limit = 5
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := limit * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT document, breadcrumb, content,
		       source_url, collected_at, doc_type, orgao, topic, hash,
		       (embedding <-> $1::vector) AS distance
		FROM kb_chunks
		ORDER BY embedding <-> $1::vector
		LIMIT $2
	`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]SearchResult, 0, limit)
	for rows.Next() {
		var item SearchResult
		var distance float64
		if err := rows.Scan(&item.Document, &item.Breadcrumb, &item.Text,
			&item.Payload.SourceURL, &item.Payload.CollectedAt,
			&item.Payload.DocType, &item.Payload.Orgao, &item.Payload.Topic,
			&item.Payload.Hash, &distance); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		item.Score = 1 / (1 + distance)
		results = append(results, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return results, nil
}

func (s *PostgresStore) SectionHashes(ctx context.Context, document string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT breadcrumb, hash FROM kb_sections WHERE document = $1", document)
	if err != nil {
		return nil, fmt.Errorf("query section hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var breadcrumb, hash string
		if err := rows.Scan(&breadcrumb, &hash); err != nil {
			return nil, fmt.Errorf("scan section hash: %w", err)
		}
		hashes[breadcrumb] = hash
	}
	return hashes, rows.Err()
}

func (s *PostgresStore) DeleteSections(ctx context.Context, document string, breadcrumbs []string) (err error) {
	if len(breadcrumbs) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		"DELETE FROM kb_chunks WHERE document = $1 AND breadcrumb = ANY($2)",
		document, breadcrumbs); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if _, err = tx.Exec(ctx,
		"DELETE FROM kb_sections WHERE document = $1 AND breadcrumb = ANY($2)",
		document, breadcrumbs); err != nil {
		return fmt.Errorf("delete sections: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM kb_chunks").Scan(&count); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) Drop(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "TRUNCATE kb_chunks, kb_sections"); err != nil {
		return fmt.Errorf("truncate knowledge tables: %w", err)
	}
	return nil
}
