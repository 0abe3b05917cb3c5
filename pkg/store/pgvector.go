package store

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/ragingest/internal/models"
	"github.com/xhad/ragingest/internal/types"
)

var ErrNoEmbedder = errors.New("vector store requires an embedder")

type VectorStoreConfig struct {
	ConnString  string
	TableName   string
	VectorDim   int
	BatchSize   int
	Workers     int
	SearchLimit int
	Embedder    types.Embedder
	Logger      *zap.Logger
}

func (c VectorStoreConfig) withDefaults() VectorStoreConfig {
	if c.TableName == "" {
		c.TableName = "chunks"
	}
	if c.VectorDim == 0 {
		c.VectorDim = 768 // nomic-embed-text
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.SearchLimit == 0 {
		c.SearchLimit = 5
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// VectorStore persists chunks with their embeddings in a pgvector table.
type VectorStore struct {
	config VectorStoreConfig
	table  string
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	config = config.withDefaults()
	if config.Embedder == nil {
		return nil, ErrNoEmbedder
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config: config,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		pool:   pool,
		logger: config.Logger.With(zap.String("component", "vector_store")),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	if _, err := vs.pool.Exec(ctx, createTableSQL(vs.table, vs.config.VectorDim)); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	index := pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize()
	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		index, vs.table)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func createTableSQL(table string, dim int) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			title TEXT,
			content TEXT,
			start_index INTEGER,
			embedding vector(%d),
			metadata JSONB
		)`, table, dim)
}

func upsertSQL(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (id, source, title, content, start_index, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		table)
}

// Store embeds chunks and upserts them in one transaction. Nothing is written
// if any embedding fails.
func (vs *VectorStore) Store(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = sanitizeUTF8(ch.Content)
	}

	embeddings, err := embedAll(ctx, vs.config.Embedder, texts, vs.config.BatchSize, vs.config.Workers)
	if err != nil {
		return fmt.Errorf("failed to create embeddings: %w", err)
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := upsertSQL(vs.table)
	batch := &pgx.Batch{}
	for i, ch := range chunks {
		if len(embeddings[i]) != vs.config.VectorDim {
			return fmt.Errorf("embedding for chunk %d has dimension %d, table expects %d",
				i, len(embeddings[i]), vs.config.VectorDim)
		}
		batch.Queue(stmt,
			ChunkID(ch),
			sanitizeUTF8(ch.Meta.Source()),
			sanitizeUTF8(ch.Meta.Title),
			texts[i],
			ch.StartIndex,
			pgvector.NewVector(embeddings[i]),
			ch.Map(),
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.logger.Info("stored chunks", zap.Int("chunks", len(chunks)))
	return nil
}

func (vs *VectorStore) Query(ctx context.Context, queryEmbedding []float32, limit int) ([]models.Chunk, error) {
	if limit <= 0 {
		limit = vs.config.SearchLimit
	}

	query := fmt.Sprintf(`
		SELECT content, start_index, metadata
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.table)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(queryEmbedding), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		var (
			chunk models.Chunk
			meta  map[string]interface{}
		)
		if err := rows.Scan(&chunk.Content, &chunk.StartIndex, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunk.Meta = models.MetadataFromMap(meta)
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return chunks, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
