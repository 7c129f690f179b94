package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/ragforge/ragforge/engine/core"
)

type pgStore struct {
	pool       *pgxpool.Pool
	id         string
	table      string
	tableIdent string
	indexName  string
	indexIdent string
	dimension  int
	metric     string
	ensureIdx  bool
}

func newPGStore(ctx context.Context, cfg *Config) (Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("vector store %q: connect to postgres: %w", cfg.ID, err)
	}
	store := &pgStore{
		pool:      pool,
		id:        cfg.ID,
		table:     chooseTable(cfg),
		indexName: chooseIndex(cfg),
		dimension: cfg.Dimension,
		metric:    strings.ToLower(strings.TrimSpace(cfg.Metric)),
		ensureIdx: cfg.EnsureIndex,
	}
	store.tableIdent = pgx.Identifier{store.table}.Sanitize()
	if store.indexName != "" {
		store.indexIdent = pgx.Identifier{store.indexName}.Sanitize()
	}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	trackVectorPool(cfg.ID, pool)
	return store, nil
}

func chooseTable(cfg *Config) string {
	if cfg.Table != "" {
		return cfg.Table
	}
	if cfg.Collection != "" {
		return cfg.Collection
	}
	return "knowledge_documents"
}

func chooseIndex(cfg *Config) string {
	if cfg.Index != "" {
		return cfg.Index
	}
	return fmt.Sprintf("%s_embedding_idx", chooseTable(cfg))
}

func (p *pgStore) ensureSchema(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("pgvector: acquire connection: %w", err)
	}
	defer conn.Release()
	if _, err = conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding vector(%d),
		document TEXT,
		metadata JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, p.tableIdent, p.dimension)
	if _, err = conn.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	if p.ensureIdx {
		distance := "cosine"
		if p.metric != "" {
			distance = p.metric
		}
		createIndex := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_%s_ops)",
			p.indexIdent,
			p.tableIdent,
			distance,
		)
		if _, err = conn.Exec(ctx, createIndex); err != nil {
			return fmt.Errorf("pgvector: create index: %w", err)
		}
	}
	return nil
}

func (p *pgStore) Upsert(ctx context.Context, records []Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, txErr := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if txErr != nil {
		return fmt.Errorf("pgvector: begin tx: %w", txErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("pgvector: rollback failed: %w; original error: %v", rbErr, err)
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				err = fmt.Errorf("pgvector: commit: %w", commitErr)
			}
		}
	}()
	stmt := fmt.Sprintf(`INSERT INTO %s (id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, p.tableIdent)
	for i := range records {
		rec := records[i]
		if err := validateRecord("pgvector", &rec, p.dimension); err != nil {
			return err
		}
		vector := pgvector.NewVector(rec.Embedding)
		metadata, marshalErr := json.Marshal(rec.Metadata)
		if marshalErr != nil {
			return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, marshalErr)
		}
		if _, execErr := tx.Exec(ctx, stmt, rec.ID, vector, rec.Text, metadata, time.Now().UTC()); execErr != nil {
			recordVectorError(ctx, "upsert", "exec")
			return fmt.Errorf("pgvector: upsert %q: %w", rec.ID, execErr)
		}
	}
	return nil
}

func (p *pgStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != p.dimension {
		return nil, fmt.Errorf("pgvector: query: %w", core.NewDimensionError(p.dimension, len(query)))
	}
	if err := validateTopK(string(ProviderPGVector), opts.TopK); err != nil {
		return nil, err
	}
	topK := opts.TopK
	start := time.Now()
	builder := strings.Builder{}
	builder.WriteString("SELECT id, document, metadata, 1 - (embedding <=> $1) AS score FROM ")
	builder.WriteString(p.tableIdent)
	builder.WriteString(" WHERE 1=1")
	args := []any{pgvector.NewVector(query)}
	argPos := 2
	for key, value := range opts.Filters {
		builder.WriteString(fmt.Sprintf(" AND metadata ->> $%d = $%d", argPos, argPos+1))
		args = append(args, key, value)
		argPos += 2
	}
	if opts.MinScore != nil {
		builder.WriteString(fmt.Sprintf(" AND 1 - (embedding <=> $1) >= $%d", argPos))
		args = append(args, *opts.MinScore)
		argPos++
	}
	builder.WriteString(" ORDER BY embedding <=> $1 ASC LIMIT $")
	builder.WriteString(fmt.Sprint(argPos))
	args = append(args, topK)
	rows, err := p.pool.Query(ctx, builder.String(), args...)
	if err != nil {
		recordVectorError(ctx, "search", "query")
		return nil, core.NewBackendError("pgvector: search", err)
	}
	defer rows.Close()
	results := make([]Match, 0, topK)
	for rows.Next() {
		var (
			id          string
			document    string
			metadataRaw []byte
			score       float64
		)
		if err := rows.Scan(&id, &document, &metadataRaw, &score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		if opts.MinScore != nil && score < *opts.MinScore {
			continue
		}
		meta := make(map[string]any)
		if len(metadataRaw) > 0 {
			if unmarshalErr := json.Unmarshal(metadataRaw, &meta); unmarshalErr != nil {
				return nil, fmt.Errorf("pgvector: decode metadata: %w", unmarshalErr)
			}
		}
		results = append(results, Match{
			ID:       id,
			Score:    score,
			Text:     document,
			Metadata: meta,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewBackendError("pgvector: search rows", err)
	}
	recordVectorSearch(ctx, string(ProviderPGVector), topK, time.Since(start), len(results))
	return results, nil
}

func (p *pgStore) Delete(ctx context.Context, filter Filter) (int, error) {
	if len(filter.IDs) == 0 && len(filter.Metadata) == 0 {
		return 0, nil
	}
	// IDs and metadata form a union: a record matching either criterion goes.
	clauses := make([]string, 0, 2)
	args := make([]any, 0)
	argPos := 1
	if len(filter.IDs) > 0 {
		clauses = append(clauses, fmt.Sprintf("id = ANY($%d)", argPos))
		args = append(args, filter.IDs)
		argPos++
	}
	if len(filter.Metadata) > 0 {
		conds := make([]string, 0, len(filter.Metadata))
		for key, value := range filter.Metadata {
			conds = append(conds, fmt.Sprintf("metadata ->> $%d = $%d", argPos, argPos+1))
			args = append(args, key, value)
			argPos += 2
		}
		clauses = append(clauses, "("+strings.Join(conds, " AND ")+")")
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", p.tableIdent, strings.Join(clauses, " OR "))
	tag, err := p.pool.Exec(ctx, stmt, args...)
	if err != nil {
		recordVectorError(ctx, "delete", "exec")
		return 0, core.NewBackendError("pgvector: delete", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *pgStore) Dimension() int {
	return p.dimension
}

func (p *pgStore) Close(_ context.Context) error {
	untrackVectorPool(p.id)
	p.pool.Close()
	return nil
}
