package postgres

import (
	"context"
	"fmt"

	"github.com/knoguchi/paperqa/internal/rag"
	"github.com/knoguchi/paperqa/internal/repository"
)

const (
	// DefaultRecentLimit is used when Recent is called with a non-positive limit.
	DefaultRecentLimit = 20

	// MaxRecentLimit caps Recent.
	MaxRecentLimit = 200
)

const createQueryLogTable = `
	CREATE TABLE IF NOT EXISTS query_log (
		id                 UUID PRIMARY KEY,
		query_id           TEXT NOT NULL,
		query              TEXT NOT NULL,
		reranked           BOOLEAN NOT NULL,
		candidate_count    INTEGER NOT NULL,
		final_count        INTEGER NOT NULL,
		retrieval_ms       BIGINT NOT NULL,
		rerank_ms          BIGINT,
		generation_ms      BIGINT NOT NULL,
		total_ms           BIGINT NOT NULL,
		model              TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS query_log_created_at_idx ON query_log (created_at DESC);
`

// QueryLogRepo implements repository.QueryLogRepository
type QueryLogRepo struct {
	db *DB
}

// NewQueryLogRepo creates a new query log repository
func NewQueryLogRepo(db *DB) *QueryLogRepo {
	return &QueryLogRepo{db: db}
}

// EnsureSchema creates the query_log table if it does not exist.
func (r *QueryLogRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, createQueryLogTable); err != nil {
		return fmt.Errorf("failed to create query_log table: %w", err)
	}
	return nil
}

// Record inserts one query log entry
func (r *QueryLogRepo) Record(ctx context.Context, entry *repository.QueryLog) error {
	query := `
		INSERT INTO query_log (id, query_id, query, reranked, candidate_count, final_count,
			retrieval_ms, rerank_ms, generation_ms, total_ms, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID, entry.QueryID, entry.Query, entry.Reranked, entry.CandidateCount, entry.FinalCount,
		entry.RetrievalTimeMs, entry.RerankTimeMs, entry.GenerationTimeMs, entry.TotalTimeMs,
		entry.ModelUsed, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

// RecordQuery logs a finished pipeline response.
func (r *QueryLogRepo) RecordQuery(ctx context.Context, query string, resp *rag.QueryResponse) error {
	return r.Record(ctx, repository.NewQueryLog(query, resp))
}

// Recent lists the latest entries, newest first
func (r *QueryLogRepo) Recent(ctx context.Context, limit int) ([]*repository.QueryLog, error) {
	query := `
		SELECT id, query_id, query, reranked, candidate_count, final_count,
			retrieval_ms, rerank_ms, generation_ms, total_ms, model, created_at
		FROM query_log
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}
	defer rows.Close()

	entries := []*repository.QueryLog{}
	for rows.Next() {
		var e repository.QueryLog
		if err := rows.Scan(&e.ID, &e.QueryID, &e.Query, &e.Reranked, &e.CandidateCount, &e.FinalCount,
			&e.RetrievalTimeMs, &e.RerankTimeMs, &e.GenerationTimeMs, &e.TotalTimeMs,
			&e.ModelUsed, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan query log: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}

	return entries, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

var _ repository.QueryLogRepository = (*QueryLogRepo)(nil)
