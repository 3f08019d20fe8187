// Package repository defines the persisted query analytics model and its
// data access interface.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/knoguchi/paperqa/internal/rag"
)

// QueryLog is one completed query's metrics. Answers are never stored.
type QueryLog struct {
	ID               uuid.UUID `json:"id"`
	QueryID          string    `json:"query_id"`
	Query            string    `json:"query"`
	Reranked         bool      `json:"reranked"`
	CandidateCount   int       `json:"candidate_count"`
	FinalCount       int       `json:"final_count"`
	RetrievalTimeMs  int64     `json:"retrieval_time_ms"`
	RerankTimeMs     *int64    `json:"rerank_time_ms,omitempty"`
	GenerationTimeMs int64     `json:"generation_time_ms"`
	TotalTimeMs      int64     `json:"total_time_ms"`
	ModelUsed        string    `json:"model_used"`
	CreatedAt        time.Time `json:"created_at"`
}

// QueryLogRepository defines operations for query log persistence
type QueryLogRepository interface {
	Record(ctx context.Context, entry *QueryLog) error
	Recent(ctx context.Context, limit int) ([]*QueryLog, error)
}

// NewQueryLog builds a log entry from a finished response.
func NewQueryLog(query string, resp *rag.QueryResponse) *QueryLog {
	md := resp.Metadata
	return &QueryLog{
		ID:               uuid.New(),
		QueryID:          md.QueryID,
		Query:            query,
		Reranked:         md.Reranked,
		CandidateCount:   md.CandidateCount,
		FinalCount:       md.FinalCount,
		RetrievalTimeMs:  md.RetrievalTimeMs,
		RerankTimeMs:     md.RerankTimeMs,
		GenerationTimeMs: md.GenerationTimeMs,
		TotalTimeMs:      md.TotalTimeMs,
		ModelUsed:        md.ModelUsed,
		CreatedAt:        time.Now().UTC(),
	}
}
