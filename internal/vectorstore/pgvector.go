package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// filterable columns of the chunk table
var pgColumns = map[string]bool{
	fieldTitle:   true,
	fieldAuthors: true,
	fieldYear:    true,
	fieldLink:    true,
	fieldCode:    true,
}

// PGVectorConnector connects to a PostgreSQL table with a pgvector column.
//
// Expected schema:
//
//	CREATE TABLE paper_chunks (
//	    id        uuid PRIMARY KEY,
//	    title     text NOT NULL,
//	    authors   text NOT NULL,
//	    year      int  NOT NULL,
//	    pages     int  NOT NULL DEFAULT 0,
//	    link      text NOT NULL,
//	    code      text NOT NULL DEFAULT '',
//	    content   text NOT NULL,
//	    embedding vector(768) NOT NULL
//	);
type PGVectorConnector struct {
	databaseURL string
	table       string
}

// NewPGVectorConnector creates a connector for the given table.
func NewPGVectorConnector(databaseURL, table string) *PGVectorConnector {
	return &PGVectorConnector{databaseURL: databaseURL, table: table}
}

// Connect opens a pool and verifies connectivity.
func (c *PGVectorConnector) Connect(ctx context.Context) (Index, error) {
	if !identPattern.MatchString(c.table) {
		return nil, fmt.Errorf("invalid table name %q", c.table)
	}

	config, err := pgxpool.ParseConfig(c.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	// fails on databases without the vector extension
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PGVectorIndex{pool: pool, table: c.table}, nil
}

// PGVectorIndex implements Index with the pgvector cosine distance operator.
type PGVectorIndex struct {
	pool  *pgxpool.Pool
	table string
}

// Close closes the connection pool
func (s *PGVectorIndex) Close() error {
	s.pool.Close()
	return nil
}

// Search performs similarity search ordered by cosine distance.
func (s *PGVectorIndex) Search(ctx context.Context, vector []float32, k int, filter Filter) ([]Hit, error) {
	query, args, err := buildPGSearch(s.table, vector, k, filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.Paper.Title, &h.Paper.Authors, &h.Paper.Year, &h.Paper.Pages,
			&h.Paper.Link, &h.Paper.Code, &h.Text, &h.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read hits: %w", err)
	}

	return hits, nil
}

func buildPGSearch(table string, vector []float32, k int, filter Filter) (string, []any, error) {
	args := []any{pgvector.NewVector(vector)}

	var where []string
	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !pgColumns[key] {
			return "", nil, fmt.Errorf("unsupported filter field %q", key)
		}
		args = append(args, filter[key])
		where = append(where, fmt.Sprintf("%s = $%d", key, len(args)))
	}

	var sb strings.Builder
	sb.WriteString("SELECT title, authors, year, pages, link, code, content, embedding <=> $1::vector AS distance FROM ")
	sb.WriteString(table)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, k)
	sb.WriteString(fmt.Sprintf(" ORDER BY distance LIMIT $%d", len(args)))

	return sb.String(), args, nil
}

var (
	_ Index     = (*PGVectorIndex)(nil)
	_ Connector = (*PGVectorConnector)(nil)
)
