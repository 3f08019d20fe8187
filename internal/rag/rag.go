// Package rag defines the data model shared by the retrieval, reranking and
// synthesis stages of the paper question-answering pipeline.
package rag

import "errors"

// Sentinel errors surfaced by the pipeline. Stage failures are wrapped so
// callers can match them with errors.Is.
var (
	// ErrRetrieval is returned when embedding or vector search fails.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrSynthesis is returned when the generation call fails.
	ErrSynthesis = errors.New("answer synthesis failed")

	// ErrInvalidQuery is returned for empty or oversized query text.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrBatchTooLarge is returned when a batch exceeds MaxBatchSize.
	ErrBatchTooLarge = errors.New("batch too large")

	// ErrEmptyBatch is returned when a batch carries no queries.
	ErrEmptyBatch = errors.New("empty batch")
)

const (
	// MaxBatchSize bounds the number of queries accepted by one batch request.
	MaxBatchSize = 10

	// MaxFinalK bounds the caller-supplied final width of a query.
	MaxFinalK = 50

	// MaxQueryLength bounds the query text accepted by the pipeline, in runes.
	MaxQueryLength = 1000

	// NoResultsAnswer is returned verbatim when no candidate papers were found.
	NoResultsAnswer = "I couldn't find any relevant papers in the corpus to answer this question. Try rephrasing it or asking about a different topic."
)

// Paper is the bibliographic record attached to every indexed chunk.
type Paper struct {
	Title   string `json:"title"`
	Authors string `json:"authors"`
	Year    int    `json:"year"`
	Pages   int    `json:"pages,omitempty"`
	Link    string `json:"link"`
	Code    string `json:"code,omitempty"`
}

// Candidate is a retrieved chunk with its normalized similarity score.
// Score is 1 - cosine distance, clamped to [0, 1].
type Candidate struct {
	Paper       Paper   `json:"paper"`
	Score       float64 `json:"score"`
	MatchedText string  `json:"matched_text"`
}

// RankedCandidate is a Candidate after the precision stage. RerankScore is
// authoritative downstream; when reranking was skipped or failed it equals
// OriginalScore.
type RankedCandidate struct {
	Candidate
	RerankScore   float64 `json:"rerank_score"`
	OriginalScore float64 `json:"original_score"`
}

// SourceReference is the user-facing projection of a RankedCandidate.
type SourceReference struct {
	Title          string  `json:"title"`
	Authors        string  `json:"authors"`
	Year           int     `json:"year"`
	Link           string  `json:"link"`
	Pages          int     `json:"pages,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	Excerpt        string  `json:"excerpt,omitempty"`
}

// QueryMetadata carries timing and counts for one query. RerankTimeMs is
// non-nil only when a rerank call was actually attempted; Reranked reports
// whether that attempt produced the final ordering.
type QueryMetadata struct {
	QueryID          string `json:"query_id,omitempty"`
	RetrievalTimeMs  int64  `json:"retrieval_time_ms"`
	RerankTimeMs     *int64 `json:"rerank_time_ms,omitempty"`
	GenerationTimeMs int64  `json:"generation_time_ms"`
	TotalTimeMs      int64  `json:"total_time_ms"`
	CandidateCount   int    `json:"candidate_count"`
	FinalCount       int    `json:"final_count"`
	Reranked         bool   `json:"reranked"`
	ModelUsed        string `json:"model_used"`
	PromptTokens     *int   `json:"prompt_tokens,omitempty"`
}

// QueryResponse is built fresh for every query and owned by the caller.
type QueryResponse struct {
	Answer   string            `json:"answer"`
	Sources  []SourceReference `json:"sources"`
	Metadata QueryMetadata     `json:"metadata"`
}

// Fallback projects candidates onto RankedCandidates without rescoring: the
// first topK candidates in input order, with RerankScore = OriginalScore.
func Fallback(candidates []Candidate, topK int) []RankedCandidate {
	n := len(candidates)
	if topK >= 0 && topK < n {
		n = topK
	}
	ranked := make([]RankedCandidate, n)
	for i := 0; i < n; i++ {
		ranked[i] = RankedCandidate{
			Candidate:     candidates[i],
			RerankScore:   candidates[i].Score,
			OriginalScore: candidates[i].Score,
		}
	}
	return ranked
}
