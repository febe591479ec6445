// Package search produces the ranked candidate lists that feed fusion:
// vector similarity with a lexical fallback, and BM25 keyword search.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/lorekeeper/recall/pkg/embedder"
	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/storage"
)

// DefaultSimilarityThreshold is the minimum cosine similarity of a vector hit.
const DefaultSimilarityThreshold = 0.7

// Result sources.
const (
	SourceVector  = "vector"
	SourceLexical = "lexical_fallback"

	// SourceNone means both the vector and the lexical path failed.
	SourceNone = "none"
)

// Hit is one ranked search result.
type Hit struct {
	ID     string
	Record memory.Record

	// Score is the branch's own score: similarity for vector hits, BM25 for
	// keyword hits, link count for entity hits.
	Score float64

	// Scored is false when the branch could not score the hit, as with
	// lexical fallback matches.
	Scored bool
}

// HitsFromMemories converts store rows, keeping their order and scores.
func HitsFromMemories(memories []*storage.Memory, scored bool) []Hit {
	hits := make([]Hit, 0, len(memories))
	for _, m := range memories {
		hits = append(hits, Hit{ID: m.ID, Record: m.Record(), Score: m.Score, Scored: scored})
	}
	return hits
}

// Candidates turns hits into a ranked candidate list.
func Candidates(hits []Hit) []memory.Candidate {
	out := make([]memory.Candidate, len(hits))
	for i, h := range hits {
		out[i] = memory.Candidate{ID: h.ID, Rank: i}
	}
	return out
}

// SemanticResult is the outcome of a semantic search.
type SemanticResult struct {
	Hits []Hit

	// Source is SourceVector, SourceLexical when the vector path failed,
	// or SourceNone when the fallback failed too.
	Source string

	// Err is the error that caused the fallback, for diagnostics only.
	Err error
}

// SemanticSearcher embeds the query and searches the vector index. When
// embedding or the index fails it answers from a substring match instead;
// the failure is never returned to the caller.
type SemanticSearcher struct {
	embedder  embedder.Provider
	index     storage.VectorIndex
	lexical   storage.ContentSearcher
	threshold float64
}

// NewSemanticSearcher creates a searcher. threshold <= 0 uses
// DefaultSimilarityThreshold.
func NewSemanticSearcher(emb embedder.Provider, index storage.VectorIndex, lexical storage.ContentSearcher, threshold float64) *SemanticSearcher {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &SemanticSearcher{embedder: emb, index: index, lexical: lexical, threshold: threshold}
}

// Search returns up to n hits ordered by similarity.
func (s *SemanticSearcher) Search(ctx context.Context, userID, query string, n int) *SemanticResult {
	if n <= 0 {
		return &SemanticResult{Source: SourceVector}
	}

	hits, err := s.vectorSearch(ctx, userID, query, n)
	if err == nil {
		return &SemanticResult{Hits: hits, Source: SourceVector}
	}

	logging.From(ctx).Warn("vector search failed, using lexical fallback",
		"user_id", userID, "query", query, "error", err)
	return s.fallback(ctx, userID, query, n, err)
}

func (s *SemanticSearcher) vectorSearch(ctx context.Context, userID, query string, n int) (hits []Hit, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("vector search panicked: %v", p)
		}
	}()

	if s.embedder == nil || s.index == nil {
		return nil, errors.New("vector search unavailable")
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	memories, err := s.index.SearchVectors(ctx, userID, vec, &storage.SearchOptions{Limit: n, Threshold: s.threshold})
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}
	if len(memories) > n {
		memories = memories[:n]
	}
	return HitsFromMemories(memories, true), nil
}

// Lexical runs the substring match used as fallback.
func (s *SemanticSearcher) Lexical(ctx context.Context, userID, query string, n int) ([]Hit, error) {
	if s.lexical == nil {
		return nil, errors.New("lexical search unavailable")
	}
	memories, err := s.lexical.SearchContent(ctx, userID, query, n)
	if err != nil {
		return nil, err
	}
	if len(memories) > n {
		memories = memories[:n]
	}
	return HitsFromMemories(memories, false), nil
}

func (s *SemanticSearcher) fallback(ctx context.Context, userID, query string, n int, cause error) *SemanticResult {
	hits, err := s.Lexical(ctx, userID, query, n)
	if err != nil {
		logging.From(ctx).Warn("lexical fallback failed", "user_id", userID, "query", query, "error", err)
		return &SemanticResult{Source: SourceNone, Err: errors.Join(cause, err)}
	}
	return &SemanticResult{Hits: hits, Source: SourceLexical, Err: cause}
}
