package search

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/lorekeeper/recall/pkg/storage"
)

// stopwords are dropped by Tokenize.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be but by did do does for from had has have he her him his
i if in into is it its me my no not of on or our she so than that the their them then there these they this
to too up was we were what when where which who whom why will with would you your about how just can`) {
		stopwords[w] = struct{}{}
	}
}

// Tokenize lowercases text, splits on non-alphanumerics and drops
// stopwords and single characters.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// KeywordSearcher ranks a user's memories by Okapi BM25.
type KeywordSearcher struct {
	corpus      storage.MemoryReader
	corpusLimit int
	k1          float64
	b           float64
}

// NewKeywordSearcher creates a searcher over at most corpusLimit of the
// user's most recent memories (<= 0 means 500).
func NewKeywordSearcher(corpus storage.MemoryReader, corpusLimit int) *KeywordSearcher {
	if corpusLimit <= 0 {
		corpusLimit = 500
	}
	return &KeywordSearcher{corpus: corpus, corpusLimit: corpusLimit, k1: 1.2, b: 0.75}
}

type document struct {
	hit    Hit
	tf     map[string]int
	length int
}

// Search returns up to n memories with a positive BM25 score, best first.
// Equal scores rank newer memories first, then by id.
func (k *KeywordSearcher) Search(ctx context.Context, userID, query string, n int) ([]Hit, error) {
	terms := distinctTerms(Tokenize(query))
	if len(terms) == 0 || n <= 0 {
		return nil, nil
	}

	memories, err := k.corpus.ListMemories(ctx, userID, k.corpusLimit)
	if err != nil {
		return nil, fmt.Errorf("load keyword corpus: %w", err)
	}
	if len(memories) == 0 {
		return nil, nil
	}

	docs := make([]document, 0, len(memories))
	df := make(map[string]int, len(terms))
	var totalLen int
	for _, m := range memories {
		tokens := Tokenize(m.Content)
		tf := make(map[string]int)
		for _, t := range tokens {
			tf[t]++
		}
		for _, term := range terms {
			if tf[term] > 0 {
				df[term]++
			}
		}
		totalLen += len(tokens)
		docs = append(docs, document{
			hit:    Hit{ID: m.ID, Record: m.Record(), Scored: true},
			tf:     tf,
			length: len(tokens),
		})
	}

	avgLen := float64(totalLen) / float64(len(docs))
	if avgLen == 0 {
		avgLen = 1
	}
	total := float64(len(docs))

	var hits []Hit
	for _, d := range docs {
		var score float64
		for _, term := range terms {
			f := float64(d.tf[term])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (total-float64(df[term])+0.5)/(float64(df[term])+0.5))
			norm := f + k.k1*(1-k.b+k.b*float64(d.length)/avgLen)
			score += idf * f * (k.k1 + 1) / norm
		}
		if score > 0 {
			d.hit.Score = score
			hits = append(hits, d.hit)
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if !hits[i].Record.CreatedAt.Equal(hits[j].Record.CreatedAt) {
			return hits[i].Record.CreatedAt.After(hits[j].Record.CreatedAt)
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > n {
		hits = hits[:n]
	}
	return hits, nil
}

func distinctTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
