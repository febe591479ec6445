package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/lorekeeper/recall/pkg/llm"
	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
)

const rerankPrompt = `You rank personal memories by how useful they are for answering a query.

Query: %s

Memories:
%s
Score every memory from 0.0 (irrelevant) to 1.0 (directly answers the query).
Return JSON: {"scores": [{"index": 0, "score": 0.8}, ...]}`

// maxMemoryChars bounds the text of each memory sent to the model.
const maxMemoryChars = 400

// LLM asks a chat model to score memories. Any failure, including output
// that is not the expected JSON, hands the batch to the fallback reranker.
type LLM struct {
	provider llm.Provider
	fallback Reranker
}

// NewLLM creates an LLM reranker. A nil fallback uses a Heuristic.
func NewLLM(provider llm.Provider, fallback Reranker) *LLM {
	if fallback == nil {
		fallback = NewHeuristic(nil)
	}
	return &LLM{provider: provider, fallback: fallback}
}

// Rerank scores memories with the model. Memories the model leaves out keep
// the neutral score.
func (r *LLM) Rerank(ctx context.Context, query string, memories []*memory.Annotated) ([]*memory.Annotated, error) {
	if len(memories) == 0 {
		return memories, nil
	}

	scores, err := r.score(ctx, query, memories)
	if err != nil {
		logging.From(ctx).Warn("llm rerank failed, using fallback", "error", err, "count", len(memories))
		return r.fallback.Rerank(ctx, query, memories)
	}

	for i, m := range memories {
		if s, ok := scores[i]; ok {
			m.RerankScore = clamp01(s)
		} else {
			m.RerankScore = memory.DefaultRerankScore
		}
	}
	return sortByRerank(memories), nil
}

func (r *LLM) score(ctx context.Context, query string, memories []*memory.Annotated) (map[int]float64, error) {
	if r.provider == nil {
		return nil, goerr.New("no llm provider")
	}

	var b strings.Builder
	for i, m := range memories {
		content := m.Content
		if len([]rune(content)) > maxMemoryChars {
			content = string([]rune(content)[:maxMemoryChars]) + "..."
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i, m.CreatedAt.Format("2006-01-02"), content)
	}

	messages := []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf(rerankPrompt, query, b.String())},
	}
	response, err := r.provider.GenerateWithMessages(ctx, messages,
		llm.WithTemperature(0), llm.WithMaxTokens(40+16*len(memories)), llm.WithJSON())
	if err != nil {
		return nil, goerr.Wrap(err, "generate rerank scores")
	}
	return parseScores(response, len(memories))
}

type scoresResponse struct {
	Scores []struct {
		Index *int     `json:"index"`
		Score *float64 `json:"score"`
	} `json:"scores"`
}

// parseScores reads {"scores": [{"index": i, "score": s}]}. Out of range or
// incomplete entries make the whole response invalid.
func parseScores(response string, n int) (map[int]float64, error) {
	response = removeCodeBlocks(response)

	var parsed scoresResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, goerr.Wrap(err, "invalid rerank response", goerr.V("response", response))
	}
	if len(parsed.Scores) == 0 {
		return nil, goerr.New("rerank response has no scores", goerr.V("response", response))
	}

	scores := make(map[int]float64, len(parsed.Scores))
	for _, s := range parsed.Scores {
		if s.Index == nil || s.Score == nil {
			return nil, goerr.New("rerank score entry is incomplete")
		}
		if *s.Index < 0 || *s.Index >= n {
			return nil, goerr.New("rerank index out of range", goerr.V("index", *s.Index), goerr.V("count", n))
		}
		scores[*s.Index] = *s.Score
	}
	return scores, nil
}

func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
