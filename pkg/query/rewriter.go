// Package query turns a raw conversational query into search inputs: a
// rewritten query with its entities, and a routing decision that picks the
// per-signal weights for the rest of the pipeline.
package query

import (
	"context"
	"strings"
	"time"

	"github.com/lorekeeper/recall/pkg/llm"
	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
)

// Rewrite is the result of rewriting a query.
type Rewrite struct {
	// Original is the query as received.
	Original string `json:"original"`

	// Normalized is the query with whitespace collapsed and trailing
	// punctuation removed.
	Normalized string `json:"normalized"`

	// Expanded holds alternative phrasings, such as pronouns resolved
	// against the conversation or an LLM rewrite.
	Expanded []string `json:"expanded,omitempty"`

	// Entities are the entity names the query refers to.
	Entities []string `json:"entities,omitempty"`

	// IntentHint is the query type suggested by the query's wording.
	IntentHint memory.QueryType `json:"intent_hint,omitempty"`

	// IsRewritten is true when an LLM produced a different phrasing.
	IsRewritten bool `json:"is_rewritten"`

	// Error holds the LLM error, if the LLM step failed.
	Error *string `json:"error,omitempty"`

	// Metadata contains timing and diagnostic values.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Queries returns the normalized query followed by its expansions.
func (r *Rewrite) Queries() []string {
	out := []string{r.Normalized}
	for _, e := range r.Expanded {
		if e != "" && e != r.Normalized {
			out = append(out, e)
		}
	}
	return out
}

// Config contains configuration for query rewriting.
type Config struct {
	// HistoryWindow is how many recent turns are considered. Defaults to 6.
	HistoryWindow int

	// UseLLM enables LLM rewriting when a provider is available.
	UseLLM bool

	// CustomInstructions replaces the default LLM rewrite instructions.
	CustomInstructions string

	// LLMTimeout bounds the LLM call. Zero means no extra bound.
	LLMTimeout time.Duration
}

// QueryRewriter rewrites queries using the recent conversation.
type QueryRewriter struct {
	llm    llm.Provider
	config *Config
}

// NewQueryRewriter creates a rewriter. provider may be nil.
func NewQueryRewriter(provider llm.Provider, config *Config) *QueryRewriter {
	if config == nil {
		config = &Config{}
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = 6
	}
	return &QueryRewriter{llm: provider, config: config}
}

// Rewrite never fails: on any internal error it returns the original query
// with no entities.
func (r *QueryRewriter) Rewrite(ctx context.Context, query string, history []memory.Turn) (result *Rewrite) {
	defer func() {
		if p := recover(); p != nil {
			logging.From(ctx).Warn("query rewrite panicked", "panic", p)
			result = Passthrough(query)
		}
	}()

	startTime := time.Now()
	result = Passthrough(query)
	if result.Normalized == "" {
		return result
	}

	window := recent(history, r.config.HistoryWindow)
	result.Entities = ExtractEntities(result.Normalized)
	result.IntentHint = Classify(result.Normalized)

	if HasPronoun(result.Normalized) {
		if name := lastMentioned(window); name != "" {
			result.Expanded = append(result.Expanded, ReplaceFirstPronoun(result.Normalized, name))
			result.Entities = appendUnique(result.Entities, name)
		}
	}

	if r.config.UseLLM && r.llm != nil && len(result.Normalized) >= 3 {
		r.expandWithLLM(ctx, result, window)
	}

	result.Metadata["rewrite_time_seconds"] = time.Since(startTime).Seconds()
	return result
}

func (r *QueryRewriter) expandWithLLM(ctx context.Context, result *Rewrite, window []memory.Turn) {
	if r.config.LLMTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.LLMTimeout)
		defer cancel()
	}

	prompt := buildRewritePrompt(window, result.Normalized, r.config.CustomInstructions)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a helpful query rewriting assistant."},
		{Role: llm.RoleUser, Content: prompt},
	}

	response, err := r.llm.GenerateWithMessages(ctx, messages, llm.WithTemperature(0), llm.WithMaxTokens(200))
	result.Metadata["llm_used"] = true
	if err != nil {
		msg := err.Error()
		result.Error = &msg
		logging.From(ctx).Debug("llm query rewrite failed", "error", err)
		return
	}

	rewritten := Normalize(strings.Trim(strings.TrimSpace(response), `"`))
	if rewritten == "" || strings.EqualFold(rewritten, result.Normalized) {
		return
	}
	result.IsRewritten = true
	result.Expanded = appendUnique(result.Expanded, rewritten)
	for _, e := range ExtractEntities(rewritten) {
		result.Entities = appendUnique(result.Entities, e)
	}
}

// Passthrough is the rewrite used when rewriting is unavailable: the
// normalized query with no entities and no expansions.
func Passthrough(query string) *Rewrite {
	return &Rewrite{
		Original:   query,
		Normalized: Normalize(query),
		Entities:   []string{},
		IntentHint: memory.QueryDefault,
		Metadata:   make(map[string]interface{}),
	}
}

func recent(history []memory.Turn, n int) []memory.Turn {
	if len(history) > n {
		return history[len(history)-n:]
	}
	return history
}

// lastMentioned returns the last entity named in the conversation.
func lastMentioned(window []memory.Turn) string {
	for i := len(window) - 1; i >= 0; i-- {
		if entities := extractEntities(window[i].Content, true); len(entities) > 0 {
			return entities[len(entities)-1]
		}
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if strings.EqualFold(existing, v) {
			return list
		}
	}
	return append(list, v)
}
