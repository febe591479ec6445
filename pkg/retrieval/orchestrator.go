// Package retrieval runs the hybrid retrieval pipeline: it routes a query,
// searches every signal concurrently, fuses the ranked lists, annotates the
// fused memories with temporal, entity and confidence signals, optionally
// reranks them and returns the best few by final score.
//
// Retrieval never returns an error. A failure anywhere in the hybrid chain
// falls back to plain semantic search, and a failure of that too yields an
// empty response.
package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lorekeeper/recall/pkg/intelligence"
	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/query"
	"github.com/lorekeeper/recall/pkg/rerank"
	"github.com/lorekeeper/recall/pkg/search"
	"github.com/lorekeeper/recall/pkg/storage"
)

var tracer = otel.Tracer("github.com/lorekeeper/recall/pkg/retrieval")

// Branch names.
const (
	BranchSemantic = "semantic"
	BranchKeyword  = "keyword"
	BranchEntity   = "entity"
)

// Rewriter rewrites a query using the conversation.
type Rewriter interface {
	Rewrite(ctx context.Context, query string, history []memory.Turn) *query.Rewrite
}

// Router picks the strategy for a query.
type Router interface {
	Route(ctx context.Context, query string, history []memory.Turn) *query.Route
}

// SemanticSearcher is the vector branch. It never fails outright; a result
// with source search.SourceNone counts as a failed branch.
type SemanticSearcher interface {
	Search(ctx context.Context, userID, query string, n int) *search.SemanticResult
}

// KeywordSearcher is the lexical branch.
type KeywordSearcher interface {
	Search(ctx context.Context, userID, query string, n int) ([]search.Hit, error)
}

// EntitySearcher is the entity branch and the source of entity boosts.
type EntitySearcher interface {
	Search(ctx context.Context, userID string, names []string, n int) (*intelligence.EntitySearchResult, error)
	Boost(rec memory.Record, match intelligence.EntityMatch) float64
}

// ConfidenceScorer scores memories by the confidence of their entities.
type ConfidenceScorer interface {
	ScoreAll(ctx context.Context, records []memory.Record) map[string]intelligence.Confidence
}

// TemporalWeighter turns a memory's age into a weight.
type TemporalWeighter interface {
	Weight(createdAt time.Time, queryType memory.QueryType, policy intelligence.TemporalPolicy) float64
}

// Deps are the collaborators of an Orchestrator. Semantic and Memories are
// required; a nil Keyword, Entities or Confidence disables that signal, and
// the other fields get built-in defaults.
type Deps struct {
	Rewriter   Rewriter
	Router     Router
	Semantic   SemanticSearcher
	Keyword    KeywordSearcher
	Entities   EntitySearcher
	Confidence ConfidenceScorer
	Temporal   TemporalWeighter
	Reranker   rerank.Reranker
	Memories   storage.MemoryReader
}

// Config tunes the pipeline.
type Config struct {
	// BranchTimeout bounds each concurrent task. Defaults to 5s.
	BranchTimeout time.Duration

	// MaxConcurrency bounds the tasks run at once. Defaults to 4.
	MaxConcurrency int

	// RerankTopK is how many fused memories are reranked. Defaults to 20.
	RerankTopK int

	// OverFetch multiplies the limit to get the per-branch candidate
	// count, which is at least MinCandidates. Defaults to 3 and 20.
	OverFetch     int
	MinCandidates int
}

func (c Config) withDefaults() Config {
	if c.BranchTimeout <= 0 {
		c.BranchTimeout = 5 * time.Second
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.RerankTopK <= 0 {
		c.RerankTopK = rerank.DefaultTopK
	}
	if c.OverFetch <= 0 {
		c.OverFetch = 3
	}
	if c.MinCandidates <= 0 {
		c.MinCandidates = 20
	}
	return c
}

// BranchReport describes how one search branch ended.
type BranchReport struct {
	Name      string  `json:"name"`
	Outcome   Outcome `json:"outcome"`
	Count     int     `json:"count"`
	Source    string  `json:"source,omitempty"`
	Error     string  `json:"error,omitempty"`
	ElapsedMS int64   `json:"elapsed_ms"`
}

// Response is the result of one retrieval.
type Response struct {
	// Memories are ordered by final score, best first.
	Memories []memory.Scored `json:"memories"`

	Route    *query.Route   `json:"route,omitempty"`
	Rewrite  *query.Rewrite `json:"rewrite,omitempty"`
	Strategy Strategy       `json:"strategy"`
	Branches []BranchReport `json:"branches,omitempty"`

	// Fallback is true when the hybrid chain failed and the memories come
	// from plain semantic search.
	Fallback       bool   `json:"fallback"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	RequestID string `json:"request_id,omitempty"`
}

// Orchestrator runs retrievals. It holds no per-call state and is safe for
// concurrent use.
type Orchestrator struct {
	deps   Deps
	config Config
}

// New creates an orchestrator.
func New(deps Deps, config *Config) (*Orchestrator, error) {
	if deps.Semantic == nil {
		return nil, goerr.New("semantic searcher is required")
	}
	if deps.Memories == nil {
		return nil, goerr.New("memory reader is required")
	}
	if deps.Rewriter == nil {
		deps.Rewriter = query.NewQueryRewriter(nil, nil)
	}
	if deps.Router == nil {
		deps.Router = query.NewIntentRouter(nil)
	}
	if deps.Temporal == nil {
		deps.Temporal = intelligence.NewTemporalWeighter()
	}
	if deps.Reranker == nil {
		var now func() time.Time
		if tw, ok := deps.Temporal.(*intelligence.TemporalWeighter); ok {
			now = tw.Now
		}
		deps.Reranker = rerank.NewHeuristic(now)
	}

	var cfg Config
	if config != nil {
		cfg = *config
	}
	return &Orchestrator{deps: deps, config: cfg.withDefaults()}, nil
}

// Retrieve returns the user's most relevant memories for the query in
// opts. It never fails: on total failure the response has no memories.
func (o *Orchestrator) Retrieve(ctx context.Context, userID string, opts ...RetrieveOption) (resp *Response) {
	options := ApplyRetrieveOptions(opts...)

	logger := logging.From(ctx).With("user_id", userID)
	if options.RequestID != "" {
		logger = logger.With("request_id", options.RequestID)
	}
	ctx = logging.With(ctx, logger)

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Int("limit", options.Limit),
		attribute.String("strategy", string(options.Strategy)),
	))
	defer span.End()

	resp = &Response{
		Memories:  []memory.Scored{},
		Strategy:  options.Strategy,
		RequestID: options.RequestID,
	}

	defer func() {
		if p := recover(); p != nil {
			resp = o.fallback(ctx, userID, options, resp, goerr.New("retrieval panicked", goerr.V("panic", p)))
		}
	}()

	if query.Normalize(options.Query) == "" {
		o.recent(ctx, userID, options, resp)
		return resp
	}

	if err := o.hybrid(ctx, userID, options, resp); err != nil {
		return o.fallback(ctx, userID, options, resp, err)
	}

	span.SetAttributes(attribute.Int("results", len(resp.Memories)))
	return resp
}

func (o *Orchestrator) hybrid(ctx context.Context, userID string, options *RetrieveOptions, resp *Response) error {
	rw, route := o.route(ctx, options)
	resp.Rewrite, resp.Route = rw, route

	weights := route.Weights
	if options.Weights != nil {
		weights = *options.Weights
	}
	useRerank := route.UseReranking
	if options.Rerank != nil {
		useRerank = *options.Rerank
	}

	n := max(options.Limit*o.config.OverFetch, o.config.MinCandidates)
	fan := o.fanOut(ctx, userID, rw, weights, n)
	resp.Branches = fan.reports
	if fan.succeeded == 0 {
		return goerr.New("every search branch failed", goerr.V("branches", len(fan.reports)))
	}

	fused := o.fuse(ctx, fan.lists)
	if len(fused) == 0 {
		return nil
	}
	if len(fused) > n {
		fused = fused[:n]
	}

	annotated, err := o.hydrate(ctx, userID, fused, fan.similarity)
	if err != nil {
		return goerr.Wrap(err, "hydrate fused memories", goerr.V("count", len(fused)))
	}
	if err := o.annotate(ctx, annotated, fan.match, route.QueryType, options.Strategy.TemporalPolicy()); err != nil {
		return goerr.Wrap(err, "annotate memories")
	}

	annotated = o.rerank(ctx, rw.Normalized, annotated, useRerank)
	resp.Memories = o.score(ctx, annotated, options.Strategy, weights, options.Limit)
	return nil
}

// route runs the rewriter and the router side by side. A task that fails
// or times out is replaced by its neutral result.
func (o *Orchestrator) route(ctx context.Context, options *RetrieveOptions) (*query.Rewrite, *query.Route) {
	ctx, span := tracer.Start(ctx, "retrieval.Route")
	defer span.End()

	tg := NewTaskGroup(2, o.config.BranchTimeout)
	rwTask := Go(ctx, tg, "rewrite", func(ctx context.Context) (*query.Rewrite, error) {
		return o.deps.Rewriter.Rewrite(ctx, options.Query, options.History), nil
	})
	routeTask := Go(ctx, tg, "route", func(ctx context.Context) (*query.Route, error) {
		return o.deps.Router.Route(ctx, options.Query, options.History), nil
	})
	tg.Wait()

	rw := rwTask.Value
	if !rwTask.OK() || rw == nil {
		logging.From(ctx).Warn("query rewrite unavailable", "stage", "route", "query", options.Query,
			"outcome", rwTask.Outcome, "error", rwTask.Err)
		rw = query.Passthrough(options.Query)
	}
	route := routeTask.Value
	if !routeTask.OK() || route == nil {
		logging.From(ctx).Warn("intent routing unavailable", "stage", "route", "query", options.Query,
			"outcome", routeTask.Outcome, "error", routeTask.Err)
		route = query.DefaultRoute()
	}

	span.SetAttributes(
		attribute.String("query_type", string(route.QueryType)),
		attribute.String("method", route.Method),
		attribute.Int("entities", len(rw.Entities)),
	)
	return rw, route
}

type fanOutResult struct {
	// lists are the ranked candidates of each succeeded branch, in branch order.
	lists [][]memory.Candidate

	// similarity holds vector similarities by memory id.
	similarity map[string]float64

	match     intelligence.EntityMatch
	reports   []BranchReport
	succeeded int
}

// fanOut runs the search branches concurrently and joins them. Failed and
// timed out branches contribute an empty list.
func (o *Orchestrator) fanOut(ctx context.Context, userID string, rw *query.Rewrite, w memory.StrategyWeights, n int) *fanOutResult {
	ctx, span := tracer.Start(ctx, "retrieval.FanOutSearch")
	defer span.End()

	queries := rw.Queries()
	semanticText := queries[len(queries)-1]
	keywordText := strings.Join(queries, " ")

	tg := NewTaskGroup(o.config.MaxConcurrency, o.config.BranchTimeout)

	semantic := Go(ctx, tg, BranchSemantic, func(ctx context.Context) (*search.SemanticResult, error) {
		res := o.deps.Semantic.Search(ctx, userID, semanticText, n)
		if res == nil {
			return nil, goerr.New("semantic search returned no result")
		}
		if res.Source == search.SourceNone {
			return nil, goerr.Wrap(res.Err, "semantic and lexical search failed")
		}
		return res, nil
	})

	var keyword *Task[[]search.Hit]
	if w.Keyword > 0 && o.deps.Keyword != nil {
		keyword = Go(ctx, tg, BranchKeyword, func(ctx context.Context) ([]search.Hit, error) {
			return o.deps.Keyword.Search(ctx, userID, keywordText, n)
		})
	}

	var entity *Task[*intelligence.EntitySearchResult]
	if len(rw.Entities) > 0 && o.deps.Entities != nil {
		entity = Go(ctx, tg, BranchEntity, func(ctx context.Context) (*intelligence.EntitySearchResult, error) {
			return o.deps.Entities.Search(ctx, userID, rw.Entities, n)
		})
	}

	tg.Wait()

	out := &fanOutResult{
		similarity: make(map[string]float64),
		match:      intelligence.NewEntityMatch(rw.Entities, nil),
	}
	logger := logging.From(ctx)

	report := BranchReport{Name: semantic.Name, Outcome: semantic.Outcome, ElapsedMS: semantic.Elapsed.Milliseconds()}
	if semantic.OK() {
		res := semantic.Value
		report.Count, report.Source = len(res.Hits), res.Source
		for _, h := range res.Hits {
			if h.Scored {
				out.similarity[h.ID] = h.Score
			}
		}
		out.lists = append(out.lists, search.Candidates(res.Hits))
		out.succeeded++
	} else {
		report.Error = errString(semantic.Err)
		logger.Warn("search branch failed", "stage", "fan_out", "branch", semantic.Name,
			"query", semanticText, "outcome", semantic.Outcome, "error", semantic.Err)
	}
	out.reports = append(out.reports, report)

	if keyword == nil {
		out.reports = append(out.reports, BranchReport{Name: BranchKeyword, Outcome: Skipped})
	} else {
		report := BranchReport{Name: keyword.Name, Outcome: keyword.Outcome, ElapsedMS: keyword.Elapsed.Milliseconds()}
		if keyword.OK() {
			report.Count = len(keyword.Value)
			out.lists = append(out.lists, search.Candidates(keyword.Value))
			out.succeeded++
		} else {
			report.Error = errString(keyword.Err)
			logger.Warn("search branch failed", "stage", "fan_out", "branch", keyword.Name,
				"query", keywordText, "outcome", keyword.Outcome, "error", keyword.Err)
		}
		out.reports = append(out.reports, report)
	}

	if entity == nil {
		out.reports = append(out.reports, BranchReport{Name: BranchEntity, Outcome: Skipped})
	} else {
		report := BranchReport{Name: entity.Name, Outcome: entity.Outcome, ElapsedMS: entity.Elapsed.Milliseconds()}
		if entity.OK() && entity.Value != nil {
			out.match = entity.Value.Match
			hits := search.HitsFromMemories(entity.Value.Memories, true)
			report.Count = len(hits)
			out.lists = append(out.lists, search.Candidates(hits))
			out.succeeded++
		} else {
			report.Error = errString(entity.Err)
			logger.Warn("search branch failed", "stage", "fan_out", "branch", entity.Name,
				"entities", rw.Entities, "outcome", entity.Outcome, "error", entity.Err)
		}
		out.reports = append(out.reports, report)
	}

	span.SetAttributes(attribute.Int("succeeded", out.succeeded))
	return out
}

func (o *Orchestrator) fuse(ctx context.Context, lists [][]memory.Candidate) []memory.Fused {
	_, span := tracer.Start(ctx, "retrieval.Fuse")
	defer span.End()

	fused := search.Fuse(lists...)
	span.SetAttributes(attribute.Int("lists", len(lists)), attribute.Int("fused", len(fused)))
	return fused
}

// hydrate loads the fused memories in fused order. Ids the store no longer
// has are dropped.
func (o *Orchestrator) hydrate(ctx context.Context, userID string, fused []memory.Fused, similarity map[string]float64) ([]*memory.Annotated, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Hydrate")
	defer span.End()

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	rows, err := o.deps.Memories.GetMemories(ctx, userID, ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	byID := make(map[string]*storage.Memory, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}

	out := make([]*memory.Annotated, 0, len(fused))
	for i, f := range fused {
		row, ok := byID[f.ID]
		if !ok {
			continue
		}
		a := memory.NewAnnotated(row.Record())
		a.FusedScore, a.FusedOrder = f.Score, i
		if sim, ok := similarity[f.ID]; ok {
			a.Similarity = sim
		}
		out = append(out, a)
	}
	return out, nil
}

func (o *Orchestrator) annotate(ctx context.Context, annotated []*memory.Annotated, match intelligence.EntityMatch, qt memory.QueryType, policy intelligence.TemporalPolicy) error {
	ctx, span := tracer.Start(ctx, "retrieval.Annotate")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	var confidence map[string]intelligence.Confidence
	if o.deps.Confidence != nil {
		records := make([]memory.Record, len(annotated))
		for i, a := range annotated {
			records[i] = a.Record
		}
		confidence = o.deps.Confidence.ScoreAll(ctx, records)
	}

	for _, a := range annotated {
		a.TemporalWeight = o.deps.Temporal.Weight(a.CreatedAt, qt, policy)
		if o.deps.Entities != nil {
			a.EntityBoost = o.deps.Entities.Boost(a.Record, match)
		}
		if c, ok := confidence[a.ID]; ok {
			a.Confidence, a.ConfidenceMode = c.Value, c.Mode
		}
	}
	return ctx.Err()
}

// rerank reorders the head of the list, or marks every memory neutral when
// reranking is off or fails.
func (o *Orchestrator) rerank(ctx context.Context, text string, annotated []*memory.Annotated, enabled bool) []*memory.Annotated {
	if !enabled {
		_, span := tracer.Start(ctx, "retrieval.SkipRerank")
		rerank.Skip(annotated)
		span.End()
		return annotated
	}

	ctx, span := tracer.Start(ctx, "retrieval.Rerank")
	defer span.End()

	out, err := rerank.TopK(ctx, o.deps.Reranker, text, annotated, o.config.RerankTopK)
	if err != nil {
		logging.From(ctx).Warn("rerank failed", "stage", "rerank", "query", text, "error", err)
		span.SetStatus(codes.Error, err.Error())
		rerank.Skip(annotated)
		return annotated
	}
	return out
}

func (o *Orchestrator) score(ctx context.Context, annotated []*memory.Annotated, strategy Strategy, w memory.StrategyWeights, limit int) []memory.Scored {
	_, span := tracer.Start(ctx, "retrieval.ScoreSortTruncate")
	defer span.End()
	return Rank(annotated, strategy, w, limit)
}

// recent answers an empty query with the newest memories at neutral
// similarity.
func (o *Orchestrator) recent(ctx context.Context, userID string, options *RetrieveOptions, resp *Response) {
	ctx, span := tracer.Start(ctx, "retrieval.Recent")
	defer span.End()

	route := query.DefaultRoute()
	resp.Route = route
	weights := route.Weights
	if options.Weights != nil {
		weights = *options.Weights
	}

	rows, err := o.deps.Memories.ListMemories(ctx, userID, options.Limit)
	if err != nil {
		logging.From(ctx).Warn("listing recent memories failed", "stage", "recent", "error", err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	annotated := make([]*memory.Annotated, len(rows))
	for i, r := range rows {
		annotated[i] = memory.NewAnnotated(r.Record())
		annotated[i].FusedOrder = i
	}
	if err := o.annotate(ctx, annotated, intelligence.NewEntityMatch(nil, nil), route.QueryType, options.Strategy.TemporalPolicy()); err != nil {
		logging.From(ctx).Warn("annotating recent memories failed", "stage", "recent", "error", err)
		return
	}
	rerank.Skip(annotated)
	resp.Memories = Rank(annotated, options.Strategy, weights, options.Limit)
}

// fallback replaces the response memories with plain semantic search
// results. Its own failure leaves the response empty.
func (o *Orchestrator) fallback(ctx context.Context, userID string, options *RetrieveOptions, resp *Response, cause error) (out *Response) {
	ctx, span := tracer.Start(ctx, "retrieval.Fallback")
	defer span.End()
	span.RecordError(cause)

	logging.From(ctx).Warn("hybrid retrieval failed, falling back to semantic search",
		"stage", "fallback", "query", options.Query, "error", cause)

	resp.Fallback = true
	resp.FallbackReason = cause.Error()
	resp.Strategy = RankProduct
	resp.Memories = []memory.Scored{}

	defer func() {
		if p := recover(); p != nil {
			logging.From(ctx).Error("semantic fallback panicked", "stage", "fallback", "panic", p)
			resp.Memories = []memory.Scored{}
			out = resp
		}
	}()

	memories, err := o.Search(ctx, userID, options.Query, options.Limit)
	if err != nil {
		logging.From(ctx).Error("retrieval failed", "stage", "fallback", "query", options.Query, "error", err)
		span.SetStatus(codes.Error, err.Error())
		return resp
	}
	resp.Memories = memories
	return resp
}

// Search is plain semantic search ranked by the product strategy:
// similarity * recency * confidence.
func (o *Orchestrator) Search(ctx context.Context, userID, text string, limit int) ([]memory.Scored, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()

	if limit <= 0 {
		limit = DefaultLimit
	}
	res := o.deps.Semantic.Search(ctx, userID, text, limit)
	if res == nil {
		return nil, goerr.New("semantic search returned no result")
	}
	if res.Source == search.SourceNone {
		return nil, goerr.Wrap(res.Err, "semantic search failed", goerr.V("user_id", userID))
	}

	annotated := make([]*memory.Annotated, len(res.Hits))
	for i, h := range res.Hits {
		annotated[i] = memory.NewAnnotated(h.Record)
		annotated[i].FusedOrder = i
		if h.Scored {
			annotated[i].Similarity = h.Score
		}
	}
	o.refresh(ctx, userID, annotated)

	qt := query.Classify(text)
	if err := o.annotate(ctx, annotated, intelligence.NewEntityMatch(nil, nil), qt, intelligence.PolicyDecay); err != nil {
		return nil, goerr.Wrap(err, "annotate search results")
	}
	return Rank(annotated, RankProduct, memory.StrategyWeights{}, limit), nil
}

// refresh replaces hit records with the stored rows, which carry entity
// links an index may not. Failures keep the hit records.
func (o *Orchestrator) refresh(ctx context.Context, userID string, annotated []*memory.Annotated) {
	if len(annotated) == 0 {
		return
	}
	ids := make([]string, len(annotated))
	for i, a := range annotated {
		ids[i] = a.ID
	}
	rows, err := o.deps.Memories.GetMemories(ctx, userID, ids)
	if err != nil {
		logging.From(ctx).Debug("refreshing search hits failed", "error", err)
		return
	}
	byID := make(map[string]*storage.Memory, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	for _, a := range annotated {
		if row, ok := byID[a.ID]; ok {
			a.Record = row.Record()
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
