package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorekeeper/recall/pkg/core"
	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
	"github.com/lorekeeper/recall/pkg/retrieval"
	"github.com/lorekeeper/recall/pkg/server"
)

type fakeRetriever struct {
	retrieveUser string
	retrieveOpts *retrieval.RetrieveOptions
	searchOpts   core.SearchOptions
	searchErr    error
	memories     []memory.Scored
}

func (f *fakeRetriever) Retrieve(ctx context.Context, userID string, opts ...core.RetrieveOption) *core.MemoryContext {
	f.retrieveUser = userID
	f.retrieveOpts = retrieval.ApplyRetrieveOptions(opts...)
	return &core.MemoryContext{UserID: userID, Query: f.retrieveOpts.Query, Memories: f.memories, RequestID: "req-1"}
}

func (f *fakeRetriever) Search(ctx context.Context, userID, query string, opts ...core.SearchOption) ([]memory.Scored, error) {
	for _, opt := range opts {
		opt(&f.searchOpts)
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.memories, nil
}

func scored(id string, score float64) memory.Scored {
	s := memory.Scored{FinalScore: score}
	s.ID = id
	s.UserID = "u1"
	return s
}

func newTestServer(f *fakeRetriever) http.Handler {
	gin.SetMode(gin.TestMode)
	return server.New(f, logging.Discard()).Handler()
}

func do(t *testing.T, h http.Handler, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w, out
}

func TestHealth(t *testing.T) {
	w, out := do(t, newTestServer(&fakeRetriever{}), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestRetrieve(t *testing.T) {
	f := &fakeRetriever{memories: []memory.Scored{scored("m1", 0.9), scored("m2", 0.4)}}
	rerank := false
	w, out := do(t, newTestServer(f), http.MethodPost, "/api/retrieve", server.RetrieveRequest{
		UserID:   "u1",
		Query:    "where did I go hiking?",
		History:  []memory.Turn{{Role: "user", Content: "I went hiking with Ana"}},
		Limit:    3,
		Strategy: "product",
		Weights:  &memory.StrategyWeights{Semantic: 1},
		Rerank:   &rerank,
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, float64(2), out["count"])

	assert.Equal(t, "u1", f.retrieveUser)
	opts := f.retrieveOpts
	assert.Equal(t, "where did I go hiking?", opts.Query)
	assert.Len(t, opts.History, 1)
	assert.Equal(t, 3, opts.Limit)
	assert.Equal(t, retrieval.RankProduct, opts.Strategy)
	require.NotNil(t, opts.Weights)
	assert.Equal(t, 1.0, opts.Weights.Semantic)
	require.NotNil(t, opts.Rerank)
	assert.False(t, *opts.Rerank)

	data := out["data"].(map[string]any)
	assert.Equal(t, "req-1", data["request_id"])
}

func TestRetrieveRequiresUserID(t *testing.T) {
	f := &fakeRetriever{}
	w, out := do(t, newTestServer(f), http.MethodPost, "/api/retrieve", server.RetrieveRequest{Query: "hiking"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, out["success"])
	assert.Empty(t, f.retrieveUser)
}

func TestRetrieveRejectsBadBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/retrieve", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newTestServer(&fakeRetriever{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearch(t *testing.T) {
	f := &fakeRetriever{memories: []memory.Scored{scored("m1", 0.7)}}
	w, out := do(t, newTestServer(f), http.MethodGet, "/api/search?user_id=u1&q=hiking&limit=4&min_score=0.2", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), out["count"])
	assert.Equal(t, "hiking", out["query"])
	assert.Equal(t, 4, f.searchOpts.Limit)
	assert.Equal(t, 0.2, f.searchOpts.MinScore)
}

func TestSearchValidation(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{name: "missing user", target: "/api/search?q=hiking"},
		{name: "missing query", target: "/api/search?user_id=u1"},
		{name: "bad limit", target: "/api/search?user_id=u1&q=hiking&limit=zero"},
		{name: "bad min score", target: "/api/search?user_id=u1&q=hiking&min_score=high"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := do(t, newTestServer(&fakeRetriever{}), http.MethodGet, tt.target, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: fmt.Errorf("%w: bad", core.ErrInvalidInput), want: http.StatusBadRequest},
		{err: errors.New("database is locked"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w, out := do(t, newTestServer(&fakeRetriever{searchErr: tt.err}), http.MethodGet, "/api/search?user_id=u1&q=hiking", nil)
		assert.Equal(t, tt.want, w.Code)
		assert.Equal(t, false, out["success"])
	}
}
